package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/intlpay/payportal/internal/approval"
	"github.com/intlpay/payportal/internal/atrest"
	"github.com/intlpay/payportal/internal/auth"
	"github.com/intlpay/payportal/internal/beneficiary"
	"github.com/intlpay/payportal/internal/config"
	"github.com/intlpay/payportal/internal/identity"
	"github.com/intlpay/payportal/internal/middleware"
	"github.com/intlpay/payportal/internal/notification"
	"github.com/intlpay/payportal/internal/payments"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Codec    *atrest.Codec
	Notifier notification.Notifier
	Network  payments.Network
	Logger   *slog.Logger
}

// Services are the domain services built by Setup, exposed for background jobs.
type Services struct {
	Actors        identity.Repository
	Identity      *identity.Service
	Gate          *approval.Gate
	Beneficiaries *beneficiary.Service
	Payments      *payments.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Codec == nil {
		return nil, fmt.Errorf("at-rest codec is required")
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLoggerNotifier(d.Logger)
	}

	svc := BuildServices(d)

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.AccessLog(d.Logger))

	RegisterHealthRoutes(app, d)

	tokens := auth.NewTokens(d.Cfg.JWTSecret, d.Cfg.JWTIssuer)
	api := app.Group("/api/v1", middleware.Authenticate(tokens, svc.Actors))
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	paymentHandler := payments.NewHandler(svc.Payments)
	RegisterPaymentRoutes(api, paymentHandler, d)
	RegisterBeneficiaryRoutes(api, beneficiary.NewHandler(svc.Beneficiaries))
	RegisterStaffRoutes(api, paymentHandler)
	RegisterAdminRoutes(api, identity.NewHandler(svc.Identity), approval.NewHandler(svc.Gate), paymentHandler)

	return svc, nil
}

// BuildServices constructs the domain services over Postgres, or over
// in-memory stores when no database is configured.
func BuildServices(d Deps) *Services {
	var (
		actors      identity.Repository
		payeeRepo   beneficiary.Repository
		paymentRepo payments.Repository
	)
	if d.DB != nil {
		actors = identity.NewPostgresRepository(d.DB)
		payeeRepo = beneficiary.NewPostgresRepository(d.DB)
		paymentRepo = payments.NewPostgresRepository(d.DB)
	} else {
		actors = identity.NewMemoryRepository()
		payeeRepo = beneficiary.NewMemoryRepository()
		paymentRepo = payments.NewMemoryRepository(actors)
	}

	var gateOpts []approval.Option
	if d.Cache != nil {
		gateOpts = append(gateOpts, approval.WithLimiter(approval.NewRedisLimiter(d.Cache, d.Cfg.PINMaxAttempts, d.Cfg.PINLockout)))
	}
	gate := approval.NewGate(actors, d.Logger, gateOpts...)
	payees := beneficiary.NewService(payeeRepo, d.Codec, d.Cfg.DefaultProvider, d.Logger)

	return &Services{
		Actors:        actors,
		Identity:      identity.NewService(actors),
		Gate:          gate,
		Beneficiaries: payees,
		Payments: payments.NewService(payments.ServiceDeps{
			Repo:          paymentRepo,
			Cipher:        d.Codec,
			Gate:          gate,
			Owners:        actors,
			Beneficiaries: payees,
			Network:       d.Network,
			Notifier:      d.Notifier,
			Policy: payments.Policy{
				MaxAmount:       d.Cfg.MaxPaymentAmount,
				Currencies:      d.Cfg.AllowedCurrencies,
				DefaultProvider: d.Cfg.DefaultProvider,
				AuthWindow:      d.Cfg.AuthWindow,
			},
			Logger: d.Logger,
		}),
	}
}
