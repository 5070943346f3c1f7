package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/intlpay/payportal/internal/config"
	"github.com/intlpay/payportal/internal/routes"
)

// Server wraps the Fiber application and the services it exposes.
type Server struct {
	app      *fiber.App
	cfg      config.Config
	services *routes.Services
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(d routes.Deps) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               d.Cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             64 * 1024,
		DisableStartupMessage: !d.Cfg.IsDevelopment(),
	})

	services, err := routes.Setup(app, d)
	if err != nil {
		return nil, err
	}
	return &Server{app: app, cfg: d.Cfg, services: services}, nil
}

// Services returns the domain services wired into the server.
func (s *Server) Services() *routes.Services {
	return s.services
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
