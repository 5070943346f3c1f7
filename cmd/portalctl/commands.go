package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/intlpay/payportal/internal/atrest"
	"github.com/intlpay/payportal/internal/auth"
	"github.com/intlpay/payportal/internal/config"
	"github.com/intlpay/payportal/internal/identity"
	"github.com/intlpay/payportal/internal/infra"
	"github.com/intlpay/payportal/internal/logging"
	"github.com/intlpay/payportal/internal/routes"
)

type env struct {
	cfg    config.Config
	db     *pgxpool.Pool
	logger *slog.Logger
}

func (e *env) close() {
	if e.db != nil {
		e.db.Close()
	}
}

func connect(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, db: db, logger: logging.New(cfg.LogLevel, "text")}, nil
}

func (e *env) services() (*routes.Services, error) {
	codec, err := atrest.New(e.cfg.DataKey)
	if err != nil {
		return nil, err
	}
	return routes.BuildServices(routes.Deps{Cfg: e.cfg, DB: e.db, Codec: codec, Logger: e.logger}), nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			if err := infra.Migrate(cmd.Context(), e.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func addUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-user [username]",
		Short: "Provision an actor record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fullName, _ := cmd.Flags().GetString("name")
			role, _ := cmd.Flags().GetString("role")

			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			svc, err := e.services()
			if err != nil {
				return err
			}
			actor, err := svc.Identity.Provision(cmd.Context(), identity.NewActor{
				Username: args[0],
				FullName: fullName,
				Role:     identity.Role(role),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", actor.ID, actor.Username, actor.Role)
			return nil
		},
	}
	cmd.Flags().StringP("name", "n", "", "Full name")
	cmd.Flags().StringP("role", "r", string(identity.RoleCustomer), "Role (customer, staff, admin)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func setPinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-pin [user-id]",
		Short: "Provision the approval PIN of a staff or admin actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, _ := cmd.Flags().GetString("pin")

			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			svc, err := e.services()
			if err != nil {
				return err
			}
			if err := svc.Gate.Provision(cmd.Context(), args[0], pin); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "approval pin set")
			return nil
		},
	}
	cmd.Flags().String("pin", "", "4-6 digit approval PIN")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail payments whose confirmation window has lapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			svc, err := e.services()
			if err != nil {
				return err
			}
			n, err := svc.Payments.ExpireLapsed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d payments\n", n)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 1000, "Maximum payments to expire")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			username, _ := cmd.Flags().GetString("username")
			role, _ := cmd.Flags().GetString("role")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tok, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer).Sign(args[0], username, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	cmd.Flags().String("username", "", "Username claim")
	cmd.Flags().String("role", "", "Role claim (informational)")
	return cmd
}

func genKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-key",
		Short: "Print a fresh hex-encoded DATA_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, atrest.KeySize)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
			return nil
		},
	}
}
