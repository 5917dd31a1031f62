package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/directory"
	"github.com/hms/hms/internal/domain/invoicing"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/notification"
	"github.com/hms/hms/internal/platform/reporting"
	"github.com/hms/hms/internal/platform/sequence"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital billing API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(invoicesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// loadConfig loads and validates configuration for commands that build the
// invoicing service.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnIdleTime: 5 * time.Minute,
	})
}

// app holds everything the HTTP server and the CLI commands share.
type app struct {
	invoices *invoicing.Service
	numbers  *sequence.Allocator
	notify   *notification.Manager
}

func buildApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *app {
	repo := invoicing.NewRepoPG(pool)

	// Counters start from the highest number already stored for the month,
	// so a fresh counters table never reissues an existing invoice number.
	seed := func(ctx context.Context, scope string) (int64, error) {
		ids, err := repo.NumbersInScope(ctx, scope)
		if err != nil {
			return 0, err
		}
		return sequence.MaxSequence(scope, ids), nil
	}
	numbers := sequence.NewAllocator(cfg.InvoicePrefix, cfg.InvoiceSequenceWidth, sequence.NewPGStore(pool, seed))

	dir := directory.NewCachedStore(directory.NewPGStore(pool), cfg.LookupCacheTTL)

	sender := notification.LogSender{Logger: logger}
	mgr := notification.NewManager(notification.Config{
		From:          cfg.ReminderFrom,
		MaxAttempts:   uint64(cfg.NumberRetryAttempts),
		RetryInterval: 500 * time.Millisecond,
	}, sender, sender, notification.NewTemplateEngine(), logger)

	svc := invoicing.NewService(repo, numbers, dir, mgr, invoicing.Config{
		DueDays:         cfg.InvoiceDueDays,
		DefaultTaxRate:  cfg.TaxRate(),
		RetryAttempts:   cfg.NumberRetryAttempts,
		RetryInterval:   25 * time.Millisecond,
		BulkWorkers:     cfg.BulkPaymentWorkers,
		DefaultCurrency: "USD",
	}, logger)

	return &app{invoices: svc, numbers: numbers, notify: mgr}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return errors.Wrap(err, "migration failed")
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return errors.Wrap(err, "failed to get migration status")
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied() {
					status = "applied"
					appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return errors.New("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, dir); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")

	cmd.AddCommand(createCmd)
	return cmd
}

func invoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Invoice maintenance jobs",
	}

	remindCmd := &cobra.Command{
		Use:   "remind",
		Short: "Mark overdue invoices and send payment reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			asOfFlag, _ := cmd.Flags().GetString("as-of")

			asOf := time.Now().UTC()
			if asOfFlag != "" {
				t, err := time.Parse("2006-01-02", asOfFlag)
				if err != nil {
					return errors.Wrapf(err, "invalid --as-of %q, want YYYY-MM-DD", asOfFlag)
				}
				asOf = t.Add(24*time.Hour - time.Nanosecond)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			a := buildApp(cfg, pool, logger)
			var summary invoicing.ReminderSummary
			err = db.WithTenantSchema(ctx, pool, tenant, func(ctx context.Context) error {
				var err error
				summary, err = a.invoices.SendOverdueReminders(ctx, asOf)
				return err
			})
			a.notify.Wait()
			if err != nil {
				return err
			}

			fmt.Printf("Tenant %s, as of %s\n", tenant, asOf.Format("2006-01-02"))
			fmt.Printf("%-16s %d\n", "checked", summary.Checked)
			fmt.Printf("%-16s %d\n", "marked overdue", summary.MarkedOverdue)
			fmt.Printf("%-16s %d\n", "reminded", summary.Reminded)
			return nil
		},
	}
	remindCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	remindCmd.Flags().String("as-of", "", "Reference date YYYY-MM-DD (defaults to today)")
	cmd.AddCommand(remindCmd)

	numberCmd := &cobra.Command{
		Use:   "number",
		Short: "Preview the next invoice number without reserving it",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			atFlag, _ := cmd.Flags().GetString("at")

			at := time.Now().UTC()
			if atFlag != "" {
				t, err := time.Parse("2006-01-02", atFlag)
				if err != nil {
					return errors.Wrapf(err, "invalid --at %q, want YYYY-MM-DD", atFlag)
				}
				at = t
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			a := buildApp(cfg, pool, zerolog.Nop())
			return db.WithTenantSchema(ctx, pool, tenant, func(ctx context.Context) error {
				next, err := a.invoices.PreviewNextNumber(ctx, at)
				if err != nil {
					return err
				}
				fmt.Println(next)
				return nil
			})
		},
	}
	numberCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	numberCmd.Flags().String("at", "", "Issue date YYYY-MM-DD (defaults to today)")
	cmd.AddCommand(numberCmd)

	return cmd
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// newEcho sets up the router with global middleware and health routes.
// API routes are registered on the returned /api/v1 group.
func newEcho(cfg *config.Config, logger zerolog.Logger) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Tenant-ID", "X-Request-ID"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	limit := middleware.DefaultRateLimitConfig()
	limit.RequestsPerSecond = cfg.RateLimitRPS
	limit.Burst = cfg.RateLimitBurst

	// Rate limiting keys on the verified tenant, so it runs after auth.
	apiV1 := e.Group("/api/v1", authMiddleware(cfg), middleware.RateLimit(limit))
	return e, apiV1
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	a := buildApp(cfg, pool, logger)

	e, apiV1 := newEcho(cfg, logger)
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	invoicing.NewHandler(a.invoices).RegisterRoutes(apiV1)
	notification.NewHandler(a.notify).RegisterRoutes(apiV1)
	reporting.NewHandler(reporting.NewEvaluator(pool)).RegisterRoutes(apiV1)

	e.GET("/health/db", db.HealthHandler(pool))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	a.notify.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
