package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/grahmeen/health/internal/config"
	"github.com/grahmeen/health/internal/domain/account"
	"github.com/grahmeen/health/internal/domain/earlydetection"
	"github.com/grahmeen/health/internal/platform/auth"
	"github.com/grahmeen/health/internal/platform/db"
	"github.com/grahmeen/health/internal/platform/metrics"
	"github.com/grahmeen/health/internal/platform/middleware"
	"github.com/grahmeen/health/internal/platform/notification"
	"github.com/grahmeen/health/internal/platform/webhook"
	"github.com/grahmeen/health/internal/platform/websocket"
	"github.com/grahmeen/health/internal/triage"
)

// devJWTSecret signs tokens when ENV=development and JWT_SECRET is unset.
// Validate rejects an empty secret in every other environment.
const devJWTSecret = "grahmeen-development-only-signing-secret"

func main() {
	rootCmd := &cobra.Command{
		Use:   "grahmeen-server",
		Short: "GrahmeenHealth triage API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(scoreCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetInt("to")

			ctx := context.Background()
			migrator, pool, schema, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)

			var count int
			if to > 0 {
				count, err = migrator.UpTo(ctx, to)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	addMigrateFlags(upCmd)
	upCmd.Flags().Int("to", 0, "Stop after this migration version (0 applies all)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, pool, schema, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			printStatus(os.Stdout, statuses)
			return nil
		},
	}
	addMigrateFlags(statusCmd)
	cmd.AddCommand(statusCmd)

	return cmd
}

func addMigrateFlags(cmd *cobra.Command) {
	cmd.Flags().String("schema", "", "Target schema for migrations (defaults to DB_SCHEMA)")
	cmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
}

// openMigrator loads config, connects, and resolves the flag overrides.
func openMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, *pgxpool.Pool, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, "", err
	}

	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := db.NewPool(ctx, db.Options{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Schema:   schema,
	})
	if err != nil {
		return nil, nil, "", err
	}
	return db.NewMigrator(pool, dir, schema), pool, schema, nil
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
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

// loadRegistry builds the triage strategies from TRIAGE_RULES_FILE, or from
// the compiled-in tables when no file is configured.
func loadRegistry(cfg *config.Config) (*triage.Registry, error) {
	rules := triage.DefaultRules()
	if cfg.TriageRulesFile != "" {
		var err error
		rules, err = triage.LoadRules(cfg.TriageRulesFile)
		if err != nil {
			return nil, err
		}
	}
	return triage.NewDefaultRegistry(cfg.TriageDefaultStrategy, rules, nil)
}

// alertThreshold maps ALERT_MIN_RISK to a risk level. "off" yields the empty
// level, which disables alerts.
func alertThreshold(s string) triage.RiskLevel {
	if s == "off" {
		return ""
	}
	return triage.RiskLevel(s)
}

func newTokenIssuer(cfg *config.Config, logger zerolog.Logger) (*auth.TokenIssuer, error) {
	secret := cfg.JWTSecret
	if secret == "" && cfg.IsDev() {
		logger.Warn().Msg("JWT_SECRET not set, using the development signing secret")
		secret = devJWTSecret
	}
	return auth.NewTokenIssuer([]byte(secret), cfg.JWTIssuer, cfg.TokenTTL)
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Logger
	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.Options{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Schema:   cfg.DBSchema,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	collector := metrics.NewCollector()
	collector.RegisterPool(func() metrics.PoolStats { return pool.Stat() })

	registry, err := loadRegistry(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load triage rules")
	}

	issuer, err := newTokenIssuer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure token issuer")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit("1M"))
	if cfg.MetricsEnabled {
		e.Use(middleware.Metrics(collector))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	revocations := auth.NewTokenRevocationStore(issuer.TTL())
	defer revocations.Close()
	jwtCfg := issuer.Config()
	jwtCfg.Revocations = revocations
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(collector.Handler()))
	}

	// API groups
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	// Realtime push
	hub := websocket.NewHub(logger).WithObserver(collector)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	// Notifications
	sender := notification.NewLogSender(logger)
	notifyMgr := notification.NewManager(sender, sender, nil).WithRecorder(collector)
	notification.NewHandler(notifyMgr).RegisterRoutes(apiV1)

	// Accounts
	accountSvc := account.NewService(account.NewRepoPG(pool), issuer)
	account.NewHandler(accountSvc).RegisterRoutes(apiV1)
	auth.RegisterRevocationRoutes(apiV1, revocations)

	// Outbound webhooks
	hooks := webhook.NewManager(webhook.NewMemoryStore(), logger, webhook.WithRecorder(collector))
	defer hooks.Close()
	for _, u := range cfg.WebhookURLs {
		if _, err := hooks.RegisterEndpoint(ctx, webhook.EndpointInput{URL: u, Secret: cfg.WebhookSecret, CreatedBy: "config"}); err != nil {
			logger.Fatal().Err(err).Str("url", u).Msg("invalid webhook endpoint")
		}
	}
	webhook.NewHandler(hooks).RegisterRoutes(apiV1)

	// Early detection
	edSvc := earlydetection.NewService(earlydetection.NewRepoPG(pool), registry, logger)
	edSvc.SetPublisher(hub)
	edSvc.SetAlerter(notification.NewAlerter(accountSvc, notifyMgr))
	edSvc.SetRecorder(collector)
	edSvc.SetWebhooks(hooks)
	edSvc.SetAlertThreshold(alertThreshold(cfg.AlertMinRisk))
	earlydetection.NewHandler(edSvc).RegisterRoutes(apiV1)

	logger.Info().
		Strs("strategies", registry.Names()).
		Str("default_strategy", registry.Default()).
		Str("alert_min_risk", cfg.AlertMinRisk).
		Int("webhooks", len(cfg.WebhookURLs)).
		Msg("triage configured")

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
