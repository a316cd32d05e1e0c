package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/backlinemd/backlinemd/internal/config"
	"github.com/backlinemd/backlinemd/internal/domain/appointment"
	"github.com/backlinemd/backlinemd/internal/domain/claim"
	"github.com/backlinemd/backlinemd/internal/domain/consent"
	"github.com/backlinemd/backlinemd/internal/domain/dashboard"
	"github.com/backlinemd/backlinemd/internal/domain/document"
	"github.com/backlinemd/backlinemd/internal/domain/orchestrator"
	"github.com/backlinemd/backlinemd/internal/domain/patient"
	"github.com/backlinemd/backlinemd/internal/domain/task"
	"github.com/backlinemd/backlinemd/internal/platform/agenttools"
	"github.com/backlinemd/backlinemd/internal/platform/ai"
	"github.com/backlinemd/backlinemd/internal/platform/auth"
	"github.com/backlinemd/backlinemd/internal/platform/db"
	"github.com/backlinemd/backlinemd/internal/platform/middleware"
	"github.com/backlinemd/backlinemd/internal/platform/notify"
	"github.com/backlinemd/backlinemd/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "backline-server",
		Short: "BacklineMD healthcare operations API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
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
		Short: "Create a tenant schema, run its migrations, and seed defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, cfg.MigrationsDir); err != nil {
				return err
			}

			// Consent templates are per tenant, so seed them right after
			// the schema exists.
			tenantCtx, release, err := db.AcquireTenant(ctx, pool, name)
			if err != nil {
				return err
			}
			defer release()
			if err := consent.NewRepoPG(pool).SeedTemplates(tenantCtx); err != nil {
				return fmt.Errorf("seed consent templates: %w", err)
			}

			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", "X-Agent-Type"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	e.Use(middleware.Audit(logger))

	api := e.Group("/api")
	rateLimitCfg := middleware.RateLimitConfig{
		PerSecond: cfg.RateLimitRPS,
		Burst:     cfg.RateLimitBurst,
	}
	if rateLimitCfg.PerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	// -- Platform collaborators --

	hub := websocket.NewHub(logger)
	websocket.NewHandler(hub).RegisterRoutes(e)

	var emailSender notify.EmailSender
	if cfg.EmailAPIURL != "" && cfg.EmailAPIKey != "" {
		emailSender = notify.NewRestEmailSender(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom)
	} else {
		logger.Warn().Msg("email provider not configured; using mock sender")
		emailSender = &notify.MockEmailSender{}
	}
	var voiceCaller notify.VoiceCaller
	if cfg.VoiceAPIURL != "" && cfg.VoiceAPIKey != "" {
		voiceCaller = notify.NewRestVoiceCaller(cfg.VoiceAPIURL, cfg.VoiceAPIKey, cfg.VoicePhone, cfg.VoiceAgent)
	} else {
		logger.Warn().Msg("voice provider not configured; using mock caller")
		voiceCaller = &notify.MockVoiceCaller{}
	}
	dispatcher := notify.NewDispatcher(emailSender, voiceCaller, notify.NewTemplateEngine(), logger)
	notify.NewHandler(dispatcher).RegisterRoutes(api)

	var artifactCache ai.ArtifactCache
	if cfg.RedisURL != "" {
		cache, err := ai.NewRedisArtifactCache(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		artifactCache = cache
	} else {
		logger.Warn().Msg("REDIS_URL not set; summary cache is in-memory")
		artifactCache = ai.NewMemoryArtifactCache()
	}
	var textGen ai.TextGenerator
	if cfg.AIAPIKey != "" {
		textGen = ai.NewRestTextGenerator(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
	} else {
		logger.Warn().Msg("AI_API_KEY not set; using mock text generator")
		textGen = &ai.MockTextGenerator{}
	}
	summarizer := ai.NewSummarizer(artifactCache, textGen, logger)

	// -- Repositories and services --

	patientRepo := patient.NewRepoPG(pool)
	documentRepo := document.NewRepoPG(pool)
	consentRepo := consent.NewRepoPG(pool)
	appointmentRepo := appointment.NewRepoPG(pool)
	claimRepo := claim.NewRepoPG(pool)
	taskRepo := task.NewRepoPG(pool)

	patientSvc := patient.NewService(patientRepo, logger)
	documentSvc := document.NewService(documentRepo, pool, cfg.StorageDir, logger)
	consentSvc := consent.NewService(consentRepo, patientRepo, logger)
	appointmentSvc := appointment.NewService(appointmentRepo, patientRepo, pool, logger)
	claimSvc := claim.NewService(claimRepo, pool, logger)
	taskSvc := task.NewService(taskRepo, patientRepo, pool, logger)

	// The orchestrator closes the loop: every service reports lifecycle
	// events to it, and it moves patients and fans out tasks in response.
	orch := orchestrator.New(patientRepo, taskSvc, claimSvc, documentRepo, consentRepo, pool, logger)
	orch.SetDispatcher(dispatcher)
	orch.SetPublisher(hub)

	patientSvc.SetSink(orch)
	patientSvc.SetDispatcher(dispatcher)
	patientSvc.SetSummarizer(summarizer)
	patientSvc.SetPublisher(hub)
	for _, src := range []patient.ActivitySource{
		document.NewActivitySource(documentRepo),
		consent.NewActivitySource(consentRepo),
		appointment.NewActivitySource(appointmentRepo),
		task.NewActivitySource(taskRepo),
	} {
		patientSvc.AddActivitySource(src)
	}
	for _, src := range []patient.SummarySource{
		document.NewSummarySource(documentRepo),
		task.NewSummarySource(taskRepo),
		appointment.NewSummarySource(appointmentRepo),
	} {
		patientSvc.AddSummarySource(src)
	}

	documentSvc.SetSink(orch)
	documentSvc.SetCompletion(orch)
	documentSvc.SetPublisher(hub)

	consentSvc.SetCompletion(orch)
	consentSvc.SetDispatcher(dispatcher)
	consentSvc.SetPublisher(hub)

	appointmentSvc.SetSink(orch)
	appointmentSvc.SetDispatcher(dispatcher)
	appointmentSvc.SetPublisher(hub)

	claimSvc.SetSink(orch)
	claimSvc.SetPublisher(hub)

	taskSvc.SetSink(orch)
	taskSvc.SetPublisher(hub)

	dashboardSvc := dashboard.NewService(patientRepo, taskRepo, appointmentRepo, claimRepo, appointmentSvc)

	// -- Handlers --

	patient.NewHandler(patientSvc).RegisterRoutes(api)
	document.NewHandler(documentSvc).RegisterRoutes(api)
	consent.NewHandler(consentSvc).RegisterRoutes(api)
	appointment.NewHandler(appointmentSvc).RegisterRoutes(api)
	claim.NewHandler(claimSvc).RegisterRoutes(api)
	task.NewHandler(taskSvc).RegisterRoutes(api)
	dashboard.NewHandler(dashboardSvc).RegisterRoutes(api)

	toolRegistry := agenttools.NewStandardRegistry(agenttools.Services{
		Patients:     patientSvc,
		Tasks:        taskSvc,
		Consents:     consentSvc,
		Documents:    documentSvc,
		Appointments: appointmentSvc,
		Claims:       claimSvc,
	})
	agenttools.NewHandler(toolRegistry).RegisterRoutes(api)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", func(c echo.Context) error {
		pingCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable", "error": err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -- Start and shut down --

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
