package main

import (
	"context"
	"encoding/json"
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

	"github.com/ehr/orchestrator/internal/config"
	"github.com/ehr/orchestrator/internal/orchestrator/execution"
	"github.com/ehr/orchestrator/internal/orchestrator/registry"
	"github.com/ehr/orchestrator/internal/orchestrator/reporting"
	"github.com/ehr/orchestrator/internal/orchestrator/workflow"
	"github.com/ehr/orchestrator/internal/platform/db"
	"github.com/ehr/orchestrator/internal/platform/events"
	"github.com/ehr/orchestrator/internal/platform/middleware"
	"github.com/ehr/orchestrator/internal/platform/webhook"
	"github.com/ehr/orchestrator/internal/platform/websocket"
	"github.com/ehr/orchestrator/internal/services"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "EMR Integration Orchestrator",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.json>",
		Short: "Validate a workflow definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var w workflow.Workflow
			if err := json.Unmarshal(raw, &w); err != nil {
				return fmt.Errorf("parse workflow definition: %w", err)
			}

			logger := zerolog.Nop()
			reg := builtinRegistry(logger)
			svc := workflow.NewService(workflow.NewInMemoryRepo(), reg, nil, logger)

			violations := svc.Validate(&w)
			if len(violations) == 0 {
				fmt.Printf("%s: valid (%d steps)\n", args[0], len(w.Steps))
				return nil
			}
			for _, v := range violations {
				fmt.Fprintf(os.Stderr, "  - %s\n", v)
			}
			return fmt.Errorf("%d validation error(s)", len(violations))
		},
	}
}

// builtinRegistry registers the integration backends that ship with the
// orchestrator. External backends register at runtime via the same catalog.
func builtinRegistry(logger zerolog.Logger) *registry.Registry {
	reg := registry.New()

	registrations := []registry.Registration{
		{
			ID:           "hl7-gateway",
			Name:         "HL7v2 Gateway",
			Type:         "messaging",
			Version:      "1.0.0",
			Capabilities: []string{"send-message"},
			Instance:     services.NewHL7Gateway("ORCH", "CLINIC", logger),
		},
		{
			ID:           "lab",
			Name:         "Lab Orders",
			Type:         "diagnostics",
			Version:      "1.0.0",
			Capabilities: []string{"submit-order", "get-results", "cancel-order"},
			Instance:     services.NewLabService(),
		},
		{
			ID:           "pharmacy",
			Name:         "Pharmacy Dispensing",
			Type:         "medication",
			Version:      "1.0.0",
			Capabilities: []string{"send-prescription", "check-inventory", "refill"},
			Instance:     services.NewPharmacyService(),
		},
		{
			ID:           "insurance",
			Name:         "Insurance Claims",
			Type:         "billing",
			Version:      "1.0.0",
			Capabilities: []string{"check-eligibility", "submit-claim", "claim-status"},
			Instance:     services.NewInsuranceService(),
		},
	}

	for _, r := range registrations {
		if err := reg.Register(r); err != nil {
			logger.Error().Err(err).Str("service_id", r.ID).Msg("failed to register built-in service")
		}
	}
	return reg
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage. Without DATABASE_URL everything lives in memory, which is
	// enough for development and for stateless deployments.
	var (
		wfRepo   workflow.Repository
		execRepo execution.Repository
		pinger   reporting.Pinger
	)
	if cfg.Durable() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		wfRepo = workflow.NewRepoPG(pool)
		execRepo = execution.NewRepoPG(pool)
		pinger = db.NewProber(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set; using in-memory stores")
		wfRepo = workflow.NewInMemoryRepo()
		execRepo = execution.NewInMemoryRepo()
	}

	// Event bus and service catalog
	bus := events.NewBus()
	reg := builtinRegistry(logger)

	monitor := registry.NewMonitor(reg, time.Duration(cfg.HealthCheckIntervalSeconds)*time.Second, bus, logger)
	go monitor.Run(ctx)

	// Execution pipeline: engine, queue consumer, submission service
	engine := execution.NewEngine(wfRepo, reg, execRepo, bus, logger)
	queue := execution.NewQueue(engine, cfg.MaxQueueSize, logger)
	go queue.Run(ctx)

	retention := execution.RetentionPolicy{
		RetentionDays:        cfg.RetentionDays,
		KeepFailedExecutions: cfg.KeepFailedExecutions,
	}
	execSvc := execution.NewService(wfRepo, execRepo, queue, retention, logger)
	if cfg.RetentionDays > 0 {
		go execSvc.RunRetention(ctx, time.Hour)
	}

	wfSvc := workflow.NewService(wfRepo, reg, bus, logger)

	reportSvc := reporting.NewService(wfRepo, execRepo, reg, queue.Depth, pinger, logger)

	// Webhook delivery
	webhookManager := webhook.NewManager(webhook.NewInMemoryStore())
	webhookBridge := webhook.NewBridge(webhookManager, bus, logger)
	go webhookBridge.Run(ctx)

	// WebSocket event stream
	hub := websocket.NewHub(logger)
	hub.Attach(bus)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	workflow.NewHandler(wfSvc).RegisterRoutes(apiV1)
	registry.NewHandler(reg).RegisterRoutes(apiV1)
	execution.NewHandler(execSvc).RegisterRoutes(apiV1)
	webhook.NewHandler(webhookManager).RegisterRoutes(apiV1.Group("/webhooks"))
	websocket.NewHandler(hub).RegisterRoutes(apiV1)

	reportHandler := reporting.NewHandler(reportSvc)
	reportHandler.RegisterRoutes(apiV1)
	reportHandler.RegisterHealth(e)

	// Serve until interrupted
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("orchestrator listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
