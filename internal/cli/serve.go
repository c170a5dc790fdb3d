package cli

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahrdadan/uicheck/internal/api"
	"github.com/ahrdadan/uicheck/internal/config"
	"github.com/ahrdadan/uicheck/internal/nats"
	"github.com/ahrdadan/uicheck/internal/queue"
	"github.com/ahrdadan/uicheck/internal/runner"
)

func newServeCmd(a *app) *cobra.Command {
	def := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API backed by a NATS JetStream queue",
		Long: "Accepts suites over HTTP, queues them on NATS JetStream and runs them\n" +
			"one at a time. Progress is available over SSE and WebSocket.",
		Args: cobra.NoArgs,
		RunE: a.serve,
	}

	addRunFlags(cmd, def)
	addBrowserFlags(cmd, def)
	f := cmd.Flags()
	f.String("host", def.Serve.Host, "Listen host")
	f.Int("port", def.Serve.Port, "Listen port")
	f.String("public-url", def.Serve.PublicURL, "Base URL used in API links (auto-detected when empty)")
	f.String("nats-url", def.Serve.NatsURL, "NATS server URL")
	f.String("nats-store", def.Serve.NatsStore, "JetStream storage directory")
	f.Bool("nats-autodl", def.Serve.NatsAutoDL, "Download nats-server when missing")
	f.String("nats-bin", def.Serve.NatsBin, "Path to the nats-server binary")
	f.Bool("nats-embed", def.Serve.NatsEmbed, "Spawn nats-server when nothing answers at --nats-url")
	f.Int("rate-limit", def.Serve.RateLimit, "Run submissions per minute per client")
	f.Int("max-retries", def.Serve.MaxRetries, "Default retries for runs that hit a harness error")

	return cmd
}

func (a *app) serve(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := a.loadConfig(cmd, "info")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	logger.Info("starting", zap.String("app", config.AppName), zap.String("version", config.Version))

	// The processor starts the engine with the first run.
	engine, err := a.newEngine(ctx, cfg.EngineConfig(), logger)
	if err != nil {
		return harnessError(fmt.Errorf("failed to set up browser: %w", err))
	}
	defer func() {
		if engine.IsRunning() {
			if err := engine.Stop(); err != nil {
				logger.Warn("failed to stop browser", zap.Error(err))
			}
		}
	}()

	natsServer, err := nats.NewServer(ctx, nats.ServerConfig{
		BinPath:  cfg.Serve.NatsBin,
		StoreDir: cfg.Serve.NatsStore,
		URL:      cfg.Serve.NatsURL,
		AutoDL:   cfg.Serve.NatsAutoDL,
		Embed:    cfg.Serve.NatsEmbed,
	}, logger)
	if err != nil {
		return harnessError(fmt.Errorf("failed to create NATS server: %w", err))
	}
	if err := natsServer.Start(ctx); err != nil {
		return harnessError(fmt.Errorf("failed to start NATS server: %w", err))
	}
	defer func() {
		if err := natsServer.Stop(); err != nil {
			logger.Warn("failed to stop NATS", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := runner.NewMetrics(reg)

	qm, err := queue.NewManager(natsServer.JetStream(), queue.ManagerOptions{
		ResultTTL:      cfg.Serve.ResultTTL,
		IdempotencyTTL: cfg.Serve.IdempotencyTTL,
		MaxRetries:     cfg.Serve.MaxRetries,
		MaxRunTimeout:  cfg.Serve.MaxRunTimeout,
		PublicURL:      cfg.Serve.PublicURL,
		Registerer:     reg,
		Logger:         logger,
	})
	if err != nil {
		return harnessError(fmt.Errorf("failed to create queue manager: %w", err))
	}
	processor := queue.NewSuiteProcessor(engine, cfg.RunnerOptions(), logger, metrics)
	if err := qm.Start(processor); err != nil {
		return harnessError(fmt.Errorf("failed to start queue processor: %w", err))
	}
	defer qm.Stop()

	srv := fiber.New(fiber.Config{
		AppName:               config.AppName,
		ErrorHandler:          api.ErrorHandler,
		DisableStartupMessage: true,
	})
	srv.Use(recover.New())
	srv.Use(fiberlogger.New(fiberlogger.Config{Output: a.errOut}))
	srv.Use(cors.New())

	limiter := api.SetupRoutes(srv, api.RouteConfig{
		Engine:     engine,
		Queue:      qm,
		Gatherer:   reg,
		RateLimit:  cfg.Serve.RateLimit,
		PublicURL:  cfg.Serve.PublicURL,
		ResultTTL:  cfg.Serve.ResultTTL,
		MaxRetries: cfg.Serve.MaxRetries,
	})
	defer limiter.Stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			logger.Warn("error during shutdown", zap.Error(err))
		}
	}()

	addr := cfg.ListenAddr()
	logger.Info("listening",
		zap.String("addr", addr),
		zap.String("public_url", cfg.Serve.PublicURL),
		zap.String("engine", engine.Name()),
		zap.String("nats_url", cfg.Serve.NatsURL))

	if err := srv.Listen(addr); err != nil {
		return harnessError(fmt.Errorf("failed to start server: %w", err))
	}
	return nil
}
