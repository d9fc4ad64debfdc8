package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"position_copier/internal/alert"
	"position_copier/internal/config"
	"position_copier/internal/engine"
	"position_copier/internal/infrastructure/health"
	"position_copier/internal/infrastructure/metrics"
	"position_copier/internal/ledger"
	"position_copier/internal/venue/hyperliquid"
	"position_copier/pkg/concurrency"
	pkghttp "position_copier/pkg/http"
	"position_copier/pkg/logging"
	"position_copier/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/copier.yaml", "Path to configuration file")
	runOnce := flag.Bool("once", false, "Run a single reconciliation pass and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("copier version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting copier",
		"version", version,
		"target", cfg.App.TargetAddress,
		"mode", cfg.Copy.Mode,
		"interval", cfg.Copy.PollInterval(),
	)

	if err := telemetry.InitMetrics(); err != nil {
		logger.Warn("Failed to initialize metrics exporter", "error", err)
	}

	// Order signing is delegated to the venue; without a credential the run
	// is read-only and submissions will be refused server side.
	var signer pkghttp.Signer = pkghttp.NopSigner{}
	if cfg.Venue.PrivateKey.Reveal() == "" {
		logger.Warn("No trading credential configured, running unsigned")
	}

	venue := hyperliquid.New(cfg.Venue, signer, logger)
	defer venue.Close()

	ctx := context.Background()
	if err := venue.CheckHealth(ctx); err != nil {
		logger.Warn("Venue health check failed (will continue)", "error", err)
	} else {
		logger.Info("Venue health check passed", "venue", venue.GetName())
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "LedgerDispatchPool",
		MaxWorkers:  4,
		MaxCapacity: 256,
		NonBlocking: true,
	}, logger)
	defer pool.Stop()

	led := ledger.New(ledger.Config{
		ChangeWindow: cfg.Ledger.ChangeWindow,
		CopyWindow:   cfg.Ledger.CopyWindow,
	}, pool, logger)

	if cfg.Alerts.Enabled() {
		manager := alert.NewAlertManager(logger)
		if cfg.Alerts.TelegramBotToken.Reveal() != "" && cfg.Alerts.TelegramChatID != "" {
			manager.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramBotToken.Reveal(), cfg.Alerts.TelegramChatID))
		}
		if cfg.Alerts.SlackWebhookURL.Reveal() != "" {
			manager.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL.Reveal()))
		}
		led.Subscribe(alert.NewNotifier(manager).OnChange)
	}

	executor := engine.NewExecutor(
		venue,
		decimal.NewFromFloat(cfg.Copy.SlippagePct),
		cfg.Copy.MirrorLeverage,
		logger,
	)
	copier := engine.NewCopier(venue, executor, led, cfg.App, cfg.Copy, logger)

	if *runOnce {
		passCtx, cancel := context.WithTimeout(ctx, cfg.Venue.RequestTimeout()*4)
		defer cancel()
		// Two passes: one to establish the baseline, one to reconcile.
		if err := copier.RunOnce(passCtx); err != nil {
			logger.Fatal("Pass failed", "error", err)
		}
		if err := copier.RunOnce(passCtx); err != nil {
			logger.Fatal("Pass failed", "error", err)
		}
		printStats(led)
		return
	}

	var metricsServer *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		healthManager := health.NewHealthManager(logger)
		healthManager.Register("venue", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), cfg.Venue.RequestTimeout())
			defer cancel()
			return venue.CheckHealth(checkCtx)
		})
		healthManager.Register("copier", func() error {
			if copier.GetStatus().LastPassErr != "" {
				return fmt.Errorf("last pass failed: %s", copier.GetStatus().LastPassErr)
			}
			return nil
		})

		metricsServer = metrics.NewServer(cfg.Telemetry.MetricsPort, copier, led, healthManager, logger)
		metricsServer.Start()
	}

	if err := copier.Start(ctx); err != nil {
		logger.Fatal("Failed to start copier", "error", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	logger.Info("Received shutdown signal, gracefully shutting down...")

	if err := copier.Stop(); err != nil {
		logger.Error("Error stopping copier", "error", err)
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error during metrics server shutdown", "error", err)
		}
	}

	printStats(led)
	logger.Info("copier stopped")
}

func printStats(led *ledger.Ledger) {
	stats := led.Stats()
	fmt.Printf("session: passes=%d copied=%d closed=%d volume=%s skipped=%d errors=%d\n",
		stats.PassesCompleted,
		stats.PositionsCopied,
		stats.PositionsClosed,
		stats.TotalVolume.StringFixed(2),
		stats.SkippedNoMargin,
		stats.Errors,
	)
}
