package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/api/storage"
	"github.com/cuongbtq/fractal-pipeline/internal/bootstrap"
	"github.com/cuongbtq/fractal-pipeline/internal/config"
	"github.com/cuongbtq/fractal-pipeline/internal/recordclient"
	"github.com/cuongbtq/fractal-pipeline/internal/tracker"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("TRACKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/tracker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateTrackerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	bootstrap.Daemonize(&cfg.Process, appLogger.Logger)

	appLogger.Info("Starting tracker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("mode", cfg.Tracker.Mode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler, closer, err := initReconciler(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	resultClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, cfg.RabbitMQ.ResultQueue, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer resultClient.Close()

	hostname, _ := os.Hostname()
	trackerInstance := tracker.New(&tracker.Config{
		Logger:        appLogger.Logger,
		Source:        resultClient,
		Reconciler:    reconciler,
		ConsumerTag:   fmt.Sprintf("tracker-%s-%d", hostname, os.Getpid()),
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	done := make(chan error, 1)
	go func() {
		done <- trackerInstance.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-done:
		if err != nil {
			return fmt.Errorf("tracker failed: %w", err)
		}
		return nil
	}

	cancel()

	select {
	case <-done:
		appLogger.Info("Tracker stopped gracefully")
	case <-time.After(cfg.Tracker.ShutdownTimeout):
		appLogger.Warn("Tracker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Tracker service shutdown complete")
	return nil
}

// initReconciler builds the reconciler for the configured mode. The returned
// closer, if any, owns the database connection.
func initReconciler(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tracker.Reconciler, io.Closer, error) {
	if cfg.Tracker.Mode == config.ReconcileAPI {
		records := recordclient.New(cfg.RecordService.URL, cfg.RecordService.Timeout)
		return tracker.NewAPIReconciler(records), nil, nil
	}

	dbClient, err := bootstrap.InitPostgreSQL(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return tracker.NewDatabaseReconciler(storage.NewStorage(dbClient)), dbClient, nil
}
