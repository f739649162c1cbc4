package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/bootstrap"
	"github.com/cuongbtq/fractal-pipeline/internal/config"
	"github.com/cuongbtq/fractal-pipeline/internal/recordclient"
	"github.com/cuongbtq/fractal-pipeline/internal/render"
	"github.com/cuongbtq/fractal-pipeline/internal/worker"
	"github.com/cuongbtq/fractal-pipeline/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	bootstrap.Daemonize(&cfg.Process, appLogger.Logger)

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to resolve hostname: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("hostname", hostname),
	)

	jobClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, cfg.RabbitMQ.JobQueue, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer jobClient.Close()

	deliverer, resultClient, err := initDeliverer(cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	if resultClient != nil {
		defer resultClient.Close()
	}

	var artifacts *worker.ArtifactWriter
	if cfg.Worker.ArtifactDir != "" {
		artifacts, err = worker.NewArtifactWriter(cfg.Worker.ArtifactDir)
		if err != nil {
			return fmt.Errorf("failed to initialize artifact writer: %w", err)
		}
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger: appLogger.Logger,
		Source: jobClient,
		Renderer: render.New(render.Options{
			Parallelism: cfg.Worker.RenderParallelism,
			Logger:      appLogger.Logger,
		}),
		Deliverer:     deliverer,
		Artifacts:     artifacts,
		WorkerID:      fmt.Sprintf("worker-%s-%d", hostname, os.Getpid()),
		Hostname:      hostname,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		IncludeImage:  cfg.Worker.IncludeImage,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("delivery", cfg.Worker.Delivery),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-done:
		if err != nil {
			return fmt.Errorf("worker failed: %w", err)
		}
		return nil
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker stopped with error", slog.Any("error", err))
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, unacknowledged jobs will be redelivered")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initDeliverer builds the result destination for the configured delivery mode.
// Queue delivery opens a second broker client bound to the result queue.
func initDeliverer(cfg *config.Config, logger *slog.Logger) (worker.Deliverer, *rabbitmq.Client, error) {
	if cfg.Worker.Delivery == config.DeliveryAPI {
		records := recordclient.New(cfg.RecordService.URL, cfg.RecordService.Timeout)
		return worker.NewRecordDeliverer(records), nil, nil
	}

	resultClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, cfg.RabbitMQ.ResultQueue, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize result queue: %w", err)
	}

	contentType := bootstrap.ContentType(cfg.RabbitMQ.Publish.Format)
	return worker.NewQueueDeliverer(resultClient, contentType), resultClient, nil
}
