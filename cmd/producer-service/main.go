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

	"github.com/cuongbtq/fractal-pipeline/internal/bootstrap"
	"github.com/cuongbtq/fractal-pipeline/internal/config"
	"github.com/cuongbtq/fractal-pipeline/internal/producer"
	"github.com/cuongbtq/fractal-pipeline/internal/recordclient"
	"github.com/cuongbtq/fractal-pipeline/internal/sampler"
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

	defaultConfigPath := os.Getenv("PRODUCER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/producer-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	oneShot := flag.Bool("one-shot", false, "Produce a single batch and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateProducerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ranges := samplerRanges(&cfg.Producer)
	if err := ranges.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	bootstrap.Daemonize(&cfg.Process, appLogger.Logger)

	appLogger.Info("Starting producer service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, cfg.RabbitMQ.JobQueue, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	records := recordclient.New(cfg.RecordService.URL, cfg.RecordService.Timeout)

	p := producer.New(producer.Config{
		OneShot: cfg.Producer.OneShot || *oneShot,
		Tasks:   sampler.IntRange{Min: cfg.Producer.Tasks.Min, Max: cfg.Producer.Tasks.Max},
		Pause: sampler.DurationRange{
			Min: cfg.Producer.Pause.Min,
			Max: cfg.Producer.Pause.Max,
		},
		ContentType: bootstrap.ContentType(cfg.RabbitMQ.Publish.Format),
	}, sampler.New(ranges), records, rabbitClient, appLogger.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("producer failed: %w", err)
	}

	appLogger.Info("Producer service shutdown complete")
	return nil
}

func samplerRanges(cfg *config.ProducerConfig) sampler.Ranges {
	intRange := func(r config.IntRange) sampler.IntRange {
		return sampler.IntRange{Min: r.Min, Max: r.Max}
	}
	floatRange := func(r config.FloatRange) sampler.FloatRange {
		return sampler.FloatRange{Min: r.Min, Max: r.Max}
	}

	return sampler.Ranges{
		Width:      intRange(cfg.Width),
		Height:     intRange(cfg.Height),
		Iterations: intRange(cfg.Iterations),
		XA:         floatRange(cfg.XA),
		XB:         floatRange(cfg.XB),
		YA:         floatRange(cfg.YA),
		YB:         floatRange(cfg.YB),
	}
}
