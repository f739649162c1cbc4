// Command manage maintains the record service database.
//
//	manage [-config path] db_sync     create missing tables and stamp the schema version
//	manage [-config path] db_version  print the stamped schema version
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/api/storage"
	"github.com/cuongbtq/fractal-pipeline/internal/bootstrap"
	"github.com/cuongbtq/fractal-pipeline/internal/config"
	"github.com/joho/godotenv"
)

const commandTimeout = 30 * time.Second

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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config path] db_sync|db_version\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one command")
	}
	command := flag.Arg(0)
	if command != "db_sync" && command != "db_version" {
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateDatabaseConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	dbClient, err := bootstrap.InitPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	db := dbClient.GetDB()

	if command == "db_sync" {
		if err := storage.EnsureSchema(ctx, db); err != nil {
			return err
		}
		appLogger.Info("Database schema synchronized", slog.Int("version", storage.SchemaVersion))
		return nil
	}

	version, err := storage.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}
	fmt.Println(version)
	return nil
}
