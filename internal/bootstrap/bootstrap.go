// Package bootstrap holds the startup helpers shared by the service binaries.
package bootstrap

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/config"
	"github.com/cuongbtq/fractal-pipeline/internal/message"
	"github.com/cuongbtq/fractal-pipeline/shared/logger"
	"github.com/cuongbtq/fractal-pipeline/shared/postgresql"
	"github.com/cuongbtq/fractal-pipeline/shared/rabbitmq"
)

// InitLogger initializes the application logger, tagging records with service
func InitLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// PostgreSQLConfig maps the database section onto the client config
func PostgreSQLConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, PostgreSQLConfig(cfg), logger)
}

// RabbitMQConfig maps the broker section and one of its queues onto the client config
func RabbitMQConfig(cfg *config.RabbitMQConfig, queue config.QueueConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		URL:                cfg.AMQPURL(),
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          queue.Name,
		QueueDurable:       queue.Durable,
		QueueAutoDelete:    queue.AutoDelete,
		QueueExclusive:     queue.Exclusive,
		RoutingKey:         queue.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		ConfirmTimeout:     cfg.Publish.ConfirmTimeout,
	}
}

// InitRabbitMQ initializes a RabbitMQ client bound to queue
func InitRabbitMQ(cfg *config.RabbitMQConfig, queue config.QueueConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg, queue), logger)
}

// ContentType returns the message content type for a configured publish format
func ContentType(format string) string {
	if format == config.FormatGob {
		return message.ContentTypeGob
	}
	return message.ContentTypeJSON
}

// Daemonize detaches the process from its controlling terminal's hangup.
// Forking and pid files are left to the service manager.
func Daemonize(cfg *config.ProcessConfig, logger *slog.Logger) {
	if !cfg.Daemonize {
		return
	}

	signal.Ignore(syscall.SIGHUP)
	logger.Info("Running detached, SIGHUP ignored")
}
