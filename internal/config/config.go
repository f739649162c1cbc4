package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Worker result delivery modes
const (
	DeliveryAPI   = "api"
	DeliveryQueue = "queue"
)

// Tracker reconciliation modes
const (
	ReconcileAPI      = "api"
	ReconcileDatabase = "database"
)

// Message body formats
const (
	FormatJSON = "json"
	FormatGob  = "gob"
)

// Config represents the complete application configuration. It is loaded once
// at startup and passed by pointer; nothing mutates it afterwards.
type Config struct {
	App           AppConfig           `yaml:"app"`
	Logging       LoggingConfig       `yaml:"logging"`
	Process       ProcessConfig       `yaml:"process"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	RabbitMQ      RabbitMQConfig      `yaml:"rabbitmq"`
	RecordService RecordServiceConfig `yaml:"record_service"`
	Producer      ProducerConfig      `yaml:"producer"`
	Worker        WorkerConfig        `yaml:"worker"`
	Tracker       TrackerConfig       `yaml:"tracker"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// ProcessConfig holds process lifecycle settings
type ProcessConfig struct {
	Daemonize bool `yaml:"daemonize"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds the optional record cache settings. An empty URL disables the cache.
type RedisConfig struct {
	URL       string        `yaml:"url"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// RabbitMQConfig holds RabbitMQ connection and topology configuration
type RabbitMQConfig struct {
	URL         string           `yaml:"url"`
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	User        string           `yaml:"user"`
	Password    string           `yaml:"password"`
	VHost       string           `yaml:"vhost"`
	Exchange    ExchangeConfig   `yaml:"exchange"`
	JobQueue    QueueConfig      `yaml:"job_queue"`
	ResultQueue QueueConfig      `yaml:"result_queue"`
	Connection  ConnectionConfig `yaml:"connection"`
	Publish     PublishConfig    `yaml:"publish"`
	Consumer    ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	RoutingKey string `yaml:"routing_key"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish settings
type PublishConfig struct {
	Format            string        `yaml:"format"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RecordServiceConfig points at the fractal record service
type RecordServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// IntRange is an inclusive integer range
type IntRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// FloatRange is a float range
type FloatRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DurationRange is a duration range
type DurationRange struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// ProducerConfig holds producer service configuration
type ProducerConfig struct {
	OneShot    bool          `yaml:"one_shot"`
	Tasks      IntRange      `yaml:"tasks"`
	Pause      DurationRange `yaml:"pause"`
	Width      IntRange      `yaml:"width"`
	Height     IntRange      `yaml:"height"`
	Iterations IntRange      `yaml:"iterations"`
	XA         FloatRange    `yaml:"xa"`
	XB         FloatRange    `yaml:"xb"`
	YA         FloatRange    `yaml:"ya"`
	YB         FloatRange    `yaml:"yb"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	Delivery          string        `yaml:"delivery"`
	ArtifactDir       string        `yaml:"artifact_dir"`
	IncludeImage      bool          `yaml:"include_image"`
	RenderParallelism int           `yaml:"render_parallelism"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// TrackerConfig holds tracker service configuration
type TrackerConfig struct {
	Mode            string        `yaml:"mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the settings the record service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.ValidateDatabaseConfig(); err != nil {
		return err
	}

	if c.Redis.URL != "" && c.Redis.TTL <= 0 {
		return fmt.Errorf("redis ttl must be greater than 0 when redis is enabled")
	}

	return c.validateProcess()
}

// ValidateDatabaseConfig checks the PostgreSQL settings
func (c *Config) ValidateDatabaseConfig() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

// ValidateProducerConfig checks the settings the producer needs
func (c *Config) ValidateProducerConfig() error {
	if err := c.validateBroker(c.RabbitMQ.JobQueue, "job"); err != nil {
		return err
	}

	if err := c.validateRecordService(); err != nil {
		return err
	}

	p := c.Producer
	if p.Tasks.Min < 1 || p.Tasks.Min > p.Tasks.Max {
		return fmt.Errorf("producer tasks range is invalid: min %d, max %d", p.Tasks.Min, p.Tasks.Max)
	}

	if p.Pause.Min < 0 || p.Pause.Min > p.Pause.Max {
		return fmt.Errorf("producer pause range is invalid: min %s, max %s", p.Pause.Min, p.Pause.Max)
	}

	if !p.OneShot && p.Pause.Max <= 0 {
		return fmt.Errorf("producer pause max must be greater than 0 in continuous mode")
	}

	return c.validateProcess()
}

// ValidateWorkerConfig checks the settings the worker needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateBroker(c.RabbitMQ.JobQueue, "job"); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.RabbitMQ.Consumer.PrefetchCount < 0 {
		return fmt.Errorf("rabbitmq consumer prefetch_count must not be negative")
	}

	switch c.Worker.Delivery {
	case DeliveryAPI:
		if err := c.validateRecordService(); err != nil {
			return err
		}
	case DeliveryQueue:
		if err := c.validateQueue(c.RabbitMQ.ResultQueue, "result"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("worker delivery must be %q or %q, got %q", DeliveryAPI, DeliveryQueue, c.Worker.Delivery)
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return c.validateProcess()
}

// ValidateTrackerConfig checks the settings the tracker needs
func (c *Config) ValidateTrackerConfig() error {
	if err := c.validateBroker(c.RabbitMQ.ResultQueue, "result"); err != nil {
		return err
	}

	switch c.Tracker.Mode {
	case ReconcileAPI:
		if err := c.validateRecordService(); err != nil {
			return err
		}
	case ReconcileDatabase:
		if err := c.ValidateDatabaseConfig(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("tracker mode must be %q or %q, got %q", ReconcileAPI, ReconcileDatabase, c.Tracker.Mode)
	}

	if c.Tracker.ShutdownTimeout <= 0 {
		return fmt.Errorf("tracker shutdown_timeout must be greater than 0")
	}

	return c.validateProcess()
}

// AMQPURL returns the broker URL, building it from host settings when url is unset
func (c *RabbitMQConfig) AMQPURL() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.VHost,
	}
	return u.String()
}

func (c *Config) validateBroker(queue QueueConfig, kind string) error {
	if c.RabbitMQ.URL == "" {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq url or host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	switch c.RabbitMQ.Publish.Format {
	case "", FormatJSON, FormatGob:
	default:
		return fmt.Errorf("rabbitmq publish format must be %q or %q, got %q", FormatJSON, FormatGob, c.RabbitMQ.Publish.Format)
	}

	return c.validateQueue(queue, kind)
}

func (c *Config) validateQueue(queue QueueConfig, kind string) error {
	if queue.Name == "" {
		return fmt.Errorf("rabbitmq %s queue name is required", kind)
	}

	if queue.RoutingKey == "" {
		return fmt.Errorf("rabbitmq %s queue routing key is required", kind)
	}

	return nil
}

func (c *Config) validateRecordService() error {
	if c.RecordService.URL == "" {
		return fmt.Errorf("record service url is required")
	}

	if _, err := url.ParseRequestURI(c.RecordService.URL); err != nil {
		return fmt.Errorf("invalid record service url: %w", err)
	}

	return nil
}

func (c *Config) validateProcess() error {
	if !c.Process.Daemonize {
		return nil
	}

	switch c.Logging.Output {
	case "", "stdout", "stderr":
		return fmt.Errorf("daemonize requires logging output to be a file path")
	}

	return nil
}
