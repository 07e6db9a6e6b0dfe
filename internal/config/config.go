package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Provider names accepted by PROVIDER.
const (
	ProviderMeta   = "meta"
	ProviderTwilio = "twilio"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Provider ProviderConfig `yaml:"provider"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
	Env      string         `yaml:"env"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Queue    string `yaml:"queue"`
}

// ProviderConfig selects and configures the messaging provider.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
	Meta    MetaConfig    `yaml:"meta"`
	Twilio  TwilioConfig  `yaml:"twilio"`
}

// MetaConfig holds WhatsApp Cloud API credentials
type MetaConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIVersion    string `yaml:"api_version"`
	PhoneNumberID string `yaml:"phone_number_id"`
	AccessToken   string `yaml:"access_token"`
	AppSecret     string `yaml:"app_secret"`
	VerifyToken   string `yaml:"verify_token"`
}

// TwilioConfig holds Twilio WhatsApp credentials
type TwilioConfig struct {
	BaseURL           string `yaml:"base_url"`
	AccountSID        string `yaml:"account_sid"`
	AuthToken         string `yaml:"auth_token"`
	From              string `yaml:"from"`
	StatusCallbackURL string `yaml:"status_callback_url"`
}

// DispatchConfig holds rate limiting and retry settings
type DispatchConfig struct {
	RatePerSecond     float64       `yaml:"rate_per_second"`
	Burst             int           `yaml:"burst"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BatchSize         int           `yaml:"batch_size"`
	DryRun            bool          `yaml:"dry_run"`
}

// WebhookConfig holds callback receiver settings
type WebhookConfig struct {
	MaxUnmatchedRetries int `yaml:"max_unmatched_retries"`
}

// WorkerConfig holds dispatch worker settings
type WorkerConfig struct {
	SweepSchedule string `yaml:"sweep_schedule"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Host:   "localhost",
			Port:   "5432",
			User:   "wabroadcast",
			DBName: "wabroadcast_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     "5672",
			User:     "guest",
			Password: "guest",
			Queue:    "campaign_dispatch",
		},
		Provider: ProviderConfig{
			Name:    ProviderTwilio,
			Timeout: 15 * time.Second,
			Meta: MetaConfig{
				BaseURL:    "https://graph.facebook.com",
				APIVersion: "v21.0",
			},
			Twilio: TwilioConfig{
				BaseURL: "https://api.twilio.com",
			},
		},
		Dispatch: DispatchConfig{
			RatePerSecond:     50,
			Burst:             1,
			MaxAttempts:       4,
			BackoffInitial:    500 * time.Millisecond,
			BackoffMax:        10 * time.Second,
			BackoffMultiplier: 2,
			BatchSize:         100,
		},
		Webhook: WebhookConfig{MaxUnmatchedRetries: 5},
		Worker:  WorkerConfig{SweepSchedule: "@every 1m"},
		Log:     LogConfig{Level: "info", Console: true},
		Env:     "development",
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and
// then from environment variables, which take precedence.
func Load() (*Config, error) {
	config := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	config.Server.Port = getEnv("PORT", config.Server.Port)

	config.Database.Host = getEnv("POSTGRES_HOST", config.Database.Host)
	config.Database.Port = getEnv("POSTGRES_PORT", config.Database.Port)
	config.Database.User = getEnv("POSTGRES_USER", config.Database.User)
	config.Database.Password = getEnv("POSTGRES_PASSWORD", config.Database.Password)
	config.Database.DBName = getEnv("POSTGRES_DB", config.Database.DBName)

	config.RabbitMQ.Host = getEnv("RABBITMQ_HOST", config.RabbitMQ.Host)
	config.RabbitMQ.Port = getEnv("RABBITMQ_PORT", config.RabbitMQ.Port)
	config.RabbitMQ.User = getEnv("RABBITMQ_DEFAULT_USER", config.RabbitMQ.User)
	config.RabbitMQ.Password = getEnv("RABBITMQ_DEFAULT_PASS", config.RabbitMQ.Password)
	config.RabbitMQ.Queue = getEnv("RABBITMQ_QUEUE", config.RabbitMQ.Queue)

	config.Provider.Name = strings.ToLower(getEnv("PROVIDER", config.Provider.Name))
	config.Provider.Timeout = getEnvAsDuration("PROVIDER_TIMEOUT", config.Provider.Timeout)

	config.Provider.Meta.BaseURL = getEnv("WA_BASE_URL", config.Provider.Meta.BaseURL)
	config.Provider.Meta.APIVersion = getEnv("WA_API_VERSION", config.Provider.Meta.APIVersion)
	config.Provider.Meta.PhoneNumberID = getEnv("WA_PHONE_NUMBER_ID", config.Provider.Meta.PhoneNumberID)
	config.Provider.Meta.AccessToken = getEnv("WA_ACCESS_TOKEN", config.Provider.Meta.AccessToken)
	config.Provider.Meta.AppSecret = getEnv("WA_APP_SECRET", config.Provider.Meta.AppSecret)
	config.Provider.Meta.VerifyToken = getEnv("WA_VERIFY_TOKEN", config.Provider.Meta.VerifyToken)

	config.Provider.Twilio.BaseURL = getEnv("TWILIO_BASE_URL", config.Provider.Twilio.BaseURL)
	config.Provider.Twilio.AccountSID = getEnv("TWILIO_ACCOUNT_SID", config.Provider.Twilio.AccountSID)
	config.Provider.Twilio.AuthToken = getEnv("TWILIO_AUTH_TOKEN", config.Provider.Twilio.AuthToken)
	config.Provider.Twilio.From = getEnv("TWILIO_WHATSAPP_FROM", config.Provider.Twilio.From)
	config.Provider.Twilio.StatusCallbackURL = getEnv("TWILIO_STATUS_CALLBACK_URL", config.Provider.Twilio.StatusCallbackURL)

	config.Dispatch.RatePerSecond = getEnvAsFloat("WA_MESSAGES_PER_SECOND", config.Dispatch.RatePerSecond)
	config.Dispatch.Burst = getEnvAsInt("WA_BURST", config.Dispatch.Burst)
	config.Dispatch.MaxAttempts = getEnvAsInt("DISPATCH_MAX_ATTEMPTS", config.Dispatch.MaxAttempts)
	config.Dispatch.BackoffInitial = getEnvAsDuration("DISPATCH_BACKOFF_INITIAL", config.Dispatch.BackoffInitial)
	config.Dispatch.BackoffMax = getEnvAsDuration("DISPATCH_BACKOFF_MAX", config.Dispatch.BackoffMax)
	config.Dispatch.BackoffMultiplier = getEnvAsFloat("DISPATCH_BACKOFF_MULTIPLIER", config.Dispatch.BackoffMultiplier)
	config.Dispatch.BatchSize = getEnvAsInt("DISPATCH_BATCH_SIZE", config.Dispatch.BatchSize)
	config.Dispatch.DryRun = getEnvAsBool("DISPATCH_DRY_RUN", config.Dispatch.DryRun)

	config.Webhook.MaxUnmatchedRetries = getEnvAsInt("WEBHOOK_MAX_UNMATCHED_RETRIES", config.Webhook.MaxUnmatchedRetries)
	config.Worker.SweepSchedule = getEnv("WORKER_SWEEP_SCHEDULE", config.Worker.SweepSchedule)

	config.Log.Level = getEnv("LOG_LEVEL", config.Log.Level)
	config.Log.Console = getEnvAsBool("LOG_CONSOLE", config.Log.Console)
	config.Env = getEnv("ENV", config.Env)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadFile overlays YAML settings on top of the defaults
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks required fields
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Password == "" {
		errs = append(errs, errors.New("POSTGRES_PASSWORD is required"))
	}

	switch c.Provider.Name {
	case ProviderMeta:
		if c.Provider.Meta.PhoneNumberID == "" {
			errs = append(errs, errors.New("WA_PHONE_NUMBER_ID is required for the meta provider"))
		}
		if c.Provider.Meta.AccessToken == "" {
			errs = append(errs, errors.New("WA_ACCESS_TOKEN is required for the meta provider"))
		}
		if c.Provider.Meta.AppSecret == "" {
			errs = append(errs, errors.New("WA_APP_SECRET is required for the meta provider"))
		}
	case ProviderTwilio:
		if c.Provider.Twilio.AccountSID == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required for the twilio provider"))
		}
		if c.Provider.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required for the twilio provider"))
		}
		if c.Provider.Twilio.From == "" {
			errs = append(errs, errors.New("TWILIO_WHATSAPP_FROM is required for the twilio provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PROVIDER %q: use 'meta' or 'twilio'", c.Provider.Name))
	}

	if c.Dispatch.RatePerSecond <= 0 {
		errs = append(errs, errors.New("WA_MESSAGES_PER_SECOND must be positive"))
	}
	if c.Dispatch.Burst < 1 {
		errs = append(errs, errors.New("WA_BURST must be at least 1"))
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, errors.New("DISPATCH_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Dispatch.BackoffMax > 0 && c.Dispatch.BackoffInitial > c.Dispatch.BackoffMax {
		errs = append(errs, fmt.Errorf("DISPATCH_BACKOFF_INITIAL (%s) exceeds DISPATCH_BACKOFF_MAX (%s)",
			c.Dispatch.BackoffInitial, c.Dispatch.BackoffMax))
	}

	return errors.Join(errs...)
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("750ms") or plain seconds ("15")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
