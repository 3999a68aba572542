package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	JWT         JWTConfig      `mapstructure:"jwt"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
	Chains      ChainsConfig   `mapstructure:"chains"`
	Monitoring  MonitorConfig  `mapstructure:"monitoring"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
	Queue       QueueConfig    `mapstructure:"queue"`
	Workers     WorkerConfig   `mapstructure:"workers"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret    string `mapstructure:"secret"`
	AccessTTL int    `mapstructure:"access_token_ttl"`
	Issuer    string `mapstructure:"issuer"`
}

// TracingConfig controls the OTLP exporter
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// ChainsConfig groups the chain indexer providers
type ChainsConfig struct {
	TronGrid  ChainProviderConfig `mapstructure:"trongrid"`
	Etherscan ChainProviderConfig `mapstructure:"etherscan"`
}

// ChainProviderConfig describes one chain indexing API
type ChainProviderConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Timeout           int     `mapstructure:"timeout"` // seconds
	PageSize          int     `mapstructure:"page_size"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	ContractAddress   string  `mapstructure:"contract_address"`
}

// MonitorConfig contains polling scheduler configuration
type MonitorConfig struct {
	PollIntervalMs   int    `mapstructure:"poll_interval_ms"`
	ErrorBackoffMs   int    `mapstructure:"error_backoff_ms"`
	StaleThresholdMs int    `mapstructure:"stale_threshold_ms"`
	SweepSchedule    string `mapstructure:"sweep_schedule"`
	RestartOnBoot    bool   `mapstructure:"restart_on_boot"`
	ReconcileWorkers int    `mapstructure:"reconcile_workers"`
}

// WebhookConfig contains outbound webhook delivery configuration
type WebhookConfig struct {
	Timeout         int    `mapstructure:"timeout"` // seconds
	DefaultHeader   string `mapstructure:"default_header"`
	UserAgent       string `mapstructure:"user_agent"`
	MaxResponseBody int64  `mapstructure:"max_response_body"`
	RecoveryGrace   int    `mapstructure:"recovery_grace"` // seconds
	RecoveryBatch   int    `mapstructure:"recovery_batch"`
}

// QueueConfig selects the job queue backend
type QueueConfig struct {
	Driver       string `mapstructure:"driver"` // "memory" or "redis"
	KeyPrefix    string `mapstructure:"key_prefix"`
	PollInterval int    `mapstructure:"poll_interval_ms"`
	BatchSize    int    `mapstructure:"batch_size"`
}

// WorkerConfig contains background worker configuration
type WorkerConfig struct {
	Count      int `mapstructure:"count"`
	JobTimeout int `mapstructure:"job_timeout"`
}

// PollInterval returns the normal delay between poll cycles
func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMs) * time.Millisecond
}

// ErrorBackoff returns the delay used after a failed fetch
func (m MonitorConfig) ErrorBackoff() time.Duration {
	return time.Duration(m.ErrorBackoffMs) * time.Millisecond
}

// StaleThreshold returns the age after which an active run counts as stale
func (m MonitorConfig) StaleThreshold() time.Duration {
	return time.Duration(m.StaleThresholdMs) * time.Millisecond
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 100)
	viper.SetDefault("server.allowed_origins", []string{"*"})

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "tracker_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.migrations_path", "file://migrations")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("jwt.access_token_ttl", 604800) // 7 days
	viper.SetDefault("jwt.issuer", "tracker_service")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)

	viper.SetDefault("chains.trongrid.base_url", "https://api.trongrid.io")
	viper.SetDefault("chains.trongrid.timeout", 10)
	viper.SetDefault("chains.trongrid.page_size", 10)
	viper.SetDefault("chains.trongrid.requests_per_second", 10)
	viper.SetDefault("chains.trongrid.contract_address", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")
	viper.SetDefault("chains.etherscan.base_url", "https://api.etherscan.io/api")
	viper.SetDefault("chains.etherscan.timeout", 10)
	viper.SetDefault("chains.etherscan.page_size", 10)
	viper.SetDefault("chains.etherscan.requests_per_second", 5)

	viper.SetDefault("monitoring.poll_interval_ms", 5000)
	viper.SetDefault("monitoring.error_backoff_ms", 30000)
	viper.SetDefault("monitoring.stale_threshold_ms", 60000)
	viper.SetDefault("monitoring.sweep_schedule", "@every 1m")
	viper.SetDefault("monitoring.restart_on_boot", true)
	viper.SetDefault("monitoring.reconcile_workers", 8)

	viper.SetDefault("webhook.timeout", 10)
	viper.SetDefault("webhook.default_header", "X-Webhook-Verification")
	viper.SetDefault("webhook.user_agent", "CryptoTracker/1.0")
	viper.SetDefault("webhook.max_response_body", 64*1024)
	viper.SetDefault("webhook.recovery_grace", 60)
	viper.SetDefault("webhook.recovery_batch", 100)

	viper.SetDefault("queue.driver", "memory")
	viper.SetDefault("queue.key_prefix", "tracker:jobs")
	viper.SetDefault("queue.poll_interval_ms", 250)
	viper.SetDefault("queue.batch_size", 50)

	viper.SetDefault("workers.count", 10)
	viper.SetDefault("workers.job_timeout", 60)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		viper.Set("redis.host", redisHost)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		viper.Set("redis.password", redisPassword)
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}

	// Provider keys are optional at boot; a missing key fails only the fetch that needs it.
	if tronKey := os.Getenv("TRONGRID_API_KEY"); tronKey != "" {
		viper.Set("chains.trongrid.api_key", tronKey)
	}
	if etherscanKey := os.Getenv("ETHERSCAN_API_KEY"); etherscanKey != "" {
		viper.Set("chains.etherscan.api_key", etherscanKey)
	}

	if driver := os.Getenv("QUEUE_DRIVER"); driver != "" {
		viper.Set("queue.driver", strings.ToLower(driver))
	}

	if collector := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); collector != "" {
		viper.Set("tracing.enabled", true)
		viper.Set("tracing.collector_url", collector)
	}
}

func validate(config *Config) error {
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	switch config.Queue.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported queue driver %q", config.Queue.Driver)
	}

	if config.Monitoring.PollIntervalMs <= 0 || config.Monitoring.ErrorBackoffMs <= 0 {
		return fmt.Errorf("monitoring intervals must be positive")
	}

	if config.Webhook.Timeout <= 0 || config.Chains.TronGrid.Timeout <= 0 || config.Chains.Etherscan.Timeout <= 0 {
		return fmt.Errorf("outbound HTTP timeouts must be positive")
	}

	return nil
}
