package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MigrationsPath string `mapstructure:"migrations_path"`
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type PlatformConfig struct {
	Name           string
	BaseURL        string `mapstructure:"base_url"`
	Token          string
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type SyncConfig struct {
	PageSize          int           `mapstructure:"page_size"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	InitialWindowDays int           `mapstructure:"initial_window_days"`
	Overlap           time.Duration `mapstructure:"overlap"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	Interval          time.Duration `mapstructure:"interval"`
	StaleGrace        time.Duration `mapstructure:"stale_grace"`
	Scheduled         bool          `mapstructure:"scheduled"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level  string
	Format string
}

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Platform PlatformConfig
	Sync     SyncConfig
	Cache    CacheConfig
	Log      LogConfig
}

// Load reads configuration from an optional YAML file and the
// GITMETRICS_* environment, validating the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GITMETRICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "gitmetrics")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("platform.name", "gitlab")
	v.SetDefault("platform.base_url", "https://gitlab.com/api/v4")
	v.SetDefault("platform.request_timeout", "30s")

	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_backoff", "2s")
	v.SetDefault("sync.initial_window_days", 30)
	v.SetDefault("sync.overlap", "1h")
	v.SetDefault("sync.run_timeout", "10m")
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.interval", "1h")
	v.SetDefault("sync.stale_grace", "30m")
	v.SetDefault("sync.scheduled", true)

	v.SetDefault("cache.ttl", "1h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.SSLMode == "" {
		return fmt.Errorf("database sslmode is required")
	}

	if c.Platform.Name == "" {
		return fmt.Errorf("platform name is required")
	}
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform base URL is required")
	}
	if c.Platform.Token == "" {
		return fmt.Errorf("platform token is required")
	}

	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("invalid sync page size: %d", c.Sync.PageSize)
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("invalid sync concurrency: %d", c.Sync.Concurrency)
	}

	return nil
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
