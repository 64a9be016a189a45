package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Supported STORE_DRIVER values
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
)

// Config holds the application configuration
type Config struct {
	ServerAddress   string        `mapstructure:"SERVER_ADDRESS"`
	GRPCAddress     string        `mapstructure:"GRPC_ADDRESS"`
	StoreDriver     string        `mapstructure:"STORE_DRIVER"`
	PostgresConn    string        `mapstructure:"POSTGRES_CONN"`
	MySQLDSN        string        `mapstructure:"MYSQL_DSN"`
	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	MigrationURL    string        `mapstructure:"MIGRATION_URL"`
	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	CloserWorkers   int           `mapstructure:"CLOSER_WORKERS"`
	CloserTimeout   time.Duration `mapstructure:"CLOSER_LOT_TIMEOUT"`
	BidRetryLimit   int           `mapstructure:"BID_RETRY_LIMIT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
}

var defaults = map[string]any{
	"SERVER_ADDRESS":     ":8080",
	"GRPC_ADDRESS":       ":50051",
	"STORE_DRIVER":       DriverMemory,
	"POSTGRES_CONN":      "",
	"MYSQL_DSN":          "",
	"REDIS_ADDR":         "localhost:6379",
	"MIGRATION_URL":      "",
	"SWEEP_INTERVAL":     "60s",
	"CLOSER_WORKERS":     4,
	"CLOSER_LOT_TIMEOUT": "10s",
	"BID_RETRY_LIMIT":    3,
	"SHUTDOWN_TIMEOUT":   "10s",
	"LOG_LEVEL":          "info",
}

// LoadConfig reads app.env from path when present, then overlays environment variables
func LoadConfig(path string) (cfg Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err = v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration is usable
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.PostgresConn == "" {
			return fmt.Errorf("config: POSTGRES_CONN is required for the %s driver", c.StoreDriver)
		}
	case DriverMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("config: MYSQL_DSN is required for the %s driver", c.StoreDriver)
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: REDIS_ADDR is required for the %s driver", c.StoreDriver)
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.CloserWorkers <= 0 {
		return fmt.Errorf("config: CLOSER_WORKERS must be positive, got %d", c.CloserWorkers)
	}
	if c.CloserTimeout <= 0 {
		return fmt.Errorf("config: CLOSER_LOT_TIMEOUT must be positive, got %s", c.CloserTimeout)
	}
	if c.BidRetryLimit < 0 {
		return fmt.Errorf("config: BID_RETRY_LIMIT must not be negative, got %d", c.BidRetryLimit)
	}
	return nil
}
