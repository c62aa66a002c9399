package config

import (
	"fmt"
	"time"

	"github.com/peng-cmdt/SimpleMES-sub001/pkg/monitor"
	"github.com/spf13/viper"
)

// Config is the application configuration, loaded from config.yaml with
// environment overrides (prefix MES_).
type Config struct {
	HTTPPort string         `mapstructure:"http_port"`
	Database DatabaseConfig `mapstructure:"database"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type GatewayConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	RequestTimeoutMs int    `mapstructure:"request_timeout_ms"`
}

// MonitorConfig carries the device polling cadence. The values mirror the
// historical fixed constants (1s poll, 30s timeout, 500ms grace) but are
// configuration here.
type MonitorConfig struct {
	PollIntervalMs   int `mapstructure:"poll_interval_ms"`
	DefaultTimeoutMs int `mapstructure:"default_timeout_ms"`
	AdvanceGraceMs   int `mapstructure:"advance_grace_ms"`
	ReadTimeoutMs    int `mapstructure:"read_timeout_ms"`
}

// Load reads config.yaml from the working directory. A missing file is not
// an error; defaults and environment variables still apply.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("MES")
	viper.AutomaticEnv()

	viper.SetDefault("http_port", "8080")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("gateway.request_timeout_ms", 5000)
	viper.SetDefault("monitor.poll_interval_ms", 1000)
	viper.SetDefault("monitor.default_timeout_ms", 30000)
	viper.SetDefault("monitor.advance_grace_ms", 500)
	viper.SetDefault("monitor.read_timeout_ms", 3000)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// ConnString builds the Postgres connection string.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Name, c.Database.SSLMode)
}

// MonitorSettings converts the configured cadence into monitor.Config.
func (c *Config) MonitorSettings() monitor.Config {
	return monitor.Config{
		PollInterval:   time.Duration(c.Monitor.PollIntervalMs) * time.Millisecond,
		DefaultTimeout: time.Duration(c.Monitor.DefaultTimeoutMs) * time.Millisecond,
		AdvanceGrace:   time.Duration(c.Monitor.AdvanceGraceMs) * time.Millisecond,
		ReadTimeout:    time.Duration(c.Monitor.ReadTimeoutMs) * time.Millisecond,
	}
}

// GatewayTimeout returns the per-request gateway timeout.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutMs) * time.Millisecond
}
