package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the session shell.
// Tags use mapstructure for Viper unmarshalling.
type Config struct {
	APIBaseURL       string `mapstructure:"API_BASE_URL"`
	HTTPTimeoutSec   int    `mapstructure:"HTTP_TIMEOUT_SEC"`
	StartupTimeout   int    `mapstructure:"STARTUP_TIMEOUT_SEC"`
	CoalesceWindowMS int    `mapstructure:"COALESCE_WINDOW_MS"`
	ReloadDelayMS    int    `mapstructure:"RELOAD_DELAY_MS"`
	OptionsCacheSec  int    `mapstructure:"OPTIONS_CACHE_SEC"`
	StorePath        string `mapstructure:"STORE_PATH"`
	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisPrefix      string `mapstructure:"REDIS_PREFIX"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`
	LogPretty        bool   `mapstructure:"LOG_PRETTY"`
}

// HTTPTimeout returns the auth client transport timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// StartupWatchdog returns the startup sequence watchdog duration.
func (c *Config) StartupWatchdog() time.Duration {
	return time.Duration(c.StartupTimeout) * time.Second
}

// CoalesceWindow returns the inbound message coalescing window.
func (c *Config) CoalesceWindow() time.Duration {
	return time.Duration(c.CoalesceWindowMS) * time.Millisecond
}

// ReloadDelay returns the delay before a post-logout content reload.
func (c *Config) ReloadDelay() time.Duration {
	return time.Duration(c.ReloadDelayMS) * time.Millisecond
}

// OptionsCacheTTL returns how long device login options are cached.
func (c *Config) OptionsCacheTTL() time.Duration {
	return time.Duration(c.OptionsCacheSec) * time.Second
}

// Load reads configuration from file, environment variables, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("sessionbridge")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/sessionbridge/")
	v.AddConfigPath("$HOME/.sessionbridge")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SESSIONBRIDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("API_BASE_URL", "http://localhost:8080")
	v.SetDefault("HTTP_TIMEOUT_SEC", 30)
	v.SetDefault("STARTUP_TIMEOUT_SEC", 15)
	v.SetDefault("COALESCE_WINDOW_MS", 50)
	v.SetDefault("RELOAD_DELAY_MS", 300)
	v.SetDefault("OPTIONS_CACHE_SEC", 30)
	v.SetDefault("STORE_PATH", "sessionbridge.cred")
	// REDIS_ADDR is empty by default: credentials live in the local
	// encrypted file unless a hosted deployment points at Redis.
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PREFIX", "sessionbridge")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
