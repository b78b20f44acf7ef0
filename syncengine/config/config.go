package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type ReconnectConfig struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

type AuthConfig struct {
	AccessToken string
	UserSub     string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	BrokerURL    string
	APIBaseURL   string
	PollInterval time.Duration
	PageSize     int
	CacheTTL     time.Duration

	Reconnect ReconnectConfig
	Auth      AuthConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("BROKER_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "BROKER_URL", "source", "env")
		cfg.BrokerURL = val
	}
	if val := os.Getenv("API_BASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "API_BASE_URL", "source", "env")
		cfg.APIBaseURL = val
	}
	if val := os.Getenv("POLL_INTERVAL_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			logger.Debug("Overriding config value", "key", "POLL_INTERVAL_SECONDS", "source", "env")
			cfg.PollInterval = time.Duration(secs) * time.Second
		}
	}
	if val := os.Getenv("PAGE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			logger.Debug("Overriding config value", "key", "PAGE_SIZE", "source", "env")
			cfg.PageSize = size
		}
	}
	if val := os.Getenv("CACHE_TTL_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			logger.Debug("Overriding config value", "key", "CACHE_TTL_SECONDS", "source", "env")
			cfg.CacheTTL = time.Duration(secs) * time.Second
		}
	}

	// Reconnect Overrides
	if val := os.Getenv("RECONNECT_BASE_DELAY_MS"); val != "" {
		if millis, err := strconv.Atoi(val); err == nil && millis > 0 {
			cfg.Reconnect.BaseDelay = time.Duration(millis) * time.Millisecond
		}
	}
	if val := os.Getenv("RECONNECT_MAX_ATTEMPTS"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil && attempts > 0 {
			cfg.Reconnect.MaxAttempts = attempts
		}
	}

	// Auth Overrides (credentials are env-only, never YAML)
	if val := os.Getenv("ACCESS_TOKEN"); val != "" {
		logger.Debug("Overriding config value", "key", "ACCESS_TOKEN", "source", "env")
		cfg.Auth.AccessToken = val
	}
	if val := os.Getenv("USER_SUB"); val != "" {
		logger.Debug("Overriding config value", "key", "USER_SUB", "source", "env")
		cfg.Auth.UserSub = val
	}

	// 2. Final Validation
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("broker_url is required (set via YAML or BROKER_URL env var)")
	}
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("api_base_url is required (set via YAML or API_BASE_URL env var)")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.Reconnect.BaseDelay <= 0 {
		cfg.Reconnect.BaseDelay = time.Second
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect.MaxAttempts = 5
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
