package config

import (
	"log/slog"
	"time"
)

type YamlReconnectConfig struct {
	BaseDelayMillis int `yaml:"base_delay_ms"`
	MaxAttempts     int `yaml:"max_attempts"`
}

type YamlCacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	BrokerURL           string              `yaml:"broker_url"`
	APIBaseURL          string              `yaml:"api_base_url"`
	PollIntervalSeconds int                 `yaml:"poll_interval_seconds"`
	PageSize            int                 `yaml:"page_size"`
	ReconnectConfig     YamlReconnectConfig `yaml:"reconnect"`
	CacheConfig         YamlCacheConfig     `yaml:"cache"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		BrokerURL:    baseCfg.BrokerURL,
		APIBaseURL:   baseCfg.APIBaseURL,
		PollInterval: time.Duration(baseCfg.PollIntervalSeconds) * time.Second,
		PageSize:     baseCfg.PageSize,
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Duration(baseCfg.ReconnectConfig.BaseDelayMillis) * time.Millisecond,
			MaxAttempts: baseCfg.ReconnectConfig.MaxAttempts,
		},
		CacheTTL: time.Duration(baseCfg.CacheConfig.TTLSeconds) * time.Second,
	}

	logger.Debug("YAML config mapping complete",
		"broker_url", cfg.BrokerURL,
		"api_base_url", cfg.APIBaseURL,
		"poll_interval", cfg.PollInterval,
	)

	return cfg, nil
}
