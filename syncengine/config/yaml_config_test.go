package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-sync/syncengine/config"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			BrokerURL:           "ws://yaml-broker/notifications/ws",
			APIBaseURL:          "http://yaml-api/api",
			PollIntervalSeconds: 15,
			PageSize:            25,
			ReconnectConfig: config.YamlReconnectConfig{
				BaseDelayMillis: 2000,
				MaxAttempts:     3,
			},
			CacheConfig: config.YamlCacheConfig{
				TTLSeconds: 60,
			},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "ws://yaml-broker/notifications/ws", cfg.BrokerURL)
		assert.Equal(t, "http://yaml-api/api", cfg.APIBaseURL)
		assert.Equal(t, 15*time.Second, cfg.PollInterval)
		assert.Equal(t, 25, cfg.PageSize)
		assert.Equal(t, 2*time.Second, cfg.Reconnect.BaseDelay)
		assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
		assert.Equal(t, time.Minute, cfg.CacheTTL)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			BrokerURL:  "ws://minimal-broker/ws",
			APIBaseURL: "http://minimal-api/api",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "ws://minimal-broker/ws", cfg.BrokerURL)
		assert.Zero(t, cfg.PollInterval)
		assert.Zero(t, cfg.PageSize)
		assert.Empty(t, cfg.Auth.AccessToken)
	})
}
