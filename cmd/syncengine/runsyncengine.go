package main

import (
	"context"
	_ "embed"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tinywideclouds/go-notification-sync/internal/api"
	"github.com/tinywideclouds/go-notification-sync/internal/transport"
	"github.com/tinywideclouds/go-notification-sync/pkg/bus"
	"github.com/tinywideclouds/go-notification-sync/pkg/notification"
	"github.com/tinywideclouds/go-notification-sync/syncengine"
	"github.com/tinywideclouds/go-notification-sync/syncengine/config"

	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-notification-sync")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	if cfg.Auth.UserSub == "" {
		logger.Error("No session user configured (set USER_SUB)")
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	conn := transport.NewClient(cfg.BrokerURL, logger)
	backend := api.NewClient(cfg.APIBaseURL, api.StaticTokenSource{
		Token: cfg.Auth.AccessToken,
		Sub:   cfg.Auth.UserSub,
	}, logger)

	// --- Engine ---
	engine := syncengine.New(cfg, conn, backend, logger)

	// Log the event stream so a headless run shows what a UI would render.
	engine.Bus().OnNotification(func(n notification.Notification) {
		logger.Info("Notification arrived.", "id", n.ID, "title", n.Title, "category", n.Category)
	})
	engine.Bus().OnUnreadCount(func(count int) {
		logger.Info("Unread count changed.", "unread", count)
	})
	engine.Bus().OnChannelState(func(state bus.ChannelState) {
		logger.Info("Push channel state changed.", "state", state)
	})

	logger.Info("Starting sync session...", "user_sub", cfg.Auth.UserSub)
	if err := engine.Start(ctx, cfg.Auth.UserSub); err != nil {
		logger.Error("Session start failed", "err", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down...")
	engine.Stop()
}
