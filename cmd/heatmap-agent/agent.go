package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vincentbai/heatmap-agent/internal/analytics"
	"github.com/vincentbai/heatmap-agent/internal/config"
	"github.com/vincentbai/heatmap-agent/internal/database"
	"github.com/vincentbai/heatmap-agent/internal/storage"
	"github.com/vincentbai/heatmap-agent/internal/webhook"
)

// applicationDirectory is the platform-specific app data dir.
func applicationDirectory() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", "HeatmapAgent"), nil
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", "HeatmapAgent"), nil
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", "HeatmapAgent"), nil
	}
}

func databasePath(cfg *config.Config) (string, error) {
	if cfg.Storage.Path != "" {
		return cfg.Storage.Path, nil
	}
	dir, err := applicationDirectory()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create application directory: %w", err)
	}
	return filepath.Join(dir, "events.db"), nil
}

// agent is everything a command needs, opened from one config.
type agent struct {
	db        *database.Database
	store     *storage.Store
	webhook   *webhook.Client
	analytics *analytics.Analytics
}

func openAgent(cfg *config.Config, logger *slog.Logger, metrics *analytics.Metrics) (*agent, error) {
	path, err := databasePath(cfg)
	if err != nil {
		return nil, err
	}
	db, err := database.NewDatabase(path, database.WithQuota(cfg.Storage.Quota))
	if err != nil {
		return nil, err
	}
	logger.Debug("database opened", "path", path)

	store := storage.New(db,
		storage.WithLogger(logger),
		storage.WithLimits(cfg.Storage.MaxBytes, cfg.Storage.WarningRatio),
		storage.WithWarningHandler(metrics.StorageWarning),
		storage.WithEvictionHandler(metrics.Evicted),
	)

	opts := []analytics.Option{analytics.WithLogger(logger), analytics.WithMetrics(metrics)}
	client := webhook.NewClient(cfg.Webhook(), store, webhook.WithLogger(logger))
	if client.Enabled() {
		opts = append(opts, analytics.WithCollector(client))
	} else {
		client = nil
	}

	a, err := analytics.New(store, cfg.Analytics(), opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &agent{db: db, store: store, webhook: client, analytics: a}, nil
}

func (ag *agent) Close() error {
	return ag.db.Close()
}
