// Package config loads the agent configuration from defaults, an optional
// YAML file and HEATMAP_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vincentbai/heatmap-agent/internal/analytics"
	"github.com/vincentbai/heatmap-agent/internal/database"
	"github.com/vincentbai/heatmap-agent/internal/heatmap"
	"github.com/vincentbai/heatmap-agent/internal/page"
	"github.com/vincentbai/heatmap-agent/internal/server"
	"github.com/vincentbai/heatmap-agent/internal/storage"
	"github.com/vincentbai/heatmap-agent/internal/tracking"
	"github.com/vincentbai/heatmap-agent/internal/webhook"
)

// EnvPrefix prefixes every environment override, e.g. HEATMAP_SERVER_ADDRESS.
const EnvPrefix = "HEATMAP"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Render   heatmap.Config `mapstructure:"render"`
	API      APIConfig      `mapstructure:"api"`
	Funnels  FunnelsConfig  `mapstructure:"funnels"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// IngestRateLimit is /events requests per client IP per minute.
	IngestRateLimit int `mapstructure:"ingest_rate_limit"`
}

type StorageConfig struct {
	// Path is the SQLite file. Empty means events.db in the platform
	// application directory.
	Path         string  `mapstructure:"path"`
	MaxBytes     int64   `mapstructure:"max_bytes"`
	WarningRatio float64 `mapstructure:"warning_ratio"`
	Quota        int64   `mapstructure:"quota"`
}

type TrackingConfig struct {
	PageURL           string        `mapstructure:"page_url"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	AutoStart         bool          `mapstructure:"auto_start"`
	ScrollDebounce    time.Duration `mapstructure:"scroll_debounce"`
	MouseThrottle     time.Duration `mapstructure:"mouse_throttle"`
	MouseSamplingRate float64       `mapstructure:"mouse_sampling_rate"`
}

type APIConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	ProjectID     string        `mapstructure:"project_id"`
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type FunnelsConfig struct {
	// File is an optional YAML file of funnel definitions imported at startup.
	File   string `mapstructure:"file"`
	Origin string `mapstructure:"origin"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func Default() *Config {
	analyticsDefaults := analytics.DefaultConfig()
	serverDefaults := server.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:         serverDefaults.Address,
			ReadTimeout:     serverDefaults.ReadTimeout,
			WriteTimeout:    serverDefaults.WriteTimeout,
			ShutdownTimeout: serverDefaults.ShutdownTimeout,
			CORSOrigins:     serverDefaults.CORSOrigins,
			IngestRateLimit: serverDefaults.IngestRateLimit,
		},
		Storage: StorageConfig{
			MaxBytes:     storage.DefaultMaxBytes,
			WarningRatio: storage.DefaultWarningRatio,
			Quota:        database.DefaultQuota,
		},
		Tracking: TrackingConfig{
			PageURL:           analyticsDefaults.URL,
			ViewportWidth:     analyticsDefaults.Viewport.Width,
			ViewportHeight:    analyticsDefaults.Viewport.Height,
			AutoStart:         analyticsDefaults.AutoStart,
			ScrollDebounce:    tracking.DefaultScrollDebounce,
			MouseThrottle:     tracking.DefaultMouseThrottle,
			MouseSamplingRate: tracking.DefaultMouseSamplingRate,
		},
		Render: heatmap.DefaultConfig(),
		API: APIConfig{
			SyncInterval: analyticsDefaults.SyncInterval,
			MaxRetries:   webhook.DefaultMaxRetries,
			Timeout:      10 * time.Second,
		},
		Funnels: FunnelsConfig{Origin: analyticsDefaults.FunnelOrigin},
		Log:     LogConfig{Level: "info"},
	}
}

// SetDefaults registers every default with v so that file and environment
// values layer on top of them.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.ingest_rate_limit", d.Server.IngestRateLimit)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.max_bytes", d.Storage.MaxBytes)
	v.SetDefault("storage.warning_ratio", d.Storage.WarningRatio)
	v.SetDefault("storage.quota", d.Storage.Quota)

	v.SetDefault("tracking.page_url", d.Tracking.PageURL)
	v.SetDefault("tracking.viewport_width", d.Tracking.ViewportWidth)
	v.SetDefault("tracking.viewport_height", d.Tracking.ViewportHeight)
	v.SetDefault("tracking.auto_start", d.Tracking.AutoStart)
	v.SetDefault("tracking.scroll_debounce", d.Tracking.ScrollDebounce)
	v.SetDefault("tracking.mouse_throttle", d.Tracking.MouseThrottle)
	v.SetDefault("tracking.mouse_sampling_rate", d.Tracking.MouseSamplingRate)

	v.SetDefault("render.colors.low", d.Render.Colors.Low)
	v.SetDefault("render.colors.medium", d.Render.Colors.Medium)
	v.SetDefault("render.colors.high", d.Render.Colors.High)
	v.SetDefault("render.opacity.min", d.Render.Opacity.Min)
	v.SetDefault("render.opacity.max", d.Render.Opacity.Max)
	v.SetDefault("render.grid_size", d.Render.GridSize)

	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.api_key", d.API.APIKey)
	v.SetDefault("api.project_id", d.API.ProjectID)
	v.SetDefault("api.sync_interval", d.API.SyncInterval)
	v.SetDefault("api.max_retries", d.API.MaxRetries)
	v.SetDefault("api.rate_per_second", d.API.RatePerSecond)
	v.SetDefault("api.timeout", d.API.Timeout)

	v.SetDefault("funnels.file", d.Funnels.File)
	v.SetDefault("funnels.origin", d.Funnels.Origin)

	v.SetDefault("log.level", d.Log.Level)
}

// New returns a viper instance with defaults and environment overrides
// wired. configFile may be empty.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if one is set on v, and unmarshals and
// validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Analytics maps the tracking, render and API sections onto the pipeline
// configuration.
func (c *Config) Analytics() analytics.Config {
	return analytics.Config{
		URL:               c.Tracking.PageURL,
		Viewport:          page.Viewport{Width: c.Tracking.ViewportWidth, Height: c.Tracking.ViewportHeight},
		AutoStart:         c.Tracking.AutoStart,
		ScrollDebounce:    c.Tracking.ScrollDebounce,
		MouseSamplingRate: c.Tracking.MouseSamplingRate,
		MouseThrottle:     c.Tracking.MouseThrottle,
		ProjectID:         c.API.ProjectID,
		FunnelOrigin:      c.Funnels.Origin,
		SyncInterval:      c.API.SyncInterval,
		Render:            c.Render,
	}
}

func (c *Config) HTTPServer() server.Config {
	return server.Config{
		Address:         c.Server.Address,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		CORSOrigins:     c.Server.CORSOrigins,
		IngestRateLimit: c.Server.IngestRateLimit,
	}
}

func (c *Config) Webhook() webhook.Config {
	return webhook.Config{
		BaseURL:       c.API.BaseURL,
		APIKey:        c.API.APIKey,
		ProjectID:     c.API.ProjectID,
		MaxRetries:    c.API.MaxRetries,
		RatePerSecond: c.API.RatePerSecond,
		Timeout:       c.API.Timeout,
	}
}

// SlogLevel parses the log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
