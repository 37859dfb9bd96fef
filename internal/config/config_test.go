package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8123", cfg.Server.Address)
	assert.Equal(t, 200*time.Millisecond, cfg.Tracking.ScrollDebounce)
	assert.Equal(t, 0.1, cfg.Tracking.MouseSamplingRate)
	assert.Equal(t, int64(5*1024*1024), cfg.Storage.MaxBytes)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: 127.0.0.1:9000
  cors_origins: [http://shop.test]
tracking:
  scroll_debounce: 250ms
  mouse_sampling_rate: 0.5
render:
  grid_size: 40
  colors:
    high: "#ff00ff"
api:
  base_url: https://collector.test
  sync_interval: 30s
log:
  level: debug
`), 0o600))
	t.Setenv("HEATMAP_API_API_KEY", "secret")
	t.Setenv("HEATMAP_SERVER_ADDRESS", "127.0.0.1:9100")

	cfg, err := Load(New(path))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Address, "environment beats file")
	assert.Equal(t, []string{"http://shop.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracking.ScrollDebounce)
	assert.Equal(t, 0.5, cfg.Tracking.MouseSamplingRate)
	assert.Equal(t, 40, cfg.Render.GridSize)
	assert.Equal(t, "#ff00ff", cfg.Render.Colors.High)
	assert.Equal(t, "#0000FF", cfg.Render.Colors.Low, "unset keys keep defaults")
	assert.Equal(t, "secret", cfg.API.APIKey)

	a := cfg.Analytics()
	assert.Equal(t, 30*time.Second, a.SyncInterval)
	assert.Equal(t, 40, a.Render.GridSize)
	assert.Equal(t, "https://collector.test", cfg.Webhook().BaseURL)
	assert.Equal(t, "127.0.0.1:9100", cfg.HTTPServer().Address)
	assert.Equal(t, "DEBUG", cfg.SlogLevel().String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"sampling rate above one", func(c *Config) { c.Tracking.MouseSamplingRate = 1.5 }, "tracking.mouse_sampling_rate"},
		{"negative sampling rate", func(c *Config) { c.Tracking.MouseSamplingRate = -0.1 }, "tracking.mouse_sampling_rate"},
		{"zero grid", func(c *Config) { c.Render.GridSize = 0 }, "render"},
		{"inverted opacity", func(c *Config) { c.Render.Opacity.Min, c.Render.Opacity.Max = 0.9, 0.2 }, "render"},
		{"warning ratio zero", func(c *Config) { c.Storage.WarningRatio = 0 }, "storage.warning_ratio"},
		{"warning ratio above one", func(c *Config) { c.Storage.WarningRatio = 1.2 }, "storage.warning_ratio"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"no retries", func(c *Config) { c.API.MaxRetries = 0 }, "api.max_retries"},
		{"empty viewport", func(c *Config) { c.Tracking.ViewportWidth = 0 }, "tracking.viewport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Render.GridSize = -1
	err := ValidationErrors(cfg.Validate())
	assert.Contains(t, err.Error(), "2 validation errors")
	assert.Contains(t, err.Error(), "log.level")
}
