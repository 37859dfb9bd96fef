package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate returns every invalid setting found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Server.Address == "" {
		add("server.address", c.Server.Address, "must not be empty")
	}
	if c.Server.IngestRateLimit < 0 {
		add("server.ingest_rate_limit", c.Server.IngestRateLimit, "must not be negative")
	}

	if c.Storage.MaxBytes <= 0 {
		add("storage.max_bytes", c.Storage.MaxBytes, "must be positive")
	}
	if c.Storage.WarningRatio <= 0 || c.Storage.WarningRatio > 1 {
		add("storage.warning_ratio", c.Storage.WarningRatio, "must be in (0, 1]")
	}

	if _, err := url.Parse(c.Tracking.PageURL); err != nil || c.Tracking.PageURL == "" {
		add("tracking.page_url", c.Tracking.PageURL, "must be a URL")
	}
	if c.Tracking.ViewportWidth <= 0 || c.Tracking.ViewportHeight <= 0 {
		add("tracking.viewport", fmt.Sprintf("%dx%d", c.Tracking.ViewportWidth, c.Tracking.ViewportHeight), "must be positive")
	}
	if c.Tracking.MouseSamplingRate < 0 || c.Tracking.MouseSamplingRate > 1 {
		add("tracking.mouse_sampling_rate", c.Tracking.MouseSamplingRate, "must be between 0 and 1")
	}
	if c.Tracking.ScrollDebounce < 0 {
		add("tracking.scroll_debounce", c.Tracking.ScrollDebounce, "must not be negative")
	}
	if c.Tracking.MouseThrottle < 0 {
		add("tracking.mouse_throttle", c.Tracking.MouseThrottle, "must not be negative")
	}

	if err := c.Render.Validate(); err != nil {
		add("render", c.Render, err.Error())
	}

	if c.API.MaxRetries <= 0 {
		add("api.max_retries", c.API.MaxRetries, "must be positive")
	}
	if c.API.SyncInterval < 0 {
		add("api.sync_interval", c.API.SyncInterval, "must not be negative")
	}
	if c.API.RatePerSecond < 0 {
		add("api.rate_per_second", c.API.RatePerSecond, "must not be negative")
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		add("log.level", c.Log.Level, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}
	return errs
}
