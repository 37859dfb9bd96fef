// Package webhook talks to the remote collector: it posts event payloads,
// keeps failed ones in an offline queue under heatmap_webhook_queue and
// fetches funnel definitions for a project.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/time/rate"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/storage"
)

const (
	EventsPath  = "/webhooks/heatmap-events"
	FunnelsPath = "/api/v1/connected-one/funnels/"

	DefaultMaxRetries = 3
	// Queue entries kept when the slot is full.
	QueueRetention = 50
)

var (
	ErrNotConfigured = errors.New("webhook: base url or api key not set")
	ErrOffline       = errors.New("webhook: offline")
)

type Config struct {
	BaseURL       string
	APIKey        string
	ProjectID     string
	MaxRetries    int
	RatePerSecond float64
	Timeout       time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	store      *storage.Store
	clock      quartz.Clock
	logger     *slog.Logger

	mu     sync.Mutex
	online bool
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithClock(clock quartz.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(cfg Config, store *storage.Store, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	c := &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		store:   store,
		clock:   quartz.NewReal(),
		logger:  slog.Default(),
		online:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	c.logger = c.logger.With("component", "webhook")
	return c
}

// Enabled reports whether a collector is configured.
func (c *Client) Enabled() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != ""
}

func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records connectivity. Coming back online flushes the queue.
func (c *Client) SetOnline(ctx context.Context, online bool) error {
	c.mu.Lock()
	was := c.online
	c.online = online
	c.mu.Unlock()
	if online && !was {
		return c.FlushQueue(ctx)
	}
	return nil
}

// Send posts the payload, queueing it for a later flush when offline or
// when delivery fails.
func (c *Client) Send(ctx context.Context, payload models.WebhookPayload) error {
	if !c.Enabled() {
		c.logger.Warn("webhook not configured, dropping payload", "event_type", payload.EventType)
		return ErrNotConfigured
	}
	err := c.Deliver(ctx, payload)
	if err == nil {
		return nil
	}
	c.logger.Error("webhook send failed, queueing", "event_type", payload.EventType, "error", err)
	if qerr := c.enqueue(ctx, payload); qerr != nil {
		return errors.Join(err, qerr)
	}
	return err
}

// Deliver posts the payload once. Nothing is queued on failure.
func (c *Client) Deliver(ctx context.Context, payload models.WebhookPayload) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	if !c.Online() {
		return ErrOffline
	}
	if c.cfg.ProjectID != "" {
		payload.ProjectID = c.cfg.ProjectID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+EventsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", EventsPath, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: unexpected status %d", EventsPath, resp.StatusCode)
	}
	c.logger.Debug("webhook delivered", "event_type", payload.EventType)
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}

type funnelsResponse struct {
	ProjectID string          `json:"project_id"`
	Funnels   []models.Funnel `json:"funnels"`
}

// FetchFunnels reads the funnel definitions of a project from the collector.
func (c *Client) FetchFunnels(ctx context.Context, projectID string) ([]models.Funnel, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+FunnelsPath+url.PathEscape(projectID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch funnels: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch funnels: unexpected status %d", resp.StatusCode)
	}
	var body funnelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode funnels: %w", err)
	}
	return body.Funnels, nil
}
