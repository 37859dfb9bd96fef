// Package storage is the bounded local store: whole-document JSON persistence
// over key/value slots with a hard ceiling, FIFO eviction of pending events
// and fail-safe recovery from corrupted slots.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/vincentbai/heatmap-agent/internal/database"
	"github.com/vincentbai/heatmap-agent/internal/models"
)

// Slot names shared with the page script.
const (
	DataKey         = "heatmap_analytics_data"
	FunnelsKey      = "heatmap_funnels"
	FunnelEventsKey = "heatmap_funnel_events"
	WebhookQueueKey = "heatmap_webhook_queue"
)

const (
	DefaultMaxBytes     = 5 * 1024 * 1024
	DefaultWarningRatio = 0.6

	// Most-recent entries kept per queue when the document must shrink.
	ClickRetention     = 50
	ScrollRetention    = 50
	MouseMoveRetention = 100
)

// ErrDocumentTooLarge is returned when a document is over the ceiling even
// after eviction.
var ErrDocumentTooLarge = errors.New("document exceeds storage ceiling")

// Backend is the platform storage underneath the store.
type Backend interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Size(ctx context.Context) (int64, error)
}

type Store struct {
	backend   Backend
	logger    *slog.Logger
	maxBytes  int64
	warnBytes int64
	onWarning func(size int64)
	onEvict   func(key string)
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithLimits sets the ceiling and the warning ratio of that ceiling.
func WithLimits(maxBytes int64, warningRatio float64) Option {
	return func(s *Store) {
		s.maxBytes = maxBytes
		s.warnBytes = int64(float64(maxBytes) * warningRatio)
	}
}

// WithWarningHandler is called with the serialized size whenever a root
// document write crosses the warning threshold. The write still happens.
func WithWarningHandler(fn func(size int64)) Option {
	return func(s *Store) { s.onWarning = fn }
}

// WithEvictionHandler is called with the slot key each time data is dropped
// to make a write fit.
func WithEvictionHandler(fn func(key string)) Option {
	return func(s *Store) { s.onEvict = fn }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		logger:    slog.Default(),
		maxBytes:  DefaultMaxBytes,
		warnBytes: int64(DefaultMaxBytes * DefaultWarningRatio),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "storage")
	return s
}

// Load returns the root document, or nil when there is none. A slot that
// does not parse is deleted and reported as absent.
func (s *Store) Load(ctx context.Context) (*models.LocalStorageData, error) {
	raw, ok, err := s.backend.GetItem(ctx, DataKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", DataKey, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var data models.LocalStorageData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		s.discardCorrupted(ctx, DataKey, err)
		return nil, nil
	}
	return &data, nil
}

// Save persists the root document. When it is over the ceiling or the
// backend reports a quota error, the pending queues are truncated and the
// write is retried exactly once.
func (s *Store) Save(ctx context.Context, data *models.LocalStorageData) error {
	err := s.write(ctx, data)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrDocumentTooLarge) && !errors.Is(err, database.ErrQuotaExceeded) {
		s.logger.Error("save failed", "error", err)
		return err
	}

	s.logger.Warn("storage full, evicting oldest pending events", "reason", err)
	s.evicted(DataKey)
	if err := s.write(ctx, ReduceEventData(data)); err != nil {
		s.logger.Error("save failed after eviction", "error", err)
		return fmt.Errorf("save after eviction: %w", err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, data *models.LocalStorageData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", DataKey, err)
	}
	size := int64(len(raw))
	if size > s.maxBytes {
		return fmt.Errorf("%w: %s over %s", ErrDocumentTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.maxBytes)))
	}
	if size > s.warnBytes {
		s.logger.Warn("storage usage above warning threshold",
			"size", humanize.IBytes(uint64(size)), "limit", humanize.IBytes(uint64(s.maxBytes)))
		if s.onWarning != nil {
			s.onWarning(size)
		}
	}
	return s.backend.SetItem(ctx, DataKey, string(raw))
}

// Clear removes the root document.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.RemoveItem(ctx, DataKey); err != nil {
		s.logger.Error("clear failed", "error", err)
		return fmt.Errorf("clear %s: %w", DataKey, err)
	}
	s.logger.Info("storage cleared")
	return nil
}

// Size reports the bytes used by every slot of the backend.
func (s *Store) Size(ctx context.Context) (int64, error) {
	return s.backend.Size(ctx)
}

func (s *Store) discardCorrupted(ctx context.Context, key string, cause error) {
	s.logger.Error("corrupted slot, discarding", "key", key, "error", cause)
	if err := s.backend.RemoveItem(ctx, key); err != nil {
		s.logger.Error("failed to remove corrupted slot", "key", key, "error", err)
	}
}

func (s *Store) evicted(key string) {
	if s.onEvict != nil {
		s.onEvict(key)
	}
}

// ReduceEventData returns a copy of data whose pending queues keep only their
// most recent entries.
func ReduceEventData(data *models.LocalStorageData) *models.LocalStorageData {
	reduced := *data
	reduced.PendingEvents = models.PendingEvents{
		Clicks:     tail(data.PendingEvents.Clicks, ClickRetention),
		Scrolls:    tail(data.PendingEvents.Scrolls, ScrollRetention),
		MouseMoves: tail(data.PendingEvents.MouseMoves, MouseMoveRetention),
	}
	return &reduced
}

func tail[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	out := make([]T, n)
	copy(out, items[len(items)-n:])
	return out
}

// CreateInitialData builds the document for a first visit. The overlay is
// anchored near the bottom-right corner of the viewport.
func CreateInitialData(anonymousID, sessionID string, viewportWidth, viewportHeight int) *models.LocalStorageData {
	return &models.LocalStorageData{
		OverlayState: models.OverlayState{
			IsVisible: false,
			Mode:      models.ModeClick,
		},
		SessionID:   sessionID,
		AnonymousID: anonymousID,
		PendingEvents: models.PendingEvents{
			Clicks:     []models.ClickEvent{},
			Scrolls:    []models.ScrollEvent{},
			MouseMoves: []models.MouseMoveEvent{},
		},
		OverlayPosition: &models.Position{
			X: float64(viewportWidth - 320),
			Y: float64(viewportHeight - 200),
		},
	}
}

func ValidateData(data *models.LocalStorageData) bool {
	return data != nil && data.SessionID != "" && data.AnonymousID != ""
}
