// Package analytics composes the capture pipeline for one page context: the
// page model, the trackers, the bounded store, the funnel tracker, the
// renderer and the optional collector sync.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/vincentbai/heatmap-agent/internal/funnel"
	"github.com/vincentbai/heatmap-agent/internal/heatmap"
	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/page"
	"github.com/vincentbai/heatmap-agent/internal/storage"
	"github.com/vincentbai/heatmap-agent/internal/tracking"
)

var (
	ErrNotInitialized = errors.New("analytics not initialized")
	ErrClearDeclined  = errors.New("clear data declined")
	ErrNoDocument     = errors.New("no analytics document")
	ErrNoOverlay      = errors.New("mode has no heatmap overlay")
)

// Collector is the remote side: event delivery and funnel definitions.
type Collector interface {
	// Send delivers a payload, queueing it for retry on failure.
	Send(ctx context.Context, payload models.WebhookPayload) error
	// Deliver makes one attempt and queues nothing.
	Deliver(ctx context.Context, payload models.WebhookPayload) error
	FlushQueue(ctx context.Context) error
	FetchFunnels(ctx context.Context, projectID string) ([]models.Funnel, error)
}

type Config struct {
	URL      string
	Viewport page.Viewport

	AutoStart         bool
	ScrollDebounce    time.Duration
	MouseSamplingRate float64
	MouseThrottle     time.Duration

	ProjectID    string
	FunnelOrigin string
	SyncInterval time.Duration

	Render heatmap.Config
}

func DefaultConfig() Config {
	return Config{
		URL:               "http://localhost/",
		Viewport:          page.Viewport{Width: 1280, Height: 720},
		AutoStart:         true,
		ScrollDebounce:    tracking.DefaultScrollDebounce,
		MouseSamplingRate: tracking.DefaultMouseSamplingRate,
		MouseThrottle:     tracking.DefaultMouseThrottle,
		FunnelOrigin:      "http://localhost",
		SyncInterval:      time.Minute,
		Render:            heatmap.DefaultConfig(),
	}
}

type Option func(*Analytics)

func WithClock(clock quartz.Clock) Option {
	return func(a *Analytics) { a.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Analytics) { a.logger = logger }
}

// WithRand replaces the mouse-move sampling source.
func WithRand(fn func() float64) Option {
	return func(a *Analytics) { a.rand = fn }
}

func WithMetrics(m *Metrics) Option {
	return func(a *Analytics) { a.metrics = m }
}

func WithCollector(c Collector) Option {
	return func(a *Analytics) { a.collector = c }
}

// Analytics is one owned instance of the pipeline. Construct it with New and
// call Init before anything else.
type Analytics struct {
	cfg       Config
	store     *storage.Store
	page      *page.Page
	renderer  *heatmap.Renderer
	funnels   *funnel.Manager
	funnelLog *funnel.EventLog
	analyzer  *funnel.Analyzer
	collector Collector
	metrics   *Metrics
	clock     quartz.Clock
	logger    *slog.Logger
	rand      func() float64

	clicks  *tracking.ClickTracker
	scrolls *tracking.ScrollTracker
	moves   *tracking.MouseMoveTracker

	// docMu serializes read-modify-write cycles of the root document.
	docMu sync.Mutex

	mu            sync.Mutex
	initialized   bool
	tracking      bool
	sessionID     string
	anonymousID   string
	funnelTracker *funnel.Tracker
	unload        page.ListenerID
	funnelStarted map[string]time.Time

	notifications sync.WaitGroup
}

func New(store *storage.Store, cfg Config, opts ...Option) (*Analytics, error) {
	a := &Analytics{
		cfg:    cfg,
		store:  store,
		clock:  quartz.NewReal(),
		logger: slog.Default(),
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "analytics")

	renderer, err := heatmap.NewRenderer(cfg.Render)
	if err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}
	a.renderer = renderer

	a.page = page.New(cfg.URL, cfg.Viewport, a.logger)
	trackerOpts := []tracking.Option{
		tracking.WithClock(a.clock),
		tracking.WithLogger(a.logger),
		tracking.WithRand(a.rand),
	}
	a.clicks = tracking.NewClickTracker(a.page, trackerOpts...)
	a.scrolls = tracking.NewScrollTracker(a.page, trackerOpts...)
	a.moves = tracking.NewMouseMoveTracker(a.page, trackerOpts...)

	funnelOpts := []funnel.Option{funnel.WithClock(a.clock), funnel.WithLogger(a.logger)}
	a.funnels = funnel.NewManager(store, funnelOpts...)
	a.funnelLog = funnel.NewEventLog(store)
	a.analyzer = funnel.NewAnalyzer(a.funnels, a.funnelLog, funnelOpts...)
	return a, nil
}

func (a *Analytics) Page() *page.Page            { return a.page }
func (a *Analytics) Funnels() *funnel.Manager    { return a.funnels }
func (a *Analytics) Renderer() *heatmap.Renderer { return a.renderer }

func (a *Analytics) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *Analytics) AnonymousID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.anonymousID
}

// Init loads or creates the root document with a fresh session id, seeds the
// funnel definitions and starts tracking when AutoStart is set. The anonymous
// id of an existing document is kept.
func (a *Analytics) Init(ctx context.Context) error {
	a.mu.Lock()
	if a.initialized {
		a.mu.Unlock()
		a.logger.Warn("already initialized")
		return nil
	}

	a.docMu.Lock()
	data, err := a.store.Load(ctx)
	if err != nil {
		a.docMu.Unlock()
		a.mu.Unlock()
		return fmt.Errorf("load document: %w", err)
	}
	sessionID := uuid.NewString()
	anonymousID := uuid.NewString()
	if data != nil && data.AnonymousID != "" {
		anonymousID = data.AnonymousID
	}
	if !storage.ValidateData(data) {
		vp := a.page.Viewport()
		data = storage.CreateInitialData(anonymousID, sessionID, vp.Width, vp.Height)
	}
	data.SessionID = sessionID
	err = a.store.Save(ctx, data)
	a.docMu.Unlock()
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("save document: %w", err)
	}

	a.sessionID = sessionID
	a.anonymousID = anonymousID
	a.funnelStarted = make(map[string]time.Time)
	a.funnelTracker = funnel.NewTracker(a.page, a.funnels, a.funnelLog, sessionID, anonymousID,
		funnel.WithClock(a.clock), funnel.WithLogger(a.logger))
	a.funnelTracker.OnEvent(a.onFunnelEvent)
	a.initialized = true
	a.mu.Unlock()

	a.logger.Info("initialized", "session_id", sessionID, "anonymous_id", anonymousID)
	if err := a.initializeFunnels(ctx); err != nil {
		a.logger.Error("funnel initialization failed", "error", err)
	}
	if a.cfg.AutoStart {
		return a.Start(ctx)
	}
	return nil
}

// initializeFunnels prefers the collector's definitions, then whatever is
// stored, then the demo funnels.
func (a *Analytics) initializeFunnels(ctx context.Context) error {
	if a.collector != nil && a.cfg.ProjectID != "" {
		funnels, err := a.funnels.SyncFromSource(ctx, a.collector, a.cfg.ProjectID)
		if err == nil && len(funnels) > 0 {
			return nil
		}
	}
	funnels, err := a.funnels.AllFunnels(ctx)
	if err != nil {
		return err
	}
	if len(funnels) > 0 {
		return nil
	}
	defaults := a.funnels.DefaultFunnels(a.cfg.FunnelOrigin)
	if err := a.funnels.ReplaceAll(ctx, defaults); err != nil {
		return err
	}
	a.logger.Info("seeded default funnels", "count", len(defaults))
	return nil
}

func (a *Analytics) Start(ctx context.Context) error {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return ErrNotInitialized
	}
	if a.tracking {
		a.mu.Unlock()
		a.logger.Warn("already tracking")
		return nil
	}
	a.tracking = true
	funnelTracker := a.funnelTracker
	a.unload = a.page.AddEventListener(page.Unload, func(*page.Event) {
		a.Stop(context.Background())
	}, page.ListenerOptions{})
	a.mu.Unlock()

	// Captures outlive the caller's request.
	ctx = context.WithoutCancel(ctx)
	a.clicks.Start(func(ev models.ClickEvent) {
		a.appendEvent(ctx, "click", func(p *models.PendingEvents) { p.Clicks = append(p.Clicks, ev) })
	})
	a.scrolls.Start(func(ev models.ScrollEvent) {
		a.appendEvent(ctx, "scroll", func(p *models.PendingEvents) { p.Scrolls = append(p.Scrolls, ev) })
	}, a.cfg.ScrollDebounce)
	a.moves.Start(func(ev models.MouseMoveEvent) {
		a.appendEvent(ctx, "mousemove", func(p *models.PendingEvents) { p.MouseMoves = append(p.MouseMoves, ev) })
	}, a.cfg.MouseSamplingRate, a.cfg.MouseThrottle)
	funnelTracker.Start(ctx)

	a.logger.Info("tracking started")
	return nil
}

// Stop ends capture. The funnel tracker records a drop-off for a step in
// progress.
func (a *Analytics) Stop(ctx context.Context) {
	a.mu.Lock()
	if !a.tracking {
		a.mu.Unlock()
		return
	}
	a.tracking = false
	a.page.RemoveEventListener(a.unload)
	a.unload = 0
	funnelTracker := a.funnelTracker
	a.mu.Unlock()

	a.clicks.Stop()
	a.scrolls.Stop()
	a.moves.Stop()
	funnelTracker.Stop(ctx)
	a.logger.Info("tracking stopped")
}

func (a *Analytics) IsTracking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracking
}

// Destroy stops tracking and waits for outstanding collector notifications.
func (a *Analytics) Destroy(ctx context.Context) {
	a.Stop(ctx)
	a.notifications.Wait()
	a.mu.Lock()
	a.initialized = false
	a.mu.Unlock()
}

// MouseMoveTracker exposes runtime sampling changes.
func (a *Analytics) MouseMoveTracker() *tracking.MouseMoveTracker { return a.moves }

func (a *Analytics) ScrollTracker() *tracking.ScrollTracker { return a.scrolls }

// appendEvent is the capture path: failures are logged and counted, never
// returned to the tracker.
func (a *Analytics) appendEvent(ctx context.Context, channel string, add func(*models.PendingEvents)) {
	a.docMu.Lock()
	defer a.docMu.Unlock()
	data, err := a.store.Load(ctx)
	if err != nil || data == nil {
		a.logger.Warn("dropping event, document unavailable", "channel", channel, "error", err)
		a.metrics.saveFailed(channel)
		return
	}
	add(&data.PendingEvents)
	if err := a.store.Save(ctx, data); err != nil {
		a.logger.Error("event not persisted", "channel", channel, "error", err)
		a.metrics.saveFailed(channel)
		return
	}
	a.metrics.captured(channel)
}

func (a *Analytics) Document(ctx context.Context) (*models.LocalStorageData, error) {
	data, err := a.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNoDocument
	}
	return data, nil
}

func (a *Analytics) GetDataCount(ctx context.Context) (models.DataCount, error) {
	data, err := a.store.Load(ctx)
	if err != nil || data == nil {
		return models.DataCount{}, err
	}
	return data.PendingEvents.Count(), nil
}

func (a *Analytics) StorageSize(ctx context.Context) (int64, error) {
	return a.store.Size(ctx)
}
