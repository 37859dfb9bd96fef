// Package funnel tracks multi-step conversion funnels: the stored funnel
// definitions, the per-session step state machine, the append-only funnel
// event log and the per-step statistics computed from it.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/storage"
)

var ErrFunnelNotFound = errors.New("funnel not found")

// Source supplies funnel definitions from a remote project.
type Source interface {
	FetchFunnels(ctx context.Context, projectID string) ([]models.Funnel, error)
}

type options struct {
	clock  quartz.Clock
	logger *slog.Logger
}

type Option func(*options)

func WithClock(clock quartz.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(component string, opts []Option) options {
	o := options{clock: quartz.NewReal(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", component)
	return o
}

// Manager owns the funnel definitions kept in the heatmap_funnels slot.
type Manager struct {
	store  *storage.Store
	clock  quartz.Clock
	logger *slog.Logger

	mu sync.Mutex
}

func NewManager(store *storage.Store, opts ...Option) *Manager {
	o := buildOptions("funnel-manager", opts)
	return &Manager{store: store, clock: o.clock, logger: o.logger}
}

// CreateFunnel builds a funnel with fresh ids. Step order follows the slice
// order; it is not saved.
func (m *Manager) CreateFunnel(name, description string, steps []models.FunnelStep) models.Funnel {
	f := models.Funnel{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Steps:       make([]models.FunnelStep, len(steps)),
		CreatedAt:   models.Timestamp(m.clock.Now()),
	}
	for i, step := range steps {
		f.Steps[i] = models.FunnelStep{
			ID:        uuid.NewString(),
			StepOrder: i,
			StepName:  step.StepName,
			PageURL:   step.PageURL,
		}
	}
	return f
}

// DefaultFunnels are the demo funnels seeded when nothing else is known.
func (m *Manager) DefaultFunnels(origin string) []models.Funnel {
	origin = strings.TrimRight(origin, "/")
	return []models.Funnel{
		m.CreateFunnel("Purchase flow", "From landing page visit to completed purchase", []models.FunnelStep{
			{StepName: "Landing page", PageURL: origin + "/demo.html"},
			{StepName: "Application form", PageURL: origin + "/form.html"},
			{StepName: "Thank-you page", PageURL: origin + "/thanks.html"},
		}),
		m.CreateFunnel("Email signup flow", "From top page to email registration", []models.FunnelStep{
			{StepName: "Top page", PageURL: origin + "/"},
			{StepName: "Email signup", PageURL: origin + "/signup.html"},
		}),
	}
}

func (m *Manager) AllFunnels(ctx context.Context) ([]models.Funnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return storage.LoadList[models.Funnel](ctx, m.store, storage.FunnelsKey)
}

func (m *Manager) GetFunnelByID(ctx context.Context, id string) (*models.Funnel, error) {
	funnels, err := m.AllFunnels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range funnels {
		if funnels[i].ID == id {
			return &funnels[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFunnelNotFound, id)
}

// SaveFunnel replaces the funnel with the same id, or appends it.
func (m *Manager) SaveFunnel(ctx context.Context, f models.Funnel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	funnels, err := storage.LoadList[models.Funnel](ctx, m.store, storage.FunnelsKey)
	if err != nil {
		return err
	}
	replaced := false
	for i := range funnels {
		if funnels[i].ID == f.ID {
			funnels[i] = f
			replaced = true
			break
		}
	}
	if !replaced {
		funnels = append(funnels, f)
	}
	return storage.SaveList(ctx, m.store, storage.FunnelsKey, funnels, 0)
}

// ReplaceAll overwrites every stored definition.
func (m *Manager) ReplaceAll(ctx context.Context, funnels []models.Funnel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return storage.SaveList(ctx, m.store, storage.FunnelsKey, funnels, 0)
}

func (m *Manager) DeleteFunnel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	funnels, err := storage.LoadList[models.Funnel](ctx, m.store, storage.FunnelsKey)
	if err != nil {
		return err
	}
	kept := funnels[:0]
	for _, f := range funnels {
		if f.ID != id {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(funnels) {
		return fmt.Errorf("%w: %s", ErrFunnelNotFound, id)
	}
	return storage.SaveList(ctx, m.store, storage.FunnelsKey, kept, 0)
}

// SyncFromSource replaces the local definitions with the remote ones when
// the source returns any. A failing source leaves the local set in place.
func (m *Manager) SyncFromSource(ctx context.Context, src Source, projectID string) ([]models.Funnel, error) {
	remote, err := src.FetchFunnels(ctx, projectID)
	if err != nil {
		m.logger.Error("funnel sync failed, keeping local definitions", "project_id", projectID, "error", err)
		return m.AllFunnels(ctx)
	}
	if len(remote) == 0 {
		return m.AllFunnels(ctx)
	}
	if err := m.ReplaceAll(ctx, remote); err != nil {
		return nil, fmt.Errorf("store synced funnels: %w", err)
	}
	m.logger.Info("funnels synced", "project_id", projectID, "count", len(remote))
	return remote, nil
}

// Match is a funnel step matched by a page URL.
type Match struct {
	Funnel models.Funnel
	Step   models.FunnelStep
}

// FindMatchingStep returns the first step, in stored order, whose pattern
// matches url, or nil.
func (m *Manager) FindMatchingStep(ctx context.Context, url string) (*Match, error) {
	funnels, err := m.AllFunnels(ctx)
	if err != nil {
		return nil, err
	}
	return FindMatch(funnels, url), nil
}

func FindMatch(funnels []models.Funnel, url string) *Match {
	for _, f := range funnels {
		for _, step := range f.Steps {
			if MatchURL(url, step.PageURL) {
				return &Match{Funnel: f, Step: step}
			}
		}
	}
	return nil
}

// MatchURL reports whether url equals pattern or matches it with each '*'
// standing for any run of characters.
func MatchURL(url, pattern string) bool {
	if url == pattern {
		return true
	}
	expr := strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*")
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return false
	}
	return re.MatchString(url)
}
