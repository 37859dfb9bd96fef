package analytics

import (
	"context"
	"fmt"

	"github.com/vincentbai/heatmap-agent/internal/heatmap"
	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/storage"
)

// Render builds the overlay for mode from the current pending events. Click
// and mouse overlays cover the viewport; the scroll overlay covers the page.
func (a *Analytics) Render(ctx context.Context, mode models.OverlayMode) (heatmap.Overlay, error) {
	data, err := a.Document(ctx)
	if err != nil {
		return heatmap.Overlay{}, err
	}
	vp := a.page.Viewport()
	switch mode {
	case models.ModeClick:
		return a.renderer.RenderClickHeatmap(data.PendingEvents.Clicks, vp.Width, vp.Height), nil
	case models.ModeMouse:
		return a.renderer.RenderMouseMoveHeatmap(data.PendingEvents.MouseMoves, vp.Width, vp.Height), nil
	case models.ModeScroll:
		return a.renderer.RenderScrollHeatmap(data.PendingEvents.Scrolls, vp.Width, scrollCanvasHeight(vp.Width, a.page.PageHeight())), nil
	default:
		return heatmap.Overlay{}, fmt.Errorf("%w: %s", ErrNoOverlay, mode)
	}
}

// scrollCanvasHeight caps the page height so the scroll canvas stays within
// the rasterizer limits. Bands are placed by percentage, so a shorter canvas
// only compresses them.
func scrollCanvasHeight(width int, pageHeight float64) int {
	limit := heatmap.MaxCanvasSide
	if width > 0 {
		limit = min(limit, heatmap.MaxCanvasPixels/width)
	}
	return int(min(pageHeight, float64(limit)))
}

// Grid returns the raw intensity grid behind the click or mouse overlay.
func (a *Analytics) Grid(ctx context.Context, mode models.OverlayMode) (heatmap.Grid, error) {
	data, err := a.Document(ctx)
	if err != nil {
		return heatmap.Grid{}, err
	}
	size := a.renderer.Config().GridSize
	switch mode {
	case models.ModeClick:
		return heatmap.AggregateGrid(heatmap.ClickPoints(data.PendingEvents.Clicks), size), nil
	case models.ModeMouse:
		return heatmap.AggregateGrid(heatmap.MouseMovePoints(data.PendingEvents.MouseMoves), size), nil
	default:
		return heatmap.Grid{}, fmt.Errorf("%w: %s", ErrNoOverlay, mode)
	}
}

func (a *Analytics) OverlayState(ctx context.Context) (models.OverlayState, error) {
	data, err := a.Document(ctx)
	if err != nil {
		return models.OverlayState{}, err
	}
	return data.OverlayState, nil
}

// SetMode switches the overlay mode. When the overlay is visible the new
// mode's overlay is returned; otherwise, or for the funnel mode, nil.
func (a *Analytics) SetMode(ctx context.Context, mode models.OverlayMode) (*heatmap.Overlay, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown overlay mode %q", mode)
	}
	state, err := a.updateOverlay(ctx, func(s *models.OverlayState) { s.Mode = mode })
	if err != nil {
		return nil, err
	}
	return a.renderVisible(ctx, state)
}

// SetVisible shows or hides the overlay, returning the current mode's
// overlay when it becomes visible.
func (a *Analytics) SetVisible(ctx context.Context, visible bool) (*heatmap.Overlay, error) {
	state, err := a.updateOverlay(ctx, func(s *models.OverlayState) { s.IsVisible = visible })
	if err != nil {
		return nil, err
	}
	return a.renderVisible(ctx, state)
}

func (a *Analytics) updateOverlay(ctx context.Context, update func(*models.OverlayState)) (models.OverlayState, error) {
	a.docMu.Lock()
	defer a.docMu.Unlock()
	data, err := a.Document(ctx)
	if err != nil {
		return models.OverlayState{}, err
	}
	update(&data.OverlayState)
	if err := a.store.Save(ctx, data); err != nil {
		return models.OverlayState{}, err
	}
	return data.OverlayState, nil
}

func (a *Analytics) renderVisible(ctx context.Context, state models.OverlayState) (*heatmap.Overlay, error) {
	if !state.IsVisible || state.Mode == models.ModeFunnel {
		return nil, nil
	}
	o, err := a.Render(ctx, state.Mode)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ClearResult reports what a clear removed.
type ClearResult struct {
	Cleared      models.DataCount `json:"cleared"`
	FunnelEvents int              `json:"funnel_events"`
}

// ClearData resets the root document and the funnel event log. confirm sees
// the counts about to be removed; returning false aborts with
// ErrClearDeclined. A nil confirm clears unconditionally.
func (a *Analytics) ClearData(ctx context.Context, confirm func(models.DataCount) bool) (ClearResult, error) {
	a.mu.Lock()
	initialized := a.initialized
	sessionID, anonymousID := a.sessionID, a.anonymousID
	a.mu.Unlock()
	if !initialized {
		return ClearResult{}, ErrNotInitialized
	}

	a.docMu.Lock()
	defer a.docMu.Unlock()
	count, err := a.GetDataCount(ctx)
	if err != nil {
		return ClearResult{}, err
	}
	events, err := a.funnelLog.All(ctx)
	if err != nil {
		return ClearResult{}, err
	}
	if confirm != nil && !confirm(count) {
		return ClearResult{}, ErrClearDeclined
	}

	vp := a.page.Viewport()
	if err := a.store.Save(ctx, storage.CreateInitialData(anonymousID, sessionID, vp.Width, vp.Height)); err != nil {
		return ClearResult{}, fmt.Errorf("reset document: %w", err)
	}
	if err := a.funnelLog.Reset(ctx); err != nil {
		return ClearResult{}, fmt.Errorf("reset funnel events: %w", err)
	}
	a.logger.Info("data cleared", "clicks", count.Clicks, "scrolls", count.Scrolls,
		"mouse_moves", count.MouseMoves, "funnel_events", len(events))
	return ClearResult{Cleared: count, FunnelEvents: len(events)}, nil
}
