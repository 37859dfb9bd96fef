package analytics

import (
	"context"
	"fmt"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/page"
)

// Ingest replays a batch of beacons into the page in order. The whole batch
// is validated before any beacon is dispatched. A beacon from a URL other
// than the current one implies a navigation, which is dispatched first.
func (a *Analytics) Ingest(ctx context.Context, beacons []models.Beacon) error {
	a.mu.Lock()
	initialized := a.initialized
	a.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}
	for i, b := range beacons {
		if err := models.ValidateBeacon(b); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}

	for _, b := range beacons {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := toPageEvent(b)
		if ev.Type != page.Navigate && b.URL != a.page.URL() {
			a.page.Dispatch(&page.Event{
				Type:           page.Navigate,
				Time:           ev.Time,
				URL:            b.URL,
				ViewportWidth:  b.ViewportWidth,
				ViewportHeight: b.ViewportHeight,
			})
		}
		a.page.Dispatch(ev)
	}
	return nil
}

func toPageEvent(b models.Beacon) *page.Event {
	ev := &page.Event{
		Type:           page.EventType(b.Type),
		Time:           b.Time(),
		X:              b.X,
		Y:              b.Y,
		ScrollY:        b.ScrollY,
		PageHeight:     b.PageHeight,
		ViewportWidth:  b.ViewportWidth,
		ViewportHeight: b.ViewportHeight,
		URL:            b.URL,
	}
	if b.Target != nil {
		ev.Target = &page.Element{
			Tag:         b.Target.Tag,
			ID:          b.Target.ID,
			Class:       b.Target.Class,
			TextContent: b.Target.Text,
		}
	}
	return ev
}
