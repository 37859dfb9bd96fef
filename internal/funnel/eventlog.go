package funnel

import (
	"context"
	"sync"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/storage"
)

// EventLog is the append-only list in the heatmap_funnel_events slot. Entries
// are only ever removed by Reset.
type EventLog struct {
	store *storage.Store
	mu    sync.Mutex
}

func NewEventLog(store *storage.Store) *EventLog {
	return &EventLog{store: store}
}

func (l *EventLog) Append(ctx context.Context, events ...models.FunnelEvent) error {
	if len(events) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	all, err := storage.LoadList[models.FunnelEvent](ctx, l.store, storage.FunnelEventsKey)
	if err != nil {
		return err
	}
	return storage.SaveList(ctx, l.store, storage.FunnelEventsKey, append(all, events...), 0)
}

func (l *EventLog) All(ctx context.Context) ([]models.FunnelEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return storage.LoadList[models.FunnelEvent](ctx, l.store, storage.FunnelEventsKey)
}

// For returns the events of one funnel in log order.
func (l *EventLog) For(ctx context.Context, funnelID string) ([]models.FunnelEvent, error) {
	all, err := l.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.FunnelEvent
	for _, ev := range all {
		if ev.FunnelID == funnelID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *EventLog) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return storage.RemoveList(ctx, l.store, storage.FunnelEventsKey)
}
