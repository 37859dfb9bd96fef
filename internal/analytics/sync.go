package analytics

import (
	"context"
	"errors"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/webhook"
)

// SyncEvents sends the pending events as one batch. On success the sent
// events leave the queues; anything captured meanwhile stays. On failure
// nothing changes and the next tick tries again.
func (a *Analytics) SyncEvents(ctx context.Context) error {
	if a.collector == nil {
		return nil
	}
	a.mu.Lock()
	user := models.WebhookUser{AnonymousID: a.anonymousID, SessionID: a.sessionID}
	a.mu.Unlock()

	data, err := a.store.Load(ctx)
	if err != nil || data == nil || data.PendingEvents.Empty() {
		return err
	}
	sent := data.PendingEvents

	err = a.collector.Deliver(ctx, webhook.Batch(user, sent, a.clock.Now()))
	a.metrics.synced(err)
	if err != nil {
		a.logger.Warn("event sync failed, keeping pending events", "error", err)
		return err
	}

	a.docMu.Lock()
	defer a.docMu.Unlock()
	current, err := a.store.Load(ctx)
	if err != nil || current == nil {
		return err
	}
	current.PendingEvents = models.PendingEvents{
		Clicks:     dropSent(current.PendingEvents.Clicks, sent.Clicks),
		Scrolls:    dropSent(current.PendingEvents.Scrolls, sent.Scrolls),
		MouseMoves: dropSent(current.PendingEvents.MouseMoves, sent.MouseMoves),
	}
	if err := a.store.Save(ctx, current); err != nil {
		return err
	}
	count := sent.Count()
	a.logger.Info("events synced", "clicks", count.Clicks, "scrolls", count.Scrolls, "mouse_moves", count.MouseMoves)
	return nil
}

// dropSent removes from current the part of sent it still holds. sent was a
// snapshot of the queue; since then entries may have been appended at the
// back and evicted from the front, so current starts with some suffix of
// sent.
func dropSent[T comparable](current, sent []T) []T {
	for k := 0; k <= len(sent); k++ {
		rest := sent[k:]
		if len(rest) > len(current) {
			continue
		}
		if equalPrefix(current, rest) {
			out := make([]T, len(current)-len(rest))
			copy(out, current[len(rest):])
			return out
		}
	}
	return current
}

func equalPrefix[T comparable](s, prefix []T) bool {
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}

// RunSync flushes the collector's offline queue and syncs pending events
// every SyncInterval until ctx is done.
func (a *Analytics) RunSync(ctx context.Context) error {
	if a.collector == nil || a.cfg.SyncInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	a.logger.Info("event sync started", "interval", a.cfg.SyncInterval)
	err := a.clock.TickerFunc(ctx, a.cfg.SyncInterval, func() error {
		if err := a.collector.FlushQueue(ctx); err != nil {
			a.logger.Warn("webhook queue flush failed", "error", err)
		}
		if err := a.SyncEvents(ctx); err != nil {
			a.logger.Debug("sync tick failed", "error", err)
		}
		return nil
	}, "analytics", "sync").Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
