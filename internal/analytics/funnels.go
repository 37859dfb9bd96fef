package analytics

import (
	"context"
	"time"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/webhook"
)

func (a *Analytics) CalculateFunnelStats(ctx context.Context, funnelID string) (*models.FunnelStats, error) {
	return a.analyzer.CalculateFunnelStats(ctx, funnelID)
}

func (a *Analytics) CalculateAllFunnelStats(ctx context.Context) ([]models.FunnelStats, error) {
	return a.analyzer.CalculateAllFunnelStats(ctx)
}

func (a *Analytics) FindBottleneckStep(ctx context.Context, funnelID string) (*models.FunnelStepStats, error) {
	return a.analyzer.FindBottleneckStep(ctx, funnelID)
}

func (a *Analytics) FunnelEvents(ctx context.Context, funnelID string) ([]models.FunnelEvent, error) {
	if funnelID == "" {
		return a.funnelLog.All(ctx)
	}
	return a.funnelLog.For(ctx, funnelID)
}

// onFunnelEvent forwards funnel milestones to the collector: reaching the
// last step completes the funnel, a drop-off abandons it.
func (a *Analytics) onFunnelEvent(ev models.FunnelEvent) {
	kind := "completed"
	if ev.DroppedOff {
		kind = "dropped_off"
	}
	a.metrics.funnelEvent(kind)

	a.mu.Lock()
	now := a.clock.Now()
	if _, ok := a.funnelStarted[ev.FunnelID]; !ok && ev.Completed {
		a.funnelStarted[ev.FunnelID] = now
	}
	started := a.funnelStarted[ev.FunnelID]
	if ev.DroppedOff {
		delete(a.funnelStarted, ev.FunnelID)
	}
	user := models.WebhookUser{AnonymousID: a.anonymousID, SessionID: a.sessionID}
	a.mu.Unlock()

	if a.collector == nil {
		return
	}
	a.notifications.Add(1)
	go func() {
		defer a.notifications.Done()
		ctx := context.Background()
		f, err := a.funnels.GetFunnelByID(ctx, ev.FunnelID)
		if err != nil {
			a.logger.Warn("funnel notification skipped", "funnel_id", ev.FunnelID, "error", err)
			return
		}
		payload, ok := funnelPayload(*f, ev, user, now.Sub(started), now)
		if !ok {
			return
		}
		if err := a.collector.Send(ctx, payload); err != nil {
			a.logger.Warn("funnel notification failed", "event_type", payload.EventType, "error", err)
		}
	}()
}

func funnelPayload(f models.Funnel, ev models.FunnelEvent, user models.WebhookUser, elapsed time.Duration, now time.Time) (models.WebhookPayload, bool) {
	for i, step := range f.Steps {
		if step.ID != ev.FunnelStepID {
			continue
		}
		if ev.DroppedOff {
			return webhook.FunnelDroppedOff(f, step, user, now), true
		}
		if i == len(f.Steps)-1 {
			return webhook.FunnelCompleted(f, user, elapsed, now), true
		}
		return models.WebhookPayload{}, false
	}
	return models.WebhookPayload{}, false
}
