package webhook

import (
	"time"

	"github.com/vincentbai/heatmap-agent/internal/models"
)

const (
	EventAnalyticsBatch   = "analytics.batch"
	EventFunnelCompleted  = "funnel.completed"
	EventFunnelDroppedOff = "funnel.dropped_off"
)

// Batch wraps pending events for the periodic sync.
func Batch(user models.WebhookUser, events models.PendingEvents, now time.Time) models.WebhookPayload {
	counts := events.Count()
	return models.WebhookPayload{
		EventType: EventAnalyticsBatch,
		User:      &user,
		Counts:    &counts,
		Events:    &events,
		Timestamp: models.Timestamp(now),
	}
}

func FunnelCompleted(f models.Funnel, user models.WebhookUser, duration time.Duration, now time.Time) models.WebhookPayload {
	return models.WebhookPayload{
		EventType: EventFunnelCompleted,
		User:      &user,
		Data: map[string]any{
			"funnel_id":        f.ID,
			"funnel_name":      f.Name,
			"duration_seconds": int(duration.Seconds()),
		},
		Timestamp: models.Timestamp(now),
	}
}

func FunnelDroppedOff(f models.Funnel, step models.FunnelStep, user models.WebhookUser, now time.Time) models.WebhookPayload {
	return models.WebhookPayload{
		EventType: EventFunnelDroppedOff,
		User:      &user,
		Data: map[string]any{
			"funnel_id":         f.ID,
			"funnel_name":       f.Name,
			"dropoff_step":      step.StepOrder,
			"dropoff_step_name": step.StepName,
		},
		Timestamp: models.Timestamp(now),
	}
}
