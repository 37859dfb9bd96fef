package funnel

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/coder/quartz"

	"github.com/vincentbai/heatmap-agent/internal/models"
)

// Analyzer computes funnel statistics from the stored definitions and log.
type Analyzer struct {
	manager *Manager
	log     *EventLog
	clock   quartz.Clock
	logger  *slog.Logger
}

func NewAnalyzer(manager *Manager, log *EventLog, opts ...Option) *Analyzer {
	o := buildOptions("funnel-analyzer", opts)
	return &Analyzer{manager: manager, log: log, clock: o.clock, logger: o.logger}
}

// CalculateFunnelStats returns nil, nil for an unknown funnel: no data yet.
func (a *Analyzer) CalculateFunnelStats(ctx context.Context, funnelID string) (*models.FunnelStats, error) {
	f, err := a.manager.GetFunnelByID(ctx, funnelID)
	if errors.Is(err, ErrFunnelNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	events, err := a.log.For(ctx, funnelID)
	if err != nil {
		return nil, err
	}
	stats := CalculateStats(*f, events, a.clock.Now())
	return &stats, nil
}

func (a *Analyzer) CalculateAllFunnelStats(ctx context.Context) ([]models.FunnelStats, error) {
	funnels, err := a.manager.AllFunnels(ctx)
	if err != nil {
		return nil, err
	}
	events, err := a.log.All(ctx)
	if err != nil {
		return nil, err
	}
	byFunnel := make(map[string][]models.FunnelEvent)
	for _, ev := range events {
		byFunnel[ev.FunnelID] = append(byFunnel[ev.FunnelID], ev)
	}
	now := a.clock.Now()
	out := make([]models.FunnelStats, 0, len(funnels))
	for _, f := range funnels {
		out = append(out, CalculateStats(f, byFunnel[f.ID], now))
	}
	return out, nil
}

// FindBottleneckStep returns the step with the highest drop-off rate, or nil
// when the funnel is unknown or has no steps.
func (a *Analyzer) FindBottleneckStep(ctx context.Context, funnelID string) (*models.FunnelStepStats, error) {
	stats, err := a.CalculateFunnelStats(ctx, funnelID)
	if err != nil || stats == nil {
		return nil, err
	}
	return Bottleneck(stats.Stats), nil
}

// CalculateStats computes per-step entry and completion counts over distinct
// users. events must belong to f. now bounds the date range when there are
// no events.
func CalculateStats(f models.Funnel, events []models.FunnelEvent, now time.Time) models.FunnelStats {
	steps := make([]models.FunnelStepStats, len(f.Steps))
	for i, step := range f.Steps {
		entered := make(map[string]struct{})
		done := make(map[string]struct{})
		for _, ev := range events {
			if ev.FunnelStepID != step.ID {
				continue
			}
			entered[ev.UserID] = struct{}{}
			if ev.Completed {
				done[ev.UserID] = struct{}{}
			}
		}
		var completionRate float64
		if len(entered) > 0 {
			completionRate = float64(len(done)) / float64(len(entered)) * 100
		}
		steps[i] = models.FunnelStepStats{
			StepOrder:      step.StepOrder,
			StepName:       step.StepName,
			UsersEntered:   len(entered),
			UsersCompleted: len(done),
			CompletionRate: round2(completionRate),
			DropOffRate:    round2(100 - completionRate),
		}
	}

	var overall float64
	if len(steps) > 0 && steps[0].UsersEntered > 0 {
		overall = float64(steps[len(steps)-1].UsersCompleted) / float64(steps[0].UsersEntered) * 100
	}

	return models.FunnelStats{
		Funnel:                models.FunnelRef{ID: f.ID, Name: f.Name},
		Stats:                 steps,
		OverallConversionRate: round2(overall),
		DateRange:             dateRange(events, now),
	}
}

// Bottleneck picks the highest drop-off rate; ties go to the earlier step.
func Bottleneck(steps []models.FunnelStepStats) *models.FunnelStepStats {
	var worst *models.FunnelStepStats
	for i := range steps {
		if worst == nil || steps[i].DropOffRate > worst.DropOffRate {
			worst = &steps[i]
		}
	}
	return worst
}

func dateRange(events []models.FunnelEvent, now time.Time) models.DateRange {
	var first, last time.Time
	for _, ev := range events {
		ts, err := models.ParseTimestamp(ev.Timestamp)
		if err != nil {
			continue
		}
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if last.IsZero() || ts.After(last) {
			last = ts
		}
	}
	if first.IsZero() {
		first, last = now, now
	}
	return models.DateRange{Start: models.Timestamp(first), End: models.Timestamp(last)}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
