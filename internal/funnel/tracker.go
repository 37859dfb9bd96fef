package funnel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/quartz"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/page"
)

// State is the session's position in the funnels: Idle or InStep.
type State interface {
	isState()
}

// Idle means the current page belongs to no funnel step.
type Idle struct{}

// InStep means the session is on Step of Funnel.
type InStep struct {
	Funnel models.Funnel
	Step   models.FunnelStep
}

func (Idle) isState()   {}
func (InStep) isState() {}

// Outcome is one funnel event to record, before session data is attached.
type Outcome struct {
	Funnel     models.Funnel
	Step       models.FunnelStep
	Completed  bool
	DroppedOff bool
}

func completed(f models.Funnel, s models.FunnelStep) Outcome {
	return Outcome{Funnel: f, Step: s, Completed: true}
}

func droppedOff(f models.Funnel, s models.FunnelStep) Outcome {
	return Outcome{Funnel: f, Step: s, DroppedOff: true}
}

// Transition moves the state machine for a page check. match is nil when the
// page matches no step.
//
// Switching straight to another funnel completes the new step without a
// drop-off for the step being left.
func Transition(state State, match *Match) (State, []Outcome) {
	switch s := state.(type) {
	case Idle:
		if match == nil {
			return s, nil
		}
		return InStep{Funnel: match.Funnel, Step: match.Step}, []Outcome{completed(match.Funnel, match.Step)}
	case InStep:
		if match == nil {
			return Idle{}, []Outcome{droppedOff(s.Funnel, s.Step)}
		}
		next := InStep{Funnel: match.Funnel, Step: match.Step}
		if match.Funnel.ID != s.Funnel.ID {
			return next, []Outcome{completed(match.Funnel, match.Step)}
		}
		if match.Step.ID == s.Step.ID {
			return s, nil
		}
		return next, []Outcome{
			completed(s.Funnel, s.Step),
			completed(match.Funnel, match.Step),
		}
	default:
		panic("funnel: unknown state")
	}
}

// Shutdown is the final transition when tracking ends.
func Shutdown(state State) []Outcome {
	if s, ok := state.(InStep); ok {
		return []Outcome{droppedOff(s.Funnel, s.Step)}
	}
	return nil
}

// Tracker runs the state machine for one session, checking the page URL on
// every navigation and appending the outcomes to the event log.
type Tracker struct {
	page      *page.Page
	manager   *Manager
	log       *EventLog
	sessionID string
	userID    string
	clock     quartz.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	state    State
	active   bool
	listener page.ListenerID
	onEvent  func(models.FunnelEvent)
}

func NewTracker(p *page.Page, manager *Manager, log *EventLog, sessionID, userID string, opts ...Option) *Tracker {
	o := buildOptions("funnel-tracker", opts)
	return &Tracker{
		page:      p,
		manager:   manager,
		log:       log,
		sessionID: sessionID,
		userID:    userID,
		clock:     o.clock,
		logger:    o.logger,
		state:     Idle{},
	}
}

// OnEvent registers a hook called for every recorded funnel event.
func (t *Tracker) OnEvent(fn func(models.FunnelEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvent = fn
}

// Start checks the current page and then follows navigations.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		t.logger.Warn("funnel tracker already started")
		return
	}
	t.active = true
	t.ctx = context.WithoutCancel(ctx)
	t.listener = t.page.AddEventListener(page.Navigate, func(*page.Event) {
		t.CheckCurrentPage(t.ctx)
	}, page.ListenerOptions{})
	t.mu.Unlock()

	t.CheckCurrentPage(ctx)
}

// Stop records a drop-off for the step in progress, if any, and stops
// following navigations.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.page.RemoveEventListener(t.listener)
	t.listener = 0
	t.active = false
	outcomes := Shutdown(t.state)
	t.state = Idle{}
	events, hook := t.recordLocked(ctx, outcomes)
	t.mu.Unlock()

	notify(hook, events)
}

func (t *Tracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CheckCurrentPage matches the page URL against the funnels and records the
// resulting transition. Failures are logged, never returned.
func (t *Tracker) CheckCurrentPage(ctx context.Context) {
	url := t.page.URL()
	match, err := t.manager.FindMatchingStep(ctx, url)
	if err != nil {
		t.logger.Error("funnel lookup failed", "url", url, "error", err)
		return
	}

	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	next, outcomes := Transition(t.state, match)
	t.state = next
	events, hook := t.recordLocked(ctx, outcomes)
	t.mu.Unlock()

	notify(hook, events)
}

// recordLocked appends the outcomes to the log and returns what was written
// along with the hook to run once the lock is released.
func (t *Tracker) recordLocked(ctx context.Context, outcomes []Outcome) ([]models.FunnelEvent, func(models.FunnelEvent)) {
	if len(outcomes) == 0 {
		return nil, nil
	}
	now := models.Timestamp(t.clock.Now())
	events := make([]models.FunnelEvent, len(outcomes))
	for i, o := range outcomes {
		events[i] = models.FunnelEvent{
			FunnelID:     o.Funnel.ID,
			FunnelStepID: o.Step.ID,
			SessionID:    t.sessionID,
			UserID:       t.userID,
			Completed:    o.Completed,
			DroppedOff:   o.DroppedOff,
			Timestamp:    now,
		}
	}
	if err := t.log.Append(ctx, events...); err != nil {
		t.logger.Error("record funnel events failed", "error", err)
		return nil, nil
	}
	for _, ev := range events {
		t.logger.Debug("funnel event recorded",
			"funnel_id", ev.FunnelID, "step_id", ev.FunnelStepID,
			"completed", ev.Completed, "dropped_off", ev.DroppedOff)
	}
	return events, t.onEvent
}

func notify(hook func(models.FunnelEvent), events []models.FunnelEvent) {
	if hook == nil {
		return
	}
	for _, ev := range events {
		hook(ev)
	}
}
