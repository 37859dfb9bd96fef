package tracking

import (
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/page"
)

// MouseMoveTracker thins the mousemove stream twice: a random draw against
// the sampling rate, then a throttle window. A move is emitted only when both
// let it through.
type MouseMoveTracker struct {
	page   *page.Page
	clock  quartz.Clock
	logger *slog.Logger
	rand   func() float64

	mu           sync.Mutex
	listener     page.ListenerID
	onEvent      func(models.MouseMoveEvent)
	samplingRate float64
	throttle     time.Duration
	window       *quartz.Timer
	gen          uint64
}

func NewMouseMoveTracker(p *page.Page, opts ...Option) *MouseMoveTracker {
	o := buildOptions("mousemove-tracker", opts)
	return &MouseMoveTracker{
		page:         p,
		clock:        o.clock,
		logger:       o.logger,
		rand:         o.rand,
		samplingRate: DefaultMouseSamplingRate,
		throttle:     DefaultMouseThrottle,
	}
}

func (t *MouseMoveTracker) Start(onEvent func(models.MouseMoveEvent), samplingRate float64, throttle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onEvent != nil {
		t.logger.Warn("mousemove tracker already started")
		return
	}
	t.onEvent = onEvent
	t.samplingRate = clampRate(samplingRate)
	t.throttle = max(throttle, 0)
	t.listener = t.page.AddEventListener(page.MouseMove, t.handle, page.ListenerOptions{Passive: true})
	t.logger.Info("mousemove tracking started", "sampling_rate", t.samplingRate, "throttle", t.throttle)
}

func (t *MouseMoveTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onEvent == nil {
		t.logger.Warn("mousemove tracker not started")
		return
	}
	t.page.RemoveEventListener(t.listener)
	t.closeWindowLocked()
	t.gen++
	t.listener = 0
	t.onEvent = nil
}

func (t *MouseMoveTracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onEvent != nil
}

// SetSamplingRate changes the rate without restarting capture. The rate is
// clamped to [0,1].
func (t *MouseMoveTracker) SetSamplingRate(rate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samplingRate = clampRate(rate)
	t.logger.Debug("sampling rate changed", "sampling_rate", t.samplingRate)
}

// SetThrottleDelay applies from the next window. Negative delays mean zero.
func (t *MouseMoveTracker) SetThrottleDelay(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.throttle = max(delay, 0)
	t.logger.Debug("throttle delay changed", "throttle", t.throttle)
}

func (t *MouseMoveTracker) SamplingRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samplingRate
}

func (t *MouseMoveTracker) handle(ev *page.Event) {
	t.mu.Lock()
	if t.onEvent == nil {
		t.mu.Unlock()
		return
	}
	if t.rand() >= t.samplingRate {
		t.mu.Unlock()
		return
	}
	if t.window != nil {
		t.mu.Unlock()
		return
	}
	if t.throttle > 0 {
		gen := t.gen
		t.window = t.clock.AfterFunc(t.throttle, func() { t.reopen(gen) }, "mousemove", "throttle")
	}
	onEvent := t.onEvent
	t.mu.Unlock()

	vw, vh := viewportOf(ev, t.page)
	onEvent(models.MouseMoveEvent{
		X:              ev.X,
		Y:              ev.Y,
		ViewportWidth:  vw,
		ViewportHeight: vh,
		Timestamp:      timestampOf(ev, t.clock),
	})
}

func (t *MouseMoveTracker) reopen(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen == t.gen {
		t.window = nil
	}
}

func (t *MouseMoveTracker) closeWindowLocked() {
	if t.window != nil {
		t.window.Stop()
		t.window = nil
	}
}

func clampRate(rate float64) float64 {
	return min(max(rate, 0), 1)
}
