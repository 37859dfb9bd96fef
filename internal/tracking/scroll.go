package tracking

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/page"
)

// ScrollDepth computes the depth percentage for a scroll position. A page
// that cannot scroll is fully seen.
func ScrollDepth(scrollY, pageHeight float64, viewportHeight int) int {
	maxScroll := pageHeight - float64(viewportHeight)
	if maxScroll <= 0 {
		return 100
	}
	depth := int(math.Round(scrollY / maxScroll * 100))
	return min(max(depth, 0), 100)
}

// ScrollTracker emits a ScrollEvent after each burst of scrolling settles,
// and only when the depth beats the deepest point seen on the current
// document. Navigation starts a new watermark.
type ScrollTracker struct {
	page   *page.Page
	clock  quartz.Clock
	logger *slog.Logger

	mu       sync.Mutex
	listener page.ListenerID
	navigate page.ListenerID
	onEvent  func(models.ScrollEvent)
	debounce time.Duration
	timer    *quartz.Timer
	maxDepth int
	// lastScroll is the capture time of the newest scroll in the burst.
	lastScroll time.Time
	// gen invalidates timers that fire after Stop or a navigation.
	gen uint64
}

func NewScrollTracker(p *page.Page, opts ...Option) *ScrollTracker {
	o := buildOptions("scroll-tracker", opts)
	return &ScrollTracker{page: p, clock: o.clock, logger: o.logger}
}

// Start begins capture with a trailing-edge debounce. A non-positive debounce
// uses DefaultScrollDebounce.
func (t *ScrollTracker) Start(onEvent func(models.ScrollEvent), debounce time.Duration) {
	if debounce <= 0 {
		debounce = DefaultScrollDebounce
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onEvent != nil {
		t.logger.Warn("scroll tracker already started")
		return
	}
	t.onEvent = onEvent
	t.debounce = debounce
	t.maxDepth = 0
	t.listener = t.page.AddEventListener(page.Scroll, t.handle, page.ListenerOptions{Passive: true})
	t.navigate = t.page.AddEventListener(page.Navigate, t.reset, page.ListenerOptions{Capture: true, Passive: true})
}

// Stop detaches the listeners, cancels any pending debounce and resets the
// depth watermark.
func (t *ScrollTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onEvent == nil {
		t.logger.Warn("scroll tracker not started")
		return
	}
	t.page.RemoveEventListener(t.listener)
	t.page.RemoveEventListener(t.navigate)
	t.cancelLocked()
	t.listener = 0
	t.navigate = 0
	t.onEvent = nil
}

// reset starts a fresh watermark for the new document and drops any burst
// still pending from the old one.
func (t *ScrollTracker) reset(*page.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onEvent == nil {
		return
	}
	t.cancelLocked()
}

func (t *ScrollTracker) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.maxDepth = 0
	t.lastScroll = time.Time{}
}

func (t *ScrollTracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onEvent != nil
}

// CurrentDepth is the depth of the page's current scroll position.
func (t *ScrollTracker) CurrentDepth() int {
	return ScrollDepth(t.page.ScrollY(), t.page.PageHeight(), t.page.Viewport().Height)
}

// MaxDepth is the watermark for the current capture.
func (t *ScrollTracker) MaxDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxDepth
}

func (t *ScrollTracker) handle(ev *page.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onEvent == nil {
		return
	}
	t.lastScroll = ev.Time
	if t.timer != nil {
		t.timer.Stop()
	}
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.debounce, func() { t.settle(gen) }, "scroll", "debounce")
}

func (t *ScrollTracker) settle(gen uint64) {
	scrollY := t.page.ScrollY()
	pageHeight := t.page.PageHeight()
	depth := ScrollDepth(scrollY, pageHeight, t.page.Viewport().Height)

	t.mu.Lock()
	if gen != t.gen || t.onEvent == nil {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	if depth <= t.maxDepth {
		t.mu.Unlock()
		return
	}
	t.maxDepth = depth
	onEvent := t.onEvent
	at := t.lastScroll
	t.mu.Unlock()

	if at.IsZero() {
		at = t.clock.Now()
	}
	onEvent(models.ScrollEvent{
		DepthPercent: depth,
		MaxScrollY:   scrollY,
		PageHeight:   pageHeight,
		Timestamp:    models.Timestamp(at),
	})
}
