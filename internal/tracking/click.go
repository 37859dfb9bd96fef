package tracking

import (
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/coder/quartz"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/page"
)

// MaxElementText is the number of characters of target text kept per click.
const MaxElementText = 50

var textEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// ClickTracker records every click. It listens in the capture phase so page
// handlers that stop propagation cannot hide clicks from it.
type ClickTracker struct {
	page   *page.Page
	clock  quartz.Clock
	logger *slog.Logger

	mu       sync.Mutex
	listener page.ListenerID
	onEvent  func(models.ClickEvent)
}

func NewClickTracker(p *page.Page, opts ...Option) *ClickTracker {
	o := buildOptions("click-tracker", opts)
	return &ClickTracker{page: p, clock: o.clock, logger: o.logger}
}

func (t *ClickTracker) Start(onEvent func(models.ClickEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onEvent != nil {
		t.logger.Warn("click tracker already started")
		return
	}
	t.onEvent = onEvent
	t.listener = t.page.AddEventListener(page.Click, t.handle, page.ListenerOptions{Capture: true})
}

// Stop detaches the listener. Stopping an idle tracker only logs a warning.
func (t *ClickTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onEvent == nil {
		t.logger.Warn("click tracker not started")
		return
	}
	t.page.RemoveEventListener(t.listener)
	t.listener = 0
	t.onEvent = nil
}

func (t *ClickTracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onEvent != nil
}

func (t *ClickTracker) handle(ev *page.Event) {
	t.mu.Lock()
	onEvent := t.onEvent
	t.mu.Unlock()
	if onEvent == nil {
		return
	}

	vw, vh := viewportOf(ev, t.page)
	onEvent(models.ClickEvent{
		X:              ev.X,
		Y:              ev.Y,
		ViewportWidth:  vw,
		ViewportHeight: vh,
		Element:        ElementInfoFrom(ev.Target),
		Timestamp:      timestampOf(ev, t.clock),
	})
}

// ElementInfoFrom summarizes a click target. Text is trimmed, cut to
// MaxElementText characters and HTML-escaped.
func ElementInfoFrom(el *page.Element) models.ElementInfo {
	if el == nil {
		return models.ElementInfo{Tag: "unknown"}
	}
	tag := strings.ToLower(el.Tag)
	if tag == "" {
		tag = "unknown"
	}
	return models.ElementInfo{
		Tag:   tag,
		ID:    el.ID,
		Class: el.Class,
		Text:  sanitizeText(el.TextContent),
	}
}

func sanitizeText(text string) string {
	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > MaxElementText {
		text = string(r[:MaxElementText])
	}
	return textEscaper.Replace(text)
}

// NormalizeClickCoordinates rounds a position to three decimals.
func NormalizeClickCoordinates(x, y float64) (float64, float64) {
	return math.Round(x*1000) / 1000, math.Round(y*1000) / 1000
}
