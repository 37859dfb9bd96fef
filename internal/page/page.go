// Package page models the host page the trackers observe: its URL, viewport,
// scroll geometry and an event-listener registry with capture and bubble
// phases. Beacons posted by the page script are replayed through Dispatch.
package page

import (
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	Click     EventType = "click"
	Scroll    EventType = "scroll"
	MouseMove EventType = "mousemove"
	Navigate  EventType = "navigate"
	Resize    EventType = "resize"
	Unload    EventType = "unload"
)

// Element is the event target as reported by the page.
type Element struct {
	Tag         string
	ID          string
	Class       string
	TextContent string
}

type Event struct {
	Type EventType
	Time time.Time

	// Pointer position in viewport pixels (click, mousemove).
	X, Y   float64
	Target *Element

	// Geometry carried by scroll and resize events.
	ScrollY        float64
	PageHeight     float64
	ViewportWidth  int
	ViewportHeight int

	URL string

	stopped bool
}

// StopPropagation keeps later bubble-phase listeners from seeing the event.
// Capture-phase listeners have already run by then.
func (e *Event) StopPropagation() { e.stopped = true }

type Listener func(*Event)

type ListenerOptions struct {
	Capture bool
	Passive bool
}

type ListenerID uint64

type registration struct {
	id      ListenerID
	typ     EventType
	fn      Listener
	capture bool
	passive bool
}

type Viewport struct {
	Width  int
	Height int
}

type Page struct {
	mu         sync.Mutex
	logger     *slog.Logger
	url        string
	viewport   Viewport
	scrollY    float64
	pageHeight float64
	listeners  []*registration
	nextID     ListenerID
}

func New(url string, viewport Viewport, logger *slog.Logger) *Page {
	if logger == nil {
		logger = slog.Default()
	}
	return &Page{
		logger:     logger.With("component", "page"),
		url:        url,
		viewport:   viewport,
		pageHeight: float64(viewport.Height),
	}
}

func (p *Page) AddEventListener(typ EventType, fn Listener, opts ListenerOptions) ListenerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.listeners = append(p.listeners, &registration{
		id:      p.nextID,
		typ:     typ,
		fn:      fn,
		capture: opts.Capture,
		passive: opts.Passive,
	})
	return p.nextID
}

// RemoveEventListener reports whether the listener was registered.
func (p *Page) RemoveEventListener(id ListenerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.listeners {
		if r.id == id {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Page) ListenerCount(typ EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.listeners {
		if r.typ == typ {
			n++
		}
	}
	return n
}

// Dispatch applies the event to the page state, then runs capture listeners
// followed by bubble listeners, each in registration order. A panicking
// listener is logged and does not stop the others.
func (p *Page) Dispatch(ev *Event) {
	p.mu.Lock()
	p.applyLocked(ev)
	var capture, bubble []*registration
	for _, r := range p.listeners {
		if r.typ != ev.Type {
			continue
		}
		if r.capture {
			capture = append(capture, r)
		} else {
			bubble = append(bubble, r)
		}
	}
	p.mu.Unlock()

	for _, r := range capture {
		p.invoke(r, ev)
	}
	for _, r := range bubble {
		if ev.stopped {
			return
		}
		p.invoke(r, ev)
	}
}

func (p *Page) invoke(r *registration, ev *Event) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("listener panicked", "event", ev.Type, "listener", r.id, "panic", rec)
		}
	}()
	r.fn(ev)
}

func (p *Page) applyLocked(ev *Event) {
	if ev.ViewportWidth > 0 && ev.ViewportHeight > 0 {
		p.viewport = Viewport{Width: ev.ViewportWidth, Height: ev.ViewportHeight}
	}
	switch ev.Type {
	case Scroll:
		p.scrollY = ev.ScrollY
		if ev.PageHeight > 0 {
			p.pageHeight = ev.PageHeight
		}
	case Resize:
		if ev.PageHeight > 0 {
			p.pageHeight = ev.PageHeight
		}
	case Navigate:
		p.url = ev.URL
		p.scrollY = 0
		if ev.PageHeight > 0 {
			p.pageHeight = ev.PageHeight
		}
	}
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Viewport() Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

func (p *Page) ScrollY() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollY
}

// PageHeight is the full document height, never less than the viewport.
func (p *Page) PageHeight() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h := float64(p.viewport.Height); p.pageHeight < h {
		return h
	}
	return p.pageHeight
}
