// Package tracking holds the input capture trackers. Each tracker registers a
// listener on the host page, turns raw page events into stored event records
// and applies its own sampling, throttle or debounce policy.
package tracking

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/coder/quartz"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/page"
)

const (
	DefaultScrollDebounce    = 200 * time.Millisecond
	DefaultMouseSamplingRate = 0.1
	DefaultMouseThrottle     = 100 * time.Millisecond
)

type options struct {
	clock  quartz.Clock
	logger *slog.Logger
	rand   func() float64
}

type Option func(*options)

// WithClock replaces the real clock. Tests pass a quartz mock.
func WithClock(clock quartz.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRand replaces the uniform [0,1) source used for mouse-move sampling.
func WithRand(fn func() float64) Option {
	return func(o *options) { o.rand = fn }
}

func buildOptions(component string, opts []Option) options {
	o := options{
		clock:  quartz.NewReal(),
		logger: slog.Default(),
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", component)
	return o
}

func viewportOf(ev *page.Event, p *page.Page) (int, int) {
	if ev.ViewportWidth > 0 && ev.ViewportHeight > 0 {
		return ev.ViewportWidth, ev.ViewportHeight
	}
	vp := p.Viewport()
	return vp.Width, vp.Height
}

func timestampOf(ev *page.Event, clock quartz.Clock) string {
	if ev.Time.IsZero() {
		return models.Timestamp(clock.Now())
	}
	return models.Timestamp(ev.Time)
}
