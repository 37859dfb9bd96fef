package models

import (
	"errors"
	"fmt"
	"time"
)

// Beacon is one raw input record posted by the page script.
type Beacon struct {
	TSUTC          int64   `json:"ts_utc"`
	URL            string  `json:"url"`
	Type           string  `json:"type"` // click|scroll|mousemove|navigate|resize|unload
	X              float64 `json:"x,omitempty"`
	Y              float64 `json:"y,omitempty"`
	ViewportWidth  int     `json:"viewport_width,omitempty"`
	ViewportHeight int     `json:"viewport_height,omitempty"`
	ScrollY        float64 `json:"scroll_y,omitempty"`
	PageHeight     float64 `json:"page_height,omitempty"`
	Target         *Target `json:"target,omitempty"` // nullable
}

// Target describes the DOM element a click landed on, as reported by the page.
type Target struct {
	Tag   string `json:"tag"`
	ID    string `json:"id,omitempty"`
	Class string `json:"class,omitempty"`
	Text  string `json:"text,omitempty"`
}

type Batch struct {
	Events []Beacon `json:"events"`
}

var ErrInvalidBeacon = errors.New("invalid beacon")

var validBeaconTypes = map[string]bool{
	"click":     true,
	"scroll":    true,
	"mousemove": true,
	"navigate":  true,
	"resize":    true,
	"unload":    true,
}

// Geometry limits for incoming beacons.
const (
	MaxViewportSize = 16384
	MaxPageHeight   = 1_000_000
)

func ValidateBeacon(beacon Beacon) error {
	if beacon.URL == "" {
		return fmt.Errorf("%w: URL cannot be empty", ErrInvalidBeacon)
	}
	if beacon.Type == "" {
		return fmt.Errorf("%w: type cannot be empty", ErrInvalidBeacon)
	}
	if !validBeaconTypes[beacon.Type] {
		return fmt.Errorf("%w: unknown type %s", ErrInvalidBeacon, beacon.Type)
	}
	if beacon.TSUTC <= 0 {
		return fmt.Errorf("%w: timestamp must be positive", ErrInvalidBeacon)
	}
	if beacon.ViewportWidth < 0 || beacon.ViewportHeight < 0 {
		return fmt.Errorf("%w: negative viewport", ErrInvalidBeacon)
	}
	if beacon.ViewportWidth > MaxViewportSize || beacon.ViewportHeight > MaxViewportSize {
		return fmt.Errorf("%w: viewport %dx%d exceeds %d", ErrInvalidBeacon, beacon.ViewportWidth, beacon.ViewportHeight, MaxViewportSize)
	}
	if beacon.PageHeight < 0 || beacon.PageHeight > MaxPageHeight {
		return fmt.Errorf("%w: page height %v out of range", ErrInvalidBeacon, beacon.PageHeight)
	}
	return nil
}

// Time returns the beacon capture time.
func (b Beacon) Time() time.Time {
	return time.UnixMilli(b.TSUTC)
}

const isoLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t the way the page script's Date.toISOString does, so
// documents written by either side compare equal.
func Timestamp(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ParseTimestamp accepts both millisecond ISO strings and RFC 3339.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(isoLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
