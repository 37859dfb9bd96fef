// Package heatmap turns stored events into heatmap overlays. Aggregation and
// color mapping are pure functions of the event set; Rasterize is the thin
// adapter that paints an overlay into an image.
package heatmap

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
)

type Colors struct {
	Low    string `mapstructure:"low" json:"low"`
	Medium string `mapstructure:"medium" json:"medium"`
	High   string `mapstructure:"high" json:"high"`
}

type OpacityRange struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

type Config struct {
	Colors   Colors       `mapstructure:"colors" json:"colors"`
	Opacity  OpacityRange `mapstructure:"opacity" json:"opacity"`
	GridSize int          `mapstructure:"grid_size" json:"grid_size"`
}

func DefaultConfig() Config {
	return Config{
		Colors:   Colors{Low: "#0000FF", Medium: "#FFFF00", High: "#FF0000"},
		Opacity:  OpacityRange{Min: 0.3, Max: 0.8},
		GridSize: 20,
	}
}

func (c Config) Validate() error {
	if c.GridSize <= 0 {
		return fmt.Errorf("grid size must be positive, got %d", c.GridSize)
	}
	if c.Opacity.Min < 0 || c.Opacity.Max > 1 || c.Opacity.Min > c.Opacity.Max {
		return fmt.Errorf("invalid opacity range [%g, %g]", c.Opacity.Min, c.Opacity.Max)
	}
	for _, hex := range []string{c.Colors.Low, c.Colors.Medium, c.Colors.High} {
		if _, err := colorful.Hex(hex); err != nil {
			return fmt.Errorf("invalid color %q: %w", hex, err)
		}
	}
	return nil
}

// Ramp maps an intensity in [0,1] to a color and an opacity. Below 0.5 it
// blends low to medium, from 0.5 up medium to high.
type Ramp struct {
	low, medium, high colorful.Color
	opacity           OpacityRange
}

func NewRamp(cfg Config) (*Ramp, error) {
	low, err := colorful.Hex(cfg.Colors.Low)
	if err != nil {
		return nil, fmt.Errorf("low color: %w", err)
	}
	medium, err := colorful.Hex(cfg.Colors.Medium)
	if err != nil {
		return nil, fmt.Errorf("medium color: %w", err)
	}
	high, err := colorful.Hex(cfg.Colors.High)
	if err != nil {
		return nil, fmt.Errorf("high color: %w", err)
	}
	return &Ramp{low: low, medium: medium, high: high, opacity: cfg.Opacity}, nil
}

func (r *Ramp) Color(intensity float64) colorful.Color {
	i := clamp01(intensity)
	if i < 0.5 {
		return r.low.BlendRgb(r.medium, i*2)
	}
	return r.medium.BlendRgb(r.high, (i-0.5)*2)
}

func (r *Ramp) Opacity(intensity float64) float64 {
	return r.opacity.Min + (r.opacity.Max-r.opacity.Min)*clamp01(intensity)
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
