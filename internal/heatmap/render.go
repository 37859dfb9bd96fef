package heatmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/vector"

	"github.com/vincentbai/heatmap-agent/internal/models"
)

type Shape string

const (
	ShapeCircle Shape = "circle"
	ShapeRect   Shape = "rect"
)

// Mark is one painted shape. Circles use X, Y as the center and Radius;
// rectangles use X, Y as the top-left corner and Width, Height.
type Mark struct {
	Shape     Shape   `json:"shape"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
	Radius    float64 `json:"radius,omitempty"`
	Color     string  `json:"color"`
	Opacity   float64 `json:"opacity"`
	Count     int     `json:"count"`
	Intensity float64 `json:"intensity"`
}

// Overlay is a complete heatmap for one mode, ready to paint.
type Overlay struct {
	Mode   models.OverlayMode `json:"mode"`
	Width  int                `json:"width"`
	Height int                `json:"height"`
	Events int                `json:"events"`
	Marks  []Mark             `json:"marks"`
}

// Renderer builds overlays. Every call starts from an empty overlay, so the
// result depends only on the events passed in.
type Renderer struct {
	cfg  Config
	ramp *Ramp
}

func NewRenderer(cfg Config) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ramp, err := NewRamp(cfg)
	if err != nil {
		return nil, err
	}
	return &Renderer{cfg: cfg, ramp: ramp}, nil
}

func (r *Renderer) Config() Config { return r.cfg }

// RenderClickHeatmap paints a circle of twice the grid size around the
// center of every occupied cell.
func (r *Renderer) RenderClickHeatmap(events []models.ClickEvent, width, height int) Overlay {
	grid := AggregateGrid(ClickPoints(events), r.cfg.GridSize)
	o := Overlay{Mode: models.ModeClick, Width: width, Height: height, Events: len(events), Marks: []Mark{}}
	half := float64(grid.Size) / 2
	for _, c := range grid.Cells {
		o.Marks = append(o.Marks, r.mark(Mark{
			Shape:  ShapeCircle,
			X:      c.X + half,
			Y:      c.Y + half,
			Radius: float64(grid.Size) * 2,
		}, c.Count, c.Intensity))
	}
	return o
}

// RenderMouseMoveHeatmap fills every occupied cell.
func (r *Renderer) RenderMouseMoveHeatmap(events []models.MouseMoveEvent, width, height int) Overlay {
	grid := AggregateGrid(MouseMovePoints(events), r.cfg.GridSize)
	o := Overlay{Mode: models.ModeMouse, Width: width, Height: height, Events: len(events), Marks: []Mark{}}
	size := float64(grid.Size)
	for _, c := range grid.Cells {
		o.Marks = append(o.Marks, r.mark(Mark{
			Shape:  ShapeRect,
			X:      c.X,
			Y:      c.Y,
			Width:  size,
			Height: size,
		}, c.Count, c.Intensity))
	}
	return o
}

// RenderScrollHeatmap paints one full-width band per reached depth bucket,
// with the canvas height standing for the whole page.
func (r *Renderer) RenderScrollHeatmap(events []models.ScrollEvent, width, height int) Overlay {
	o := Overlay{Mode: models.ModeScroll, Width: width, Height: height, Events: len(events), Marks: []Mark{}}
	bandHeight := float64(height) * ScrollBucket / 100
	for _, b := range AggregateScroll(events) {
		o.Marks = append(o.Marks, r.mark(Mark{
			Shape:  ShapeRect,
			X:      0,
			Y:      float64(height) * float64(b.Depth) / 100,
			Width:  float64(width),
			Height: bandHeight,
		}, b.Count, b.Intensity))
	}
	return o
}

func (r *Renderer) mark(m Mark, count int, intensity float64) Mark {
	m.Color = r.ramp.Color(intensity).Hex()
	m.Opacity = r.ramp.Opacity(intensity)
	m.Count = count
	m.Intensity = intensity
	return m
}

// kappa places cubic control points for a quarter circle.
const kappa = 0.5522847498

// Largest canvas Rasterize accepts, per side and in total.
const (
	MaxCanvasSide   = 16384
	MaxCanvasPixels = 1 << 25
)

var ErrCanvasTooLarge = errors.New("canvas too large")

// Rasterize paints the overlay onto a fresh transparent image. Each mark is
// drawn only inside its own clipped bounds.
func Rasterize(o Overlay) (*image.RGBA, error) {
	if o.Width <= 0 || o.Height <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", o.Width, o.Height)
	}
	if o.Width > MaxCanvasSide || o.Height > MaxCanvasSide || o.Width*o.Height > MaxCanvasPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrCanvasTooLarge, o.Width, o.Height)
	}
	img := image.NewRGBA(image.Rect(0, 0, o.Width, o.Height))
	z := vector.NewRasterizer(0, 0)
	for _, m := range o.Marks {
		src, err := markSource(m)
		if err != nil {
			return nil, err
		}
		switch m.Shape {
		case ShapeCircle:
			box := bounds(m.X-m.Radius, m.Y-m.Radius, m.X+m.Radius, m.Y+m.Radius).Intersect(img.Bounds())
			if box.Empty() {
				continue
			}
			z.Reset(box.Dx(), box.Dy())
			circle(z, float32(m.X)-float32(box.Min.X), float32(m.Y)-float32(box.Min.Y), float32(m.Radius))
			z.Draw(img, box, src, image.Point{})
		case ShapeRect:
			box := bounds(m.X, m.Y, m.X+m.Width, m.Y+m.Height).Intersect(img.Bounds())
			if box.Empty() {
				continue
			}
			draw.Draw(img, box, src, image.Point{}, draw.Over)
		default:
			return nil, fmt.Errorf("unknown shape %q", m.Shape)
		}
	}
	return img, nil
}

// bounds is the smallest pixel rectangle covering the given extent.
func bounds(x0, y0, x1, y1 float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(x0)), int(math.Floor(y0)),
		int(math.Ceil(x1)), int(math.Ceil(y1)),
	)
}

func markSource(m Mark) (*image.Uniform, error) {
	c, err := parseHex(m.Color)
	if err != nil {
		return nil, err
	}
	c.A = uint8(clamp01(m.Opacity)*255 + 0.5)
	return image.NewUniform(c), nil
}

func circle(z *vector.Rasterizer, cx, cy, r float32) {
	k := float32(kappa) * r
	z.MoveTo(cx+r, cy)
	z.CubeTo(cx+r, cy+k, cx+k, cy+r, cx, cy+r)
	z.CubeTo(cx-k, cy+r, cx-r, cy+k, cx-r, cy)
	z.CubeTo(cx-r, cy-k, cx-k, cy-r, cx, cy-r)
	z.CubeTo(cx+k, cy-r, cx+r, cy-k, cx+r, cy)
	z.ClosePath()
}

// EncodePNG writes the rasterized overlay as PNG.
func EncodePNG(w io.Writer, o Overlay) error {
	img, err := Rasterize(o)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func parseHex(hex string) (color.NRGBA, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.NRGBA{}, err
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b}, nil
}
