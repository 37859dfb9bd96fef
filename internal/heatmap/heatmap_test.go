package heatmap

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/heatmap-agent/internal/models"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(DefaultConfig())
	require.NoError(t, err)
	return r
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.GridSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Opacity = OpacityRange{Min: 0.9, Max: 0.2}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Colors.Medium = "yellow"
	assert.Error(t, cfg.Validate())
}

func TestRampColors(t *testing.T) {
	ramp, err := NewRamp(DefaultConfig())
	require.NoError(t, err)

	tests := []struct {
		intensity float64
		want      string
	}{
		{0, "#0000ff"},
		{0.25, "#808080"},
		{0.5, "#ffff00"},
		{0.75, "#ff8000"},
		{1, "#ff0000"},
		{-3, "#0000ff"},
		{7, "#ff0000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ramp.Color(tt.intensity).Hex(), "intensity %v", tt.intensity)
	}

	assert.InDelta(t, 0.3, ramp.Opacity(0), 1e-9)
	assert.InDelta(t, 0.55, ramp.Opacity(0.5), 1e-9)
	assert.InDelta(t, 0.8, ramp.Opacity(1), 1e-9)
}

func TestAggregateGrid(t *testing.T) {
	points := []Point{{5, 5}, {15, 19}, {25, 5}, {-1, 0}, {19.9, 0}}
	g := AggregateGrid(points, 20)

	assert.Equal(t, 3, g.Max)
	assert.Equal(t, []Cell{
		{GridX: -1, GridY: 0, X: -20, Y: 0, Count: 1, Intensity: 1.0 / 3},
		{GridX: 0, GridY: 0, X: 0, Y: 0, Count: 3, Intensity: 1},
		{GridX: 1, GridY: 0, X: 20, Y: 0, Count: 1, Intensity: 1.0 / 3},
	}, g.Cells)

	empty := AggregateGrid(nil, 20)
	assert.Empty(t, empty.Cells)
	assert.Zero(t, empty.Max)
}

func TestAggregateScrollCountsReach(t *testing.T) {
	bands := AggregateScroll([]models.ScrollEvent{
		{DepthPercent: 80},
		{DepthPercent: 12},
	})

	require.Len(t, bands, 17)
	assert.Equal(t, Band{Depth: 0, Count: 2, Intensity: 1}, bands[0])
	assert.Equal(t, Band{Depth: 10, Count: 2, Intensity: 1}, bands[2])
	assert.Equal(t, Band{Depth: 15, Count: 1, Intensity: 0.5}, bands[3])
	assert.Equal(t, Band{Depth: 80, Count: 1, Intensity: 0.5}, bands[16])

	assert.Nil(t, AggregateScroll(nil))
}

func clicks() []models.ClickEvent {
	return []models.ClickEvent{
		{X: 10, Y: 10}, {X: 12, Y: 14}, {X: 300, Y: 200},
	}
}

func TestRenderClickHeatmap(t *testing.T) {
	r := newRenderer(t)
	o := r.RenderClickHeatmap(clicks(), 640, 480)

	assert.Equal(t, models.ModeClick, o.Mode)
	assert.Equal(t, 3, o.Events)
	require.Len(t, o.Marks, 2)
	hot := o.Marks[0]
	assert.Equal(t, ShapeCircle, hot.Shape)
	assert.Equal(t, 10.0, hot.X)
	assert.Equal(t, 10.0, hot.Y)
	assert.Equal(t, 40.0, hot.Radius)
	assert.Equal(t, "#ff0000", hot.Color)
	assert.InDelta(t, 0.8, hot.Opacity, 1e-9)
	assert.Equal(t, 2, hot.Count)

	assert.Equal(t, "#ffff00", o.Marks[1].Color)
	assert.InDelta(t, 0.55, o.Marks[1].Opacity, 1e-9)
}

func TestRenderIsIdempotent(t *testing.T) {
	r := newRenderer(t)
	first := r.RenderClickHeatmap(clicks(), 640, 480)
	second := r.RenderClickHeatmap(clicks(), 640, 480)
	assert.Equal(t, first, second)

	var a, b bytes.Buffer
	require.NoError(t, EncodePNG(&a, first))
	require.NoError(t, EncodePNG(&b, second))
	assert.Equal(t, a.Bytes(), b.Bytes())

	empty := r.RenderClickHeatmap(nil, 640, 480)
	assert.Empty(t, empty.Marks)
}

func TestRenderMouseMoveHeatmap(t *testing.T) {
	r := newRenderer(t)
	o := r.RenderMouseMoveHeatmap([]models.MouseMoveEvent{{X: 45, Y: 61}}, 100, 100)
	require.Len(t, o.Marks, 1)
	m := o.Marks[0]
	assert.Equal(t, ShapeRect, m.Shape)
	assert.Equal(t, 40.0, m.X)
	assert.Equal(t, 60.0, m.Y)
	assert.Equal(t, 20.0, m.Width)
}

func TestRenderScrollHeatmap(t *testing.T) {
	r := newRenderer(t)
	o := r.RenderScrollHeatmap([]models.ScrollEvent{{DepthPercent: 10}}, 200, 1000)
	require.Len(t, o.Marks, 3)
	assert.Equal(t, 100.0, o.Marks[2].Y)
	assert.Equal(t, 50.0, o.Marks[2].Height)
	assert.Equal(t, 200.0, o.Marks[2].Width)
}

func TestRasterizePaintsMarks(t *testing.T) {
	r := newRenderer(t)
	o := r.RenderMouseMoveHeatmap([]models.MouseMoveEvent{{X: 5, Y: 5}}, 40, 40)

	img, err := Rasterize(o)
	require.NoError(t, err)

	inside := img.RGBAAt(10, 10)
	assert.Equal(t, uint8(204), inside.A)
	assert.Equal(t, uint8(204), inside.R)
	assert.Zero(t, inside.B)
	assert.Zero(t, img.RGBAAt(30, 30).A)

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, o))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 40, decoded.Bounds().Dx())
}

func TestRasterizeClipsAndRejectsBadCanvas(t *testing.T) {
	r := newRenderer(t)
	o := r.RenderClickHeatmap([]models.ClickEvent{{X: -50, Y: 900}}, 100, 100)
	_, err := Rasterize(o)
	require.NoError(t, err)

	_, err = Rasterize(Overlay{Width: 0, Height: 10})
	assert.Error(t, err)
}

func TestRasterizeCircleStaysInPlace(t *testing.T) {
	r := newRenderer(t)
	o := r.RenderClickHeatmap([]models.ClickEvent{{X: 50, Y: 50}, {X: 0, Y: 0}}, 100, 100)
	require.Len(t, o.Marks, 2)

	img, err := Rasterize(o)
	require.NoError(t, err)
	assert.NotZero(t, img.RGBAAt(50, 50).A)
	assert.NotZero(t, img.RGBAAt(1, 1).A)
	assert.Zero(t, img.RGBAAt(99, 99).A)
	assert.Zero(t, img.RGBAAt(99, 0).A)
}

func denseClicks(width, height, step int) []models.ClickEvent {
	var events []models.ClickEvent
	for y := step / 2; y < height; y += step {
		for x := step / 2; x < width; x += step {
			events = append(events, models.ClickEvent{X: float64(x), Y: float64(y)})
		}
	}
	return events
}

func TestRasterizeDenseOverlay(t *testing.T) {
	r := newRenderer(t)
	o := r.RenderClickHeatmap(denseClicks(1280, 720, 20), 1280, 720)
	require.Len(t, o.Marks, 64*36)

	start := time.Now()
	img, err := Rasterize(o)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.NotZero(t, img.RGBAAt(0, 0).A)
	assert.NotZero(t, img.RGBAAt(640, 360).A)
	assert.NotZero(t, img.RGBAAt(1279, 719).A)
}

func TestRasterizeRejectsOversizedCanvas(t *testing.T) {
	_, err := Rasterize(Overlay{Width: 1 << 40, Height: 1 << 40})
	require.ErrorIs(t, err, ErrCanvasTooLarge)

	_, err = Rasterize(Overlay{Width: MaxCanvasSide, Height: MaxCanvasSide})
	require.ErrorIs(t, err, ErrCanvasTooLarge)

	var buf bytes.Buffer
	assert.ErrorIs(t, EncodePNG(&buf, Overlay{Width: 1280, Height: MaxCanvasSide + 1}), ErrCanvasTooLarge)
	assert.Zero(t, buf.Len())
}

func BenchmarkRasterizeDenseOverlay(b *testing.B) {
	r, err := NewRenderer(DefaultConfig())
	require.NoError(b, err)
	o := r.RenderClickHeatmap(denseClicks(1280, 720, 20), 1280, 720)
	b.ResetTimer()
	for b.Loop() {
		if _, err := Rasterize(o); err != nil {
			b.Fatal(err)
		}
	}
}
