package heatmap

import (
	"cmp"
	"math"
	"slices"

	"github.com/vincentbai/heatmap-agent/internal/models"
)

// ScrollBucket is the width of a scroll depth band in percent.
const ScrollBucket = 5

type Point struct {
	X, Y float64
}

// Cell is one occupied grid cell. X and Y are its top-left corner in pixels.
type Cell struct {
	GridX, GridY int
	X, Y         float64
	Count        int
	Intensity    float64
}

type Grid struct {
	Size  int
	Max   int
	Cells []Cell
}

// Band is the reach count of one depth bucket starting at Depth percent.
type Band struct {
	Depth     int
	Count     int
	Intensity float64
}

func ClickPoints(events []models.ClickEvent) []Point {
	points := make([]Point, len(events))
	for i, ev := range events {
		points[i] = Point{X: ev.X, Y: ev.Y}
	}
	return points
}

func MouseMovePoints(events []models.MouseMoveEvent) []Point {
	points := make([]Point, len(events))
	for i, ev := range events {
		points[i] = Point{X: ev.X, Y: ev.Y}
	}
	return points
}

// AggregateGrid bins points into square cells of size pixels and normalizes
// each count by the busiest cell. Cells come back ordered by row, then column.
func AggregateGrid(points []Point, size int) Grid {
	if size <= 0 {
		size = DefaultConfig().GridSize
	}
	type key struct{ x, y int }
	counts := make(map[key]int)
	for _, p := range points {
		k := key{
			x: int(math.Floor(p.X / float64(size))),
			y: int(math.Floor(p.Y / float64(size))),
		}
		counts[k]++
	}

	g := Grid{Size: size, Cells: make([]Cell, 0, len(counts))}
	for _, n := range counts {
		g.Max = max(g.Max, n)
	}
	for k, n := range counts {
		g.Cells = append(g.Cells, Cell{
			GridX:     k.x,
			GridY:     k.y,
			X:         float64(k.x * size),
			Y:         float64(k.y * size),
			Count:     n,
			Intensity: float64(n) / float64(g.Max),
		})
	}
	slices.SortFunc(g.Cells, func(a, b Cell) int {
		return cmp.Or(cmp.Compare(a.GridY, b.GridY), cmp.Compare(a.GridX, b.GridX))
	})
	return g
}

// AggregateScroll builds the depth reach histogram. A scroll to d percent
// counts as reaching every bucket from 0 up to d. Only reached buckets are
// returned, shallowest first.
func AggregateScroll(events []models.ScrollEvent) []Band {
	var counts [100/ScrollBucket + 1]int
	for _, ev := range events {
		depth := min(max(ev.DepthPercent, 0), 100)
		for b := 0; b*ScrollBucket <= depth; b++ {
			counts[b]++
		}
	}
	peak := slices.Max(counts[:])
	if peak == 0 {
		return nil
	}
	var bands []Band
	for b, n := range counts {
		if n == 0 {
			continue
		}
		bands = append(bands, Band{
			Depth:     b * ScrollBucket,
			Count:     n,
			Intensity: float64(n) / float64(peak),
		})
	}
	return bands
}
