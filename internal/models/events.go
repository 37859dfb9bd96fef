package models

// ElementInfo is the stored summary of a click target. Text is truncated and
// HTML-escaped before it gets here.
type ElementInfo struct {
	Tag   string `json:"tag"`
	ID    string `json:"id,omitempty"`
	Class string `json:"class,omitempty"`
	Text  string `json:"text,omitempty"`
}

type ClickEvent struct {
	X              float64     `json:"x"`
	Y              float64     `json:"y"`
	ViewportWidth  int         `json:"viewport_width"`
	ViewportHeight int         `json:"viewport_height"`
	Element        ElementInfo `json:"element"`
	Timestamp      string      `json:"timestamp"`
}

type ScrollEvent struct {
	DepthPercent int     `json:"depth_percent"`
	MaxScrollY   float64 `json:"max_scroll_y"`
	PageHeight   float64 `json:"page_height"`
	Timestamp    string  `json:"timestamp"`
}

type MouseMoveEvent struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	Timestamp      string  `json:"timestamp"`
}

// OverlayMode selects which visualization the overlay shows.
type OverlayMode string

const (
	ModeClick  OverlayMode = "click"
	ModeScroll OverlayMode = "scroll"
	ModeMouse  OverlayMode = "mouse"
	ModeFunnel OverlayMode = "funnel"
)

func (m OverlayMode) Valid() bool {
	switch m {
	case ModeClick, ModeScroll, ModeMouse, ModeFunnel:
		return true
	}
	return false
}

type OverlayState struct {
	IsVisible bool        `json:"isVisible"`
	Mode      OverlayMode `json:"mode"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PendingEvents are the FIFO queues waiting to be synced.
type PendingEvents struct {
	Clicks     []ClickEvent     `json:"clicks"`
	Scrolls    []ScrollEvent    `json:"scrolls"`
	MouseMoves []MouseMoveEvent `json:"mouseMoves"`
}

func (p PendingEvents) Empty() bool {
	return len(p.Clicks) == 0 && len(p.Scrolls) == 0 && len(p.MouseMoves) == 0
}

func (p PendingEvents) Count() DataCount {
	return DataCount{
		Clicks:     len(p.Clicks),
		Scrolls:    len(p.Scrolls),
		MouseMoves: len(p.MouseMoves),
	}
}

type FunnelProgress struct {
	FunnelID       string `json:"funnelId"`
	CurrentStep    int    `json:"currentStep"`
	CompletedSteps []int  `json:"completedSteps"`
}

// LocalStorageData is the root document persisted under heatmap_analytics_data.
type LocalStorageData struct {
	OverlayState    OverlayState    `json:"overlayState"`
	SessionID       string          `json:"sessionId"`
	AnonymousID     string          `json:"anonymousId"`
	PendingEvents   PendingEvents   `json:"pendingEvents"`
	FunnelProgress  *FunnelProgress `json:"funnelProgress,omitempty"`
	OverlayPosition *Position       `json:"overlayPosition,omitempty"`
}

// DataCount is the live per-channel event count shown by the overlay.
type DataCount struct {
	Clicks     int `json:"clicks"`
	Scrolls    int `json:"scrolls"`
	MouseMoves int `json:"mouseMoves"`
}
