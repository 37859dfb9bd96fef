package models

type Funnel struct {
	ID                    string       `json:"id" yaml:"id"`
	Name                  string       `json:"name" yaml:"name"`
	Description           string       `json:"description,omitempty" yaml:"description,omitempty"`
	ConnectedOneProjectID string       `json:"connected_one_project_id,omitempty" yaml:"project_id,omitempty"`
	Steps                 []FunnelStep `json:"steps" yaml:"steps"`
	CreatedAt             string       `json:"created_at" yaml:"created_at"`
}

type FunnelStep struct {
	ID        string `json:"id" yaml:"id"`
	StepOrder int    `json:"step_order" yaml:"step_order"`
	StepName  string `json:"step_name" yaml:"step_name"`
	PageURL   string `json:"page_url" yaml:"page_url"`
}

// FunnelEvent is one entry of the append-only funnel log.
type FunnelEvent struct {
	FunnelID     string `json:"funnel_id"`
	FunnelStepID string `json:"funnel_step_id"`
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	Completed    bool   `json:"completed"`
	DroppedOff   bool   `json:"dropped_off"`
	Timestamp    string `json:"timestamp"`
}

type FunnelRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type FunnelStats struct {
	Funnel                FunnelRef         `json:"funnel"`
	Stats                 []FunnelStepStats `json:"stats"`
	OverallConversionRate float64           `json:"overall_conversion_rate"`
	DateRange             DateRange         `json:"date_range"`
}

type FunnelStepStats struct {
	StepOrder      int     `json:"step_order"`
	StepName       string  `json:"step_name"`
	UsersEntered   int     `json:"users_entered"`
	UsersCompleted int     `json:"users_completed"`
	CompletionRate float64 `json:"completion_rate"`
	DropOffRate    float64 `json:"drop_off_rate"`
}
