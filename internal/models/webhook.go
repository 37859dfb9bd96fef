package models

type WebhookUser struct {
	AnonymousID string `json:"anonymous_id"`
	SessionID   string `json:"session_id"`
}

// WebhookPayload is what the agent posts to the remote collector.
type WebhookPayload struct {
	EventType string         `json:"event_type"`
	ProjectID string         `json:"project_id,omitempty"`
	User      *WebhookUser   `json:"user,omitempty"`
	Counts    *DataCount     `json:"counts,omitempty"`
	Events    *PendingEvents `json:"events,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// WebhookQueueItem is persisted under heatmap_webhook_queue while offline.
type WebhookQueueItem struct {
	ID         string         `json:"id"`
	Payload    WebhookPayload `json:"payload"`
	RetryCount int            `json:"retryCount"`
	QueuedAt   int64          `json:"queuedAt"`
}
