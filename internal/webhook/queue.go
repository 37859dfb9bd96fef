package webhook

import (
	"context"

	"github.com/google/uuid"

	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/storage"
)

func (c *Client) loadQueue(ctx context.Context) ([]models.WebhookQueueItem, error) {
	return storage.LoadList[models.WebhookQueueItem](ctx, c.store, storage.WebhookQueueKey)
}

func (c *Client) saveQueue(ctx context.Context, items []models.WebhookQueueItem) error {
	return storage.SaveList(ctx, c.store, storage.WebhookQueueKey, items, QueueRetention)
}

func (c *Client) enqueue(ctx context.Context, payload models.WebhookPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, err := c.loadQueue(ctx)
	if err != nil {
		return err
	}
	items = append(items, models.WebhookQueueItem{
		ID:       uuid.NewString(),
		Payload:  payload,
		QueuedAt: c.clock.Now().UnixMilli(),
	})
	return c.saveQueue(ctx, items)
}

// FlushQueue retries every queued payload once. Items that have now failed
// MaxRetries times are dropped.
func (c *Client) FlushQueue(ctx context.Context) error {
	if !c.Online() {
		return nil
	}
	c.mu.Lock()
	items, err := c.loadQueue(ctx)
	c.mu.Unlock()
	if err != nil || len(items) == 0 {
		return err
	}
	c.logger.Info("flushing webhook queue", "size", len(items))

	sent := make(map[string]bool, len(items))
	retries := make(map[string]int)
	for _, item := range items {
		if err := c.Deliver(ctx, item.Payload); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			retries[item.ID] = item.RetryCount + 1
			continue
		}
		sent[item.ID] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-read so payloads queued during the flush survive.
	current, err := c.loadQueue(ctx)
	if err != nil {
		return err
	}
	kept := make([]models.WebhookQueueItem, 0, len(current))
	for _, item := range current {
		if sent[item.ID] {
			continue
		}
		if n, ok := retries[item.ID]; ok {
			if n >= c.cfg.MaxRetries {
				c.logger.Warn("webhook dropped after max retries", "id", item.ID, "event_type", item.Payload.EventType)
				continue
			}
			item.RetryCount = n
		}
		kept = append(kept, item)
	}
	return c.saveQueue(ctx, kept)
}

func (c *Client) ClearQueue(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveQueue(ctx, nil)
}

func (c *Client) QueueSize(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, err := c.loadQueue(ctx)
	return len(items), err
}
