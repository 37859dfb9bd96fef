package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/heatmap-agent/internal/database"
	"github.com/vincentbai/heatmap-agent/internal/models"
	"github.com/vincentbai/heatmap-agent/internal/storage"
)

type collector struct {
	mu       sync.Mutex
	fail     bool
	payloads []models.WebhookPayload
	auth     []string
}

func (c *collector) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *collector) received() []models.WebhookPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.WebhookPayload(nil), c.payloads...)
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = append(c.auth, r.Header.Get("Authorization"))
	switch {
	case r.Method == http.MethodPost && r.URL.Path == EventsPath:
		if c.fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		var p models.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.payloads = append(c.payloads, p)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case r.Method == http.MethodGet && r.URL.Path == FunnelsPath+"proj-1":
		_ = json.NewEncoder(w).Encode(funnelsResponse{
			ProjectID: "proj-1",
			Funnels:   []models.Funnel{{ID: "remote", Name: "Remote"}},
		})
	default:
		http.NotFound(w, r)
	}
}

func setupClient(t *testing.T) (*Client, *collector) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	col := &collector{}
	srv := httptest.NewServer(col)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:   srv.URL + "/",
		APIKey:    "secret",
		ProjectID: "proj-1",
	}, storage.New(db))
	return c, col
}

func payload(kind string) models.WebhookPayload {
	return models.WebhookPayload{EventType: kind, Timestamp: "2025-01-01T00:00:00.000Z"}
}

func TestSendDelivers(t *testing.T) {
	ctx := context.Background()
	c, col := setupClient(t)

	require.NoError(t, c.Send(ctx, payload("test")))

	got := col.received()
	require.Len(t, got, 1)
	assert.Equal(t, "proj-1", got[0].ProjectID)
	col.mu.Lock()
	assert.Equal(t, "Bearer secret", col.auth[0])
	col.mu.Unlock()

	size, err := c.QueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestSendNotConfigured(t *testing.T) {
	c := NewClient(Config{}, nil)
	assert.False(t, c.Enabled())
	assert.ErrorIs(t, c.Send(context.Background(), payload("x")), ErrNotConfigured)
	_, err := c.FetchFunnels(context.Background(), "p")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFailedSendIsQueuedAndFlushed(t *testing.T) {
	ctx := context.Background()
	c, col := setupClient(t)

	col.setFail(true)
	assert.Error(t, c.Send(ctx, payload("a")))
	assert.Error(t, c.Send(ctx, payload("b")))
	size, err := c.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	col.setFail(false)
	require.NoError(t, c.FlushQueue(ctx))

	size, err = c.QueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	got := col.received()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].EventType)
}

func TestFlushDropsAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	c, col := setupClient(t)

	col.setFail(true)
	assert.Error(t, c.Send(ctx, payload("a")))

	for range DefaultMaxRetries - 1 {
		require.NoError(t, c.FlushQueue(ctx))
		size, err := c.QueueSize(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, size)
	}
	require.NoError(t, c.FlushQueue(ctx))
	size, err := c.QueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestOfflineQueuesUntilOnline(t *testing.T) {
	ctx := context.Background()
	c, col := setupClient(t)

	require.NoError(t, c.SetOnline(ctx, false))
	assert.ErrorIs(t, c.Send(ctx, payload("a")), ErrOffline)
	assert.Empty(t, col.received())

	require.NoError(t, c.FlushQueue(ctx))
	size, err := c.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size, "offline flush is a no-op")

	require.NoError(t, c.SetOnline(ctx, true))
	assert.Len(t, col.received(), 1)
}

func TestClearQueue(t *testing.T) {
	ctx := context.Background()
	c, col := setupClient(t)
	col.setFail(true)
	assert.Error(t, c.Send(ctx, payload("a")))

	require.NoError(t, c.ClearQueue(ctx))
	size, err := c.QueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestFetchFunnels(t *testing.T) {
	c, _ := setupClient(t)
	funnels, err := c.FetchFunnels(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, funnels, 1)
	assert.Equal(t, "remote", funnels[0].ID)

	_, err = c.FetchFunnels(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestPayloadHelpers(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	user := models.WebhookUser{AnonymousID: "anon", SessionID: "sess"}
	f := models.Funnel{ID: "f1", Name: "Signup"}

	batch := Batch(user, models.PendingEvents{Clicks: []models.ClickEvent{{X: 1}}}, now)
	assert.Equal(t, EventAnalyticsBatch, batch.EventType)
	assert.Equal(t, 1, batch.Counts.Clicks)
	assert.Equal(t, "2025-01-01T00:00:00.000Z", batch.Timestamp)

	done := FunnelCompleted(f, user, 90*time.Second, now)
	assert.Equal(t, 90, done.Data["duration_seconds"])

	drop := FunnelDroppedOff(f, models.FunnelStep{StepOrder: 1, StepName: "Form"}, user, now)
	assert.Equal(t, EventFunnelDroppedOff, drop.EventType)
	assert.Equal(t, "Form", drop.Data["dropoff_step_name"])
	assert.Equal(t, "anon", drop.User.AnonymousID)
}
