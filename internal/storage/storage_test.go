package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/heatmap-agent/internal/database"
	"github.com/vincentbai/heatmap-agent/internal/models"
)

// memBackend is an in-memory Backend whose quota can be tuned per test.
type memBackend struct {
	mu     sync.Mutex
	slots  map[string]string
	quota  int
	writes int
}

func newMemBackend() *memBackend {
	return &memBackend{slots: map[string]string{}}
}

func (m *memBackend) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.slots[key]
	return v, ok, nil
}

func (m *memBackend) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.quota > 0 && len(value) > m.quota {
		return fmt.Errorf("%w: %s", database.ErrQuotaExceeded, key)
	}
	m.slots[key] = value
	return nil
}

func (m *memBackend) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}

func (m *memBackend) Size(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, v := range m.slots {
		n += int64(len(k) + len(v))
	}
	return n, nil
}

func documentWith(clicks, scrolls, moves int) *models.LocalStorageData {
	data := CreateInitialData("anon-1", "session-1", 1280, 800)
	for i := 0; i < clicks; i++ {
		data.PendingEvents.Clicks = append(data.PendingEvents.Clicks, models.ClickEvent{
			X: float64(i), Y: float64(i), ViewportWidth: 1280, ViewportHeight: 800,
			Element:   models.ElementInfo{Tag: "button", Text: strings.Repeat("t", 50)},
			Timestamp: fmt.Sprintf("2024-01-01T00:00:%02d.%03dZ", i/1000%60, i%1000),
		})
	}
	for i := 0; i < scrolls; i++ {
		data.PendingEvents.Scrolls = append(data.PendingEvents.Scrolls, models.ScrollEvent{
			DepthPercent: i % 101, MaxScrollY: float64(i), PageHeight: 4000,
			Timestamp: "2024-01-01T00:00:00.000Z",
		})
	}
	for i := 0; i < moves; i++ {
		data.PendingEvents.MouseMoves = append(data.PendingEvents.MouseMoves, models.MouseMoveEvent{
			X: float64(i), Y: float64(i), ViewportWidth: 1280, ViewportHeight: 800,
			Timestamp: "2024-01-01T00:00:00.000Z",
		})
	}
	return data
}

func TestLoadMissingReturnsNil(t *testing.T) {
	store := New(newMemBackend())

	data, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, documentWith(3, 2, 4)))
	before := backend.slots[DataKey]

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.NoError(t, store.Save(ctx, loaded))

	assert.Equal(t, before, backend.slots[DataKey])
}

func TestLoadCorruptedSlotIsRemoved(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()
	backend.slots[DataKey] = "{not json"

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)
	_, exists := backend.slots[DataKey]
	assert.False(t, exists, "corrupted slot should be deleted")

	data, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSaveOverCeilingEvicts(t *testing.T) {
	backend := newMemBackend()
	var evictions []string
	store := New(backend,
		WithLimits(64*1024, DefaultWarningRatio),
		WithEvictionHandler(func(key string) { evictions = append(evictions, key) }),
	)
	ctx := context.Background()

	data := documentWith(600, 300, 700)
	require.NoError(t, store.Save(ctx, data))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.PendingEvents.Clicks, ClickRetention)
	assert.Len(t, loaded.PendingEvents.Scrolls, ScrollRetention)
	assert.Len(t, loaded.PendingEvents.MouseMoves, MouseMoveRetention)

	// FIFO: the newest entries survive.
	assert.Equal(t, data.PendingEvents.Clicks[599], loaded.PendingEvents.Clicks[ClickRetention-1])
	assert.Equal(t, data.PendingEvents.Clicks[550], loaded.PendingEvents.Clicks[0])
	assert.Equal(t, data.PendingEvents.MouseMoves[600], loaded.PendingEvents.MouseMoves[0])
	assert.Equal(t, []string{DataKey}, evictions)

	// The caller's document is not mutated.
	assert.Len(t, data.PendingEvents.Clicks, 600)
}

func TestSaveQuotaErrorEvictsAndRetriesOnce(t *testing.T) {
	backend := newMemBackend()
	backend.quota = 40 * 1024
	store := New(backend)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, documentWith(400, 10, 10)))
	assert.Equal(t, 2, backend.writes)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.PendingEvents.Clicks, ClickRetention)
	assert.Len(t, loaded.PendingEvents.Scrolls, 10)
}

func TestSaveReportsFailureWhenRetryFails(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()

	previous := documentWith(1, 0, 0)
	require.NoError(t, store.Save(ctx, previous))
	before := backend.slots[DataKey]
	writes := backend.writes

	backend.quota = 100
	err := store.Save(ctx, documentWith(400, 10, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrQuotaExceeded)
	assert.Equal(t, writes+2, backend.writes, "exactly one retry")
	assert.Equal(t, before, backend.slots[DataKey], "previous document must survive")
}

func TestSaveWarningThresholdDoesNotBlock(t *testing.T) {
	backend := newMemBackend()
	var warned []int64
	store := New(backend,
		WithLimits(16*1024, 0.1),
		WithWarningHandler(func(size int64) { warned = append(warned, size) }),
	)

	require.NoError(t, store.Save(context.Background(), documentWith(20, 0, 0)))
	require.Len(t, warned, 1)
	assert.Greater(t, warned[0], int64(1638))
	assert.Contains(t, backend.slots, DataKey)
}

func TestClear(t *testing.T) {
	backend := newMemBackend()
	store := New(backend)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, documentWith(1, 1, 1)))
	require.NoError(t, store.Clear(ctx))

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestCreateInitialData(t *testing.T) {
	data := CreateInitialData("anon", "sess", 1280, 800)

	assert.True(t, ValidateData(data))
	assert.Equal(t, models.ModeClick, data.OverlayState.Mode)
	assert.False(t, data.OverlayState.IsVisible)
	assert.NotNil(t, data.PendingEvents.Clicks)
	assert.Equal(t, &models.Position{X: 960, Y: 600}, data.OverlayPosition)

	assert.False(t, ValidateData(nil))
	assert.False(t, ValidateData(&models.LocalStorageData{SessionID: "s"}))
}

func TestStoreOverSQLite(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "slots.db"), database.WithQuota(48*1024))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := New(db)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, documentWith(500, 0, 0)))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.PendingEvents.Clicks, ClickRetention)

	require.NoError(t, db.SetItem(ctx, DataKey, "garbage"))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
	_, ok, err := db.GetItem(ctx, DataKey)
	require.NoError(t, err)
	assert.False(t, ok)
}
