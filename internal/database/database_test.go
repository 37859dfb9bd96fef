package database

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func setupTestDB(t *testing.T, opts ...Option) *Database {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDatabase(dbPath, opts...)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDatabase(t *testing.T) {
	db := setupTestDB(t)

	if db.db == nil {
		t.Fatal("Expected non-nil sql.DB")
	}
	if db.quota != DefaultQuota {
		t.Errorf("Expected default quota %d, got %d", DefaultQuota, db.quota)
	}
}

func TestSetAndGetItem(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.SetItem(ctx, "heatmap_funnels", `[]`); err != nil {
		t.Fatalf("Failed to set item: %v", err)
	}
	value, ok, err := db.GetItem(ctx, "heatmap_funnels")
	if err != nil {
		t.Fatalf("Failed to get item: %v", err)
	}
	if !ok || value != `[]` {
		t.Errorf("Expected stored value, got %q (ok=%v)", value, ok)
	}

	// Overwrite replaces the whole value.
	if err := db.SetItem(ctx, "heatmap_funnels", `[{"id":"f1"}]`); err != nil {
		t.Fatalf("Failed to overwrite item: %v", err)
	}
	value, _, _ = db.GetItem(ctx, "heatmap_funnels")
	if value != `[{"id":"f1"}]` {
		t.Errorf("Expected overwritten value, got %q", value)
	}
}

func TestGetMissingItem(t *testing.T) {
	db := setupTestDB(t)

	value, ok, err := db.GetItem(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok || value != "" {
		t.Errorf("Expected missing slot, got %q (ok=%v)", value, ok)
	}
}

func TestSetItemEmptyKey(t *testing.T) {
	db := setupTestDB(t)

	if err := db.SetItem(context.Background(), "", "x"); err == nil {
		t.Fatal("Expected error for empty key, got nil")
	}
}

func TestRemoveItem(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.SetItem(ctx, "k", "v"); err != nil {
		t.Fatalf("Failed to set item: %v", err)
	}
	if err := db.RemoveItem(ctx, "k"); err != nil {
		t.Fatalf("Failed to remove item: %v", err)
	}
	if _, ok, _ := db.GetItem(ctx, "k"); ok {
		t.Error("Expected slot to be gone after remove")
	}
	// Removing an absent key is not an error.
	if err := db.RemoveItem(ctx, "k"); err != nil {
		t.Errorf("Unexpected error removing absent key: %v", err)
	}
}

func TestQuotaExceeded(t *testing.T) {
	db := setupTestDB(t, WithQuota(100))
	ctx := context.Background()

	if err := db.SetItem(ctx, "a", strings.Repeat("x", 60)); err != nil {
		t.Fatalf("Failed to set first item: %v", err)
	}
	err := db.SetItem(ctx, "b", strings.Repeat("y", 60))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
	}
	if _, ok, _ := db.GetItem(ctx, "b"); ok {
		t.Error("Rejected write must not be stored")
	}

	// Replacing an existing slot only counts the new value.
	if err := db.SetItem(ctx, "a", strings.Repeat("z", 90)); err != nil {
		t.Errorf("Expected in-place replacement to fit, got %v", err)
	}
}

func TestQuotaDisabled(t *testing.T) {
	db := setupTestDB(t, WithQuota(0))

	if err := db.SetItem(context.Background(), "big", strings.Repeat("x", 1<<16)); err != nil {
		t.Fatalf("Expected no quota enforcement, got %v", err)
	}
}

func TestKeysAndSize(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for key, value := range map[string]string{"b": "22", "a": "1", "ccc": "333"} {
		if err := db.SetItem(ctx, key, value); err != nil {
			t.Fatalf("Failed to set %s: %v", key, err)
		}
	}

	keys, err := db.Keys(ctx)
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	if strings.Join(keys, ",") != "a,b,ccc" {
		t.Errorf("Expected sorted keys, got %v", keys)
	}

	size, err := db.Size(ctx)
	if err != nil {
		t.Fatalf("Failed to measure size: %v", err)
	}
	// a+1, b+22, ccc+333
	if size != 2+3+6 {
		t.Errorf("Expected size 11, got %d", size)
	}
}

func TestDatabaseClose(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "close.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
}
