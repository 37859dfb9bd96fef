package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vincentbai/heatmap-agent/internal/database"
)

// LoadList reads a JSON array slot. Missing and corrupted slots both read as
// an empty list; the corrupted one is removed.
func LoadList[T any](ctx context.Context, s *Store, key string) ([]T, error) {
	raw, ok, err := s.backend.GetItem(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || raw == "" {
		return []T{}, nil
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.discardCorrupted(ctx, key, err)
		return []T{}, nil
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// SaveList writes a JSON array slot. With keep > 0, a write that does not fit
// is retried once with only the newest keep items; with keep == 0 nothing is
// ever dropped and the failure is returned.
func SaveList[T any](ctx context.Context, s *Store, key string, items []T, keep int) error {
	err := writeList(ctx, s, key, items)
	if err == nil {
		return nil
	}
	if keep <= 0 || len(items) <= keep ||
		(!errors.Is(err, ErrDocumentTooLarge) && !errors.Is(err, database.ErrQuotaExceeded)) {
		s.logger.Error("list save failed", "key", key, "error", err)
		return err
	}

	s.logger.Warn("storage full, evicting oldest list entries", "key", key, "keep", keep)
	s.evicted(key)
	if err := writeList(ctx, s, key, tail(items, keep)); err != nil {
		s.logger.Error("list save failed after eviction", "key", key, "error", err)
		return fmt.Errorf("save %s after eviction: %w", key, err)
	}
	return nil
}

func writeList[T any](ctx context.Context, s *Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if int64(len(raw)) > s.maxBytes {
		return fmt.Errorf("%w: %s", ErrDocumentTooLarge, key)
	}
	return s.backend.SetItem(ctx, key, string(raw))
}

// RemoveList deletes a list slot.
func RemoveList(ctx context.Context, s *Store, key string) error {
	if err := s.backend.RemoveItem(ctx, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
