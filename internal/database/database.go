package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// ErrQuotaExceeded is returned by SetItem when the write would push the total
// size of all slots past the platform quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// DefaultQuota mirrors the per-origin budget browsers give localStorage.
const DefaultQuota = 10 * 1024 * 1024

// Database is a key/value slot store with localStorage semantics: string
// values, whole-value writes, and a hard quota over key+value bytes.
type Database struct {
	db    *sql.DB
	quota int64
	now   func() time.Time
}

type Option func(*Database)

// WithQuota sets the platform quota in bytes. Zero or negative disables it.
func WithQuota(bytes int64) Option {
	return func(d *Database) { d.quota = bytes }
}

func NewDatabase(databasePath string, opts ...Option) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Slot writes are read-measure-write transactions; one connection keeps
	// them from racing into SQLITE_BUSY upgrades.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	d := &Database{
		db:    db,
		quota: DefaultQuota,
		now:   time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS slots(
	  key         TEXT    PRIMARY KEY,
	  value       TEXT    NOT NULL,
	  updated_utc INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_slots_updated ON slots(updated_utc);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	return nil
}

// GetItem returns the slot value and whether it exists.
func (d *Database) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM slots WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read slot %s: %w", key, err)
	}
	return value, true, nil
}

// SetItem replaces the slot value. The quota check and the write share one
// transaction so concurrent writers cannot overshoot together.
func (d *Database) SetItem(ctx context.Context, key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	transaction, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if d.quota > 0 {
		var others int64
		err := transaction.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM slots WHERE key <> ?`,
			key).Scan(&others)
		if err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to measure slots: %w", err)
		}
		if others+int64(len(key)+len(value)) > d.quota {
			_ = transaction.Rollback()
			return fmt.Errorf("%w: writing %s", ErrQuotaExceeded, key)
		}
	}

	_, err = transaction.ExecContext(ctx,
		`INSERT INTO slots(key, value, updated_utc) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_utc = excluded.updated_utc`,
		key, value, d.now().UnixMilli())
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to write slot %s: %w", key, err)
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *Database) RemoveItem(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM slots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove slot %s: %w", key, err)
	}
	return nil
}

// Keys lists slot keys in lexical order.
func (d *Database) Keys(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key FROM slots ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan slot key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Size is the total key+value bytes across all slots.
func (d *Database) Size(ctx context.Context) (int64, error) {
	var size int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM slots`).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("failed to measure slots: %w", err)
	}
	return size, nil
}
