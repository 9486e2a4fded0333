package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lingest/internal/config"
)

const (
	busyRetryAttempts = 5
	busyRetryDelay    = 50 * time.Millisecond
)

// Store wraps the SQLite database holding media items, merged sentences, and
// review bookkeeping.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (and creates if needed) the database under the configured
// data directory.
func NewStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	dbPath := filepath.Join(cfg.Paths.DataDir, "lingest.db")
	return OpenPath(ctx, dbPath)
}

// OpenPath opens the database at an explicit path.
func OpenPath(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: dbPath}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the on-disk location of the database file.
func (s *Store) Path() string {
	return s.path
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res sql.Result
		err error
	)
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		res, err = s.db.ExecContext(ctx, query, args...)
		if !isBusyError(err) {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(busyRetryDelay * time.Duration(attempt+1)):
		}
	}
	return res, err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func durationMS(d time.Duration) int64 {
	return d.Milliseconds()
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const itemColumns = `id, title, audio_uri, duration_ms, status, needs_repair,
	failure_kind, failure_message, failure_terminal, created_at, updated_at, last_heartbeat`

func scanItem(row interface{ Scan(...any) error }) (*Item, error) {
	var (
		item       Item
		durationMS int64
		status     string
		repair     int
		terminal   int
		createdAt  string
		updatedAt  string
		heartbeat  sql.NullString
	)
	if err := row.Scan(
		&item.ID, &item.Title, &item.AudioURI, &durationMS, &status, &repair,
		&item.FailureKind, &item.FailureMessage, &terminal, &createdAt, &updatedAt, &heartbeat,
	); err != nil {
		return nil, err
	}

	item.Duration = msDuration(durationMS)
	item.Status = Status(status)
	item.NeedsRepair = repair != 0
	item.FailureTerminal = terminal != 0

	var err error
	if item.CreatedAt, err = parseTimeString(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTimeString(updatedAt); err != nil {
		return nil, err
	}
	if heartbeat.Valid && heartbeat.String != "" {
		hb, err := parseTimeString(heartbeat.String)
		if err != nil {
			return nil, err
		}
		item.LastHeartbeat = &hb
	}
	return &item, nil
}
