// Package store is the SQLite persistence layer: submitted URLs, videos,
// scraping jobs and the URL-video link table. Workers on separate processes
// coordinate exclusively through the status CAS operations here, so every
// claim and transition is a single guarded UPDATE with its affected-row count
// checked.
//
// Pragmas applied on open:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a guarded update observed a row whose status
// changed underneath it. Callers treat it as "someone else got there first".
var ErrConflict = errors.New("store: concurrent update conflict")

// Store wraps the SQLite handle. Methods are safe for concurrent use from
// any number of goroutines and processes sharing the database file.
type Store struct {
	db *sql.DB
}

type config struct {
	busyTimeout int
	mkdirAll    bool
	ping        bool
}

func defaults() config {
	return config{
		busyTimeout: 10_000,
		ping:        true,
	}
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithoutPing skips the connectivity check after opening.
func WithoutPing() Option { return func(c *config) { c.ping = false } }

// Open opens (creating if needed) the database at path, applies pragmas and
// ensures the schema exists.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: exec schema: %w", err)
	}

	if cfg.ping {
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: ping: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory database for testing. MaxOpenConns is pinned
// to 1 because every connection to ":memory:" is a separate database. Cleanup
// is registered on t.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// stampLayout is the canonical timestamp format for every table: RFC3339 UTC
// with fixed millisecond precision. Fixed-width and zone-pinned, so string
// comparison orders chronologically; time.RFC3339 parses it back.
const stampLayout = "2006-01-02T15:04:05.000Z07:00"

func nowStamp() string {
	return time.Now().UTC().Format(stampLayout)
}

// stampBefore returns the timestamp string for now minus age.
func stampBefore(age time.Duration) string {
	return time.Now().UTC().Add(-age).Format(stampLayout)
}
