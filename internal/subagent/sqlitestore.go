package subagent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteStore is an optional Store for processes that want sub-agent
// resumability to survive a restart. It owns its own schema; the core
// has no opinion on filesystem layout beyond this adapter's existence.
type SQLiteStore struct {
	db *sql.DB

	// OnQuery, if set, is called after every Save/Load with the
	// operation name, its wall-clock duration, and its error (nil on
	// success). Mirrors Registry.Observers: a plain callback rather than
	// a dependency on any particular metrics/tracing package.
	OnQuery func(operation string, duration time.Duration, err error)
}

func (s *SQLiteStore) observe(operation string, start time.Time, err error) {
	if s.OnQuery != nil {
		s.OnQuery(operation, time.Since(start), err)
	}
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed snapshot
// store at path. Pass ":memory:" for a process-local store that still
// goes through the SQL path, useful in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("subagent: open snapshot db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// newSQLiteStoreFromDB wraps an already-open *sql.DB without creating the
// schema, so tests can substitute a go-sqlmock connection that expects its
// own scripted statements.
func newSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS subagent_snapshots (
			key TEXT PRIMARY KEY,
			history TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("subagent: create snapshot table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, snap Snapshot) (err error) {
	start := time.Now()
	defer func() { s.observe("save", start, err) }()

	history, marshalErr := json.Marshal(snap.History)
	if marshalErr != nil {
		err = fmt.Errorf("subagent: marshal snapshot history: %w", marshalErr)
		return err
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	snap.UpdatedAt = time.Now()

	_, execErr := s.db.ExecContext(ctx, `
		INSERT INTO subagent_snapshots (key, history, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET history = excluded.history, updated_at = excluded.updated_at
	`, key, string(history), snap.CreatedAt, snap.UpdatedAt)
	if execErr != nil {
		err = fmt.Errorf("subagent: save snapshot: %w", execErr)
		return err
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (snap Snapshot, found bool, err error) {
	start := time.Now()
	defer func() { s.observe("load", start, err) }()

	var history string
	row := s.db.QueryRowContext(ctx, `
		SELECT history, created_at, updated_at FROM subagent_snapshots WHERE key = ?
	`, key)
	if scanErr := row.Scan(&history, &snap.CreatedAt, &snap.UpdatedAt); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return Snapshot{}, false, nil
		}
		err = fmt.Errorf("subagent: load snapshot: %w", scanErr)
		return Snapshot{}, false, err
	}
	if unmarshalErr := json.Unmarshal([]byte(history), &snap.History); unmarshalErr != nil {
		err = fmt.Errorf("subagent: unmarshal snapshot history: %w", unmarshalErr)
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
