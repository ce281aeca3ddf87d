package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/metrics"
	_ "modernc.org/sqlite"
)

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "create records table",
		SQL: `
CREATE TABLE IF NOT EXISTS records (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    rev         INTEGER NOT NULL,
    updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables WAL mode and a busy
// timeout so several surfaces can share the file, and runs any pending
// migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One record, one writer at a time; a single connection keeps pragmas
	// and transactions on the same handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// runMigrations ensures the schema_migrations table exists and applies any
// migration not yet recorded there.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		applog.Info("storage.migrated", "version", m.Version, "description", m.Description)
	}
	return nil
}

// SQLite is a Store backed by a SQLite file. Writes made by this process
// are published immediately; writes made by other processes sharing the
// file are picked up by Watch.
type SQLite struct {
	db  *sql.DB
	bus *Bus

	mu     sync.Mutex
	seen   map[string]int64
	closed bool
}

// Open opens the store at path.
func Open(path string) (*SQLite, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db, bus: NewBus(), seen: make(map[string]int64)}

	recs, err := s.all(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, r := range recs {
		s.seen[r.Key] = r.Rev
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, key string) (Record, bool, error) {
	rec := Record{Key: key}
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value, rev FROM records WHERE key = ?", key).Scan(&value, &rec.Rev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("query record %q: %w", key, err)
	}
	rec.Value = []byte(value)
	return rec, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	rev, err := s.put(ctx, key, value)
	if err != nil {
		metrics.StoreWritesTotal.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.StoreWritesTotal.WithLabelValues("ok").Inc()

	s.seen[key] = rev
	s.bus.Publish(Record{Key: key, Value: cloneBytes(value), Rev: rev})
	return rev, nil
}

func (s *SQLite) put(ctx context.Context, key string, value []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO records (key, value, rev) VALUES (?, ?, 1)
ON CONFLICT(key) DO UPDATE SET
    value = excluded.value,
    rev = records.rev + 1,
    updated_at = CURRENT_TIMESTAMP`,
		key, string(value),
	)
	if err != nil {
		return 0, fmt.Errorf("write record %q: %w", key, err)
	}

	var rev int64
	if err := tx.QueryRowContext(ctx, "SELECT rev FROM records WHERE key = ?", key).Scan(&rev); err != nil {
		return 0, fmt.Errorf("read record rev %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return rev, nil
}

func (s *SQLite) Subscribe() (<-chan Record, func()) {
	return s.bus.Subscribe()
}

// Watch polls for revisions written by other processes until ctx is done.
func (s *SQLite) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
				applog.Error("storage.poll", err)
			}
		}
	}
}

// Poll publishes every record whose revision is newer than the last one
// this store saw, and returns how many it published.
func (s *SQLite) Poll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	recs, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		if r.Rev <= s.seen[r.Key] {
			continue
		}
		s.seen[r.Key] = r.Rev
		s.bus.Publish(r)
		n++
	}
	if n > 0 {
		applog.Debug("storage.poll.changed", "records", n)
	}
	return n, nil
}

func (s *SQLite) all(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value, rev FROM records")
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var value string
		if err := rows.Scan(&r.Key, &value, &r.Rev); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Value = []byte(value)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
