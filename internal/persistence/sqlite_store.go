package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/petrijr/statebox/pkg/api"
)

// DefaultPollInterval is how often SQLite watchers read the change log.
const DefaultPollInterval = 100 * time.Millisecond

// SQLiteStore is a Store backed by SQLite.
//
// Values live in a key/value table; every write also appends to a change
// log that watchers poll, so any process opening the same database file
// sees the others' writes.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db     *sql.DB
	origin string
	poll   time.Duration
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.poll = d
		}
	}
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database
// and returns a new view with its own origin.
func NewSQLiteStore(db *sql.DB, opts ...SQLiteOption) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, origin: newOrigin(), poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Tab returns another view over the same database with a new origin.
func (s *SQLiteStore) Tab() *SQLiteStore {
	return &SQLiteStore{db: s.db, origin: newOrigin(), poll: s.poll}
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS statebox_values (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			origin TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS statebox_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			value TEXT,
			origin TEXT NOT NULL,
			at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_statebox_changes_key ON statebox_changes(key, id);
	`)
	return err
}

func (s *SQLiteStore) Origin() string {
	return s.origin
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM statebox_values WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) Store(ctx context.Context, key, value string) error {
	return s.write(ctx, key, &value)
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.write(ctx, key, nil)
}

func (s *SQLiteStore) write(ctx context.Context, key string, value *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixNano()
	if value != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO statebox_values (key, value, origin, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, origin = excluded.origin, updated_at = excluded.updated_at`,
			key, *value, s.origin, now,
		)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM statebox_values WHERE key = ?`, key)
	}
	if err != nil {
		return err
	}

	var logged sql.NullString
	if value != nil {
		logged = sql.NullString{String: *value, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO statebox_changes (key, value, origin, at)
		VALUES (?, ?, ?, ?)`,
		key, logged, s.origin, now,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// Watch polls the change log for writes to key by other origins. Only
// changes appended after Watch returns are delivered.
func (s *SQLiteStore) Watch(ctx context.Context, key string, fn func(api.Change)) (func(), error) {
	var last int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM statebox_changes WHERE key = ?`, key,
	).Scan(&last); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go s.pollChanges(ctx, key, last, fn)
	return cancel, nil
}

func (s *SQLiteStore) pollChanges(ctx context.Context, key string, last int64, fn func(api.Change)) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		changes, next, err := s.changesSince(ctx, key, last)
		if err != nil {
			// Transient read errors are retried on the next tick.
			continue
		}
		last = next
		for _, c := range changes {
			if ctx.Err() != nil {
				return
			}
			fn(c)
		}
	}
}

func (s *SQLiteStore) changesSince(ctx context.Context, key string, after int64) ([]api.Change, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, value, origin
		FROM statebox_changes
		WHERE key = ? AND id > ?
		ORDER BY id ASC`, key, after)
	if err != nil {
		return nil, after, err
	}
	defer rows.Close()

	var out []api.Change
	last := after
	for rows.Next() {
		var (
			id     int64
			value  sql.NullString
			origin string
		)
		if err := rows.Scan(&id, &value, &origin); err != nil {
			return nil, after, err
		}
		last = id
		if origin == s.origin {
			continue
		}
		c := api.Change{Key: key, Origin: origin}
		if value.Valid {
			v := value.String
			c.Value = &v
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, after, err
	}
	return out, last, nil
}

// Compact drops change-log entries older than the given age.
func (s *SQLiteStore) Compact(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM statebox_changes WHERE at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
