package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/petrijr/statebox/pkg/api"
)

// PostgresChannel is the LISTEN/NOTIFY channel used for change messages.
const PostgresChannel = "statebox_changes"

// PostgresStore is a Store backed by PostgreSQL.
//
// Writes upsert a row and call pg_notify in the same transaction, so the
// notification is only delivered once the value is committed. Watchers
// LISTEN on a dedicated connection and re-read the value on notification,
// which keeps notify payloads small regardless of value size.
//
// It expects an *sql.DB opened with the pgx stdlib driver:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	db, _ := sql.Open("pgx", dsn)
type PostgresStore struct {
	db     *sql.DB
	origin string
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type pgChange struct {
	Key     string `json:"key"`
	Origin  string `json:"origin"`
	Deleted bool   `json:"deleted"`
}

// NewPostgresStore initializes the required schema in the given
// database and returns a new view with its own origin.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, origin: newOrigin()}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Tab returns another view over the same database with a new origin.
func (s *PostgresStore) Tab() *PostgresStore {
	return &PostgresStore{db: s.db, origin: newOrigin()}
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS statebox_values (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			origin TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (s *PostgresStore) Origin() string {
	return s.origin
}

func (s *PostgresStore) Load(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM statebox_values WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Store(ctx context.Context, key, value string) error {
	return s.write(ctx, key, &value)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return s.write(ctx, key, nil)
}

func (s *PostgresStore) write(ctx context.Context, key string, value *string) error {
	msg, err := json.Marshal(pgChange{Key: key, Origin: s.origin, Deleted: value == nil})
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if value != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO statebox_values (key, value, origin, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO UPDATE
			SET value      = EXCLUDED.value,
			    origin     = EXCLUDED.origin,
			    updated_at = EXCLUDED.updated_at
		`, key, *value, s.origin, time.Now().UTC())
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM statebox_values WHERE key = $1`, key)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, PostgresChannel, string(msg)); err != nil {
		return err
	}
	return tx.Commit()
}

// Watch holds one pooled connection in LISTEN mode until stop is called
// or ctx is done.
func (s *PostgresStore) Watch(ctx context.Context, key string, fn func(api.Change)) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "LISTEN "+pgx.Identifier{PostgresChannel}.Sanitize()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer conn.Close()
		for {
			n, err := waitForNotification(ctx, conn)
			if err != nil {
				// Cancellation or a broken connection; either way the
				// connection cannot listen any more.
				return
			}

			var c pgChange
			if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
				continue
			}
			if c.Key != key || c.Origin == s.origin {
				continue
			}

			change := api.Change{Key: key, Origin: c.Origin}
			if !c.Deleted {
				v, found, err := s.Load(ctx, key)
				if err != nil {
					continue
				}
				if found {
					change.Value = &v
				}
			}
			if ctx.Err() != nil {
				return
			}
			fn(change)
		}
	}()

	return cancel, nil
}

func waitForNotification(ctx context.Context, conn *sql.Conn) (*pgconn.Notification, error) {
	var n *pgconn.Notification
	err := conn.Raw(func(driverConn any) error {
		pc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return errors.New("postgres watch requires the pgx stdlib driver")
		}
		var err error
		n, err = pc.Conn().WaitForNotification(ctx)
		return err
	})
	return n, err
}
