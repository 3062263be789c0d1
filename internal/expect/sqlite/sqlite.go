package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB implements expect.KV on SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file; ":memory:" keeps it in memory.
type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases coherent across calls
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_store(
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY(namespace, key)
		);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Load(ctx context.Context, ns string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv_store WHERE namespace=?;`, ns)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *DB) Apply(ctx context.Context, ns string, put map[string]string, del []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	for k, v := range put {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv_store(namespace, key, value, updated_at)
			VALUES(?, ?, ?, ?)
			ON CONFLICT(namespace, key) DO UPDATE SET
				value=excluded.value,
				updated_at=excluded.updated_at;`,
			ns, k, v, now); err != nil {
			return err
		}
	}
	for _, k := range del {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE namespace=? AND key=?;`, ns, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}
