package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB implements expect.KV on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_store(
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY(namespace, key)
		);`)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Load(ctx context.Context, ns string) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value FROM kv_store WHERE namespace=$1;`, ns)
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

func (p *DB) Apply(ctx context.Context, ns string, put map[string]string, del []string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	for k, v := range put {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv_store(namespace, key, value, updated_at)
			VALUES($1, $2, $3, $4)
			ON CONFLICT(namespace, key) DO UPDATE SET
				value=EXCLUDED.value,
				updated_at=EXCLUDED.updated_at;`,
			ns, k, v, now); err != nil {
			return err
		}
	}
	for _, k := range del {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE namespace=$1 AND key=$2;`, ns, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}
