package store

import (
	"context"
	"database/sql"
	"errors"

	pkgerrors "ilpsdk/pkg/errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const createKVTable = `
	CREATE TABLE IF NOT EXISTS switch_kv (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to connect to postgres")
	}
	if _, err := db.ExecContext(ctx, createKVTable); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "failed to create kv table")
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.GetContext(ctx, &value, `SELECT value FROM switch_kv WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get key")
	}
	return value, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO switch_kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	if _, err := p.db.ExecContext(ctx, query, key, value); err != nil {
		return pkgerrors.Wrap(err, "failed to put key")
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM switch_kv WHERE key = $1`, key); err != nil {
		return pkgerrors.Wrap(err, "failed to delete key")
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
