package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte

	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM cart_snapshots WHERE storage_key = $1`,
		key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	return payload, nil
}

func (p *Postgres) Save(ctx context.Context, key string, value []byte) error {
	return database.WithRetry(ctx, p.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cart_snapshots (storage_key, payload, updated_at, version)
			 VALUES ($1, $2::jsonb, NOW(), 1)
			 ON CONFLICT (storage_key) DO UPDATE
			 SET payload = EXCLUDED.payload,
			     updated_at = NOW(),
			     version = cart_snapshots.version + 1`,
			key, string(value))
		if err != nil {
			return fmt.Errorf("upsert snapshot: %w", err)
		}
		return nil
	})
}
