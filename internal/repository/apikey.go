package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-discounts/internal/domain/auth"
)

const (
	findActiveAPIKeySQL = `SELECT id, key_hash, name, scopes FROM api_keys
		WHERE key_hash = $1 AND active`

	// Re-seeding an id rotates its hash and reactivates it.
	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes)
		VALUES (@id, @key_hash, @name, @scopes)
		ON CONFLICT (id) DO UPDATE
		SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name, scopes = EXCLUDED.scopes, active = TRUE`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

type apiKeyRow struct {
	ID      string   `db:"id"`
	KeyHash string   `db:"key_hash"`
	Name    string   `db:"name"`
	Scopes  []string `db:"scopes"`
}

// APIKeyRepository stores hashed admin API keys in PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash returns the active key with the given hash or auth.ErrNotFound.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, findActiveAPIKeySQL, hash)
	if err != nil {
		return nil, fmt.Errorf("finding api key: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[apiKeyRow])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("finding api key: %w", err)
	}
	return &auth.APIKeyInfo{ID: row.ID, KeyHash: row.KeyHash, Name: row.Name, Scopes: row.Scopes}, nil
}

// Upsert stores info under its id.
func (r *APIKeyRepository) Upsert(ctx context.Context, info auth.APIKeyInfo) error {
	scopes := info.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	_, err := conn(ctx, r.pool).Exec(ctx, upsertAPIKeySQL, pgx.NamedArgs{
		"id":       info.ID,
		"key_hash": info.KeyHash,
		"name":     info.Name,
		"scopes":   scopes,
	})
	if err != nil {
		return fmt.Errorf("upserting api key %q: %w", info.ID, err)
	}
	return nil
}
