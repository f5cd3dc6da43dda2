package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/npjlab/pauta/internal/identity/oauth"
)

// PostgresTokenRepository stores encrypted OAuth tokens in Postgres.
// Ciphertext goes straight into BYTEA columns.
type PostgresTokenRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTokenRepository creates a new Postgres token repository.
func NewPostgresTokenRepository(pool *pgxpool.Pool) *PostgresTokenRepository {
	return &PostgresTokenRepository{pool: pool}
}

// Save upserts a token for an owner/provider pair.
func (r *PostgresTokenRepository) Save(ctx context.Context, token oauth.StoredToken) error {
	query := `
		INSERT INTO oauth_tokens (
			owner_id, provider, access_token, refresh_token, token_type,
			expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (owner_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query,
		token.OwnerID,
		token.Provider,
		token.AccessToken,
		token.RefreshToken,
		token.TokenType,
		token.Expiry,
	)
	return err
}

// FindByOwnerAndProvider fetches a token, or nil when none is stored.
func (r *PostgresTokenRepository) FindByOwnerAndProvider(ctx context.Context, ownerID uuid.UUID, provider string) (*oauth.StoredToken, error) {
	query := `
		SELECT owner_id, provider, access_token, refresh_token, token_type, expires_at
		FROM oauth_tokens
		WHERE owner_id = $1 AND provider = $2
	`

	var token oauth.StoredToken
	err := r.pool.QueryRow(ctx, query, ownerID, provider).Scan(
		&token.OwnerID,
		&token.Provider,
		&token.AccessToken,
		&token.RefreshToken,
		&token.TokenType,
		&token.Expiry,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

// Delete removes the stored token for an owner/provider pair.
func (r *PostgresTokenRepository) Delete(ctx context.Context, ownerID uuid.UUID, provider string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM oauth_tokens WHERE owner_id = $1 AND provider = $2`, ownerID, provider)
	return err
}
