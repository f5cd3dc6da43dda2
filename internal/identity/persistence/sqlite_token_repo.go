package persistence

import (
	"context"
	"database/sql"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/npjlab/pauta/internal/identity/oauth"
)

// SQLiteTokenRepository stores encrypted OAuth tokens in SQLite. The
// ciphertext is base64-encoded so it fits a TEXT column.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewSQLiteTokenRepository creates a new SQLite token repository.
func NewSQLiteTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// Save upserts a token for an owner/provider pair.
func (r *SQLiteTokenRepository) Save(ctx context.Context, token oauth.StoredToken) error {
	query := `
		INSERT INTO oauth_tokens (
			owner_id, provider, access_token, refresh_token, token_type,
			expires_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, query,
		token.OwnerID.String(),
		token.Provider,
		base64.StdEncoding.EncodeToString(token.AccessToken),
		base64.StdEncoding.EncodeToString(token.RefreshToken),
		token.TokenType,
		token.Expiry.UTC().Format(time.RFC3339),
		now,
		now,
	)
	return err
}

// FindByOwnerAndProvider fetches a token, or nil when none is stored.
func (r *SQLiteTokenRepository) FindByOwnerAndProvider(ctx context.Context, ownerID uuid.UUID, provider string) (*oauth.StoredToken, error) {
	query := `
		SELECT owner_id, provider, access_token, refresh_token, token_type, expires_at
		FROM oauth_tokens
		WHERE owner_id = ? AND provider = ?
	`

	var (
		ownerIDStr   string
		providerName string
		accessStr    string
		refreshStr   string
		tokenType    string
		expiresAtStr string
	)

	err := r.db.QueryRowContext(ctx, query, ownerID.String(), provider).Scan(
		&ownerIDStr, &providerName, &accessStr, &refreshStr, &tokenType, &expiresAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	id, err := uuid.Parse(ownerIDStr)
	if err != nil {
		return nil, err
	}
	access, err := base64.StdEncoding.DecodeString(accessStr)
	if err != nil {
		return nil, err
	}
	refresh, err := base64.StdEncoding.DecodeString(refreshStr)
	if err != nil {
		return nil, err
	}
	expiry, err := time.Parse(time.RFC3339, expiresAtStr)
	if err != nil {
		return nil, err
	}

	return &oauth.StoredToken{
		OwnerID:      id,
		Provider:     providerName,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
		Expiry:       expiry,
	}, nil
}

// Delete removes the stored token for an owner/provider pair.
func (r *SQLiteTokenRepository) Delete(ctx context.Context, ownerID uuid.UUID, provider string) error {
	query := `DELETE FROM oauth_tokens WHERE owner_id = ? AND provider = ?`
	_, err := r.db.ExecContext(ctx, query, ownerID.String(), provider)
	return err
}
