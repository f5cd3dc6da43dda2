package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npjlab/pauta/internal/identity/oauth"
	"github.com/npjlab/pauta/internal/shared/infrastructure/migrations"

	_ "modernc.org/sqlite"
)

func setupTokenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), db))
	return db
}

func storedToken(ownerID uuid.UUID) oauth.StoredToken {
	return oauth.StoredToken{
		OwnerID:      ownerID,
		Provider:     "google",
		AccessToken:  []byte("encrypted-access"),
		RefreshToken: []byte("encrypted-refresh"),
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
}

func TestSQLiteTokenRepository_SaveAndFind(t *testing.T) {
	db := setupTokenTestDB(t)
	defer db.Close()

	repo := NewSQLiteTokenRepository(db)
	ctx := context.Background()
	ownerID := uuid.New()
	token := storedToken(ownerID)

	require.NoError(t, repo.Save(ctx, token))

	found, err := repo.FindByOwnerAndProvider(ctx, ownerID, "google")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, ownerID, found.OwnerID)
	assert.Equal(t, "google", found.Provider)
	assert.Equal(t, []byte("encrypted-access"), found.AccessToken)
	assert.Equal(t, []byte("encrypted-refresh"), found.RefreshToken)
	assert.Equal(t, "Bearer", found.TokenType)
	assert.Equal(t, token.Expiry, found.Expiry)
}

func TestSQLiteTokenRepository_FindMissingReturnsNil(t *testing.T) {
	db := setupTokenTestDB(t)
	defer db.Close()

	repo := NewSQLiteTokenRepository(db)
	found, err := repo.FindByOwnerAndProvider(context.Background(), uuid.New(), "google")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSQLiteTokenRepository_SaveUpserts(t *testing.T) {
	db := setupTokenTestDB(t)
	defer db.Close()

	repo := NewSQLiteTokenRepository(db)
	ctx := context.Background()
	ownerID := uuid.New()

	require.NoError(t, repo.Save(ctx, storedToken(ownerID)))

	rotated := storedToken(ownerID)
	rotated.AccessToken = []byte("encrypted-access-2")
	require.NoError(t, repo.Save(ctx, rotated))

	found, err := repo.FindByOwnerAndProvider(ctx, ownerID, "google")
	require.NoError(t, err)
	assert.Equal(t, []byte("encrypted-access-2"), found.AccessToken)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM oauth_tokens`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteTokenRepository_ProvidersAreIndependent(t *testing.T) {
	db := setupTokenTestDB(t)
	defer db.Close()

	repo := NewSQLiteTokenRepository(db)
	ctx := context.Background()
	ownerID := uuid.New()

	google := storedToken(ownerID)
	caldav := storedToken(ownerID)
	caldav.Provider = "caldav"
	caldav.AccessToken = []byte("encrypted-caldav")

	require.NoError(t, repo.Save(ctx, google))
	require.NoError(t, repo.Save(ctx, caldav))

	found, err := repo.FindByOwnerAndProvider(ctx, ownerID, "caldav")
	require.NoError(t, err)
	assert.Equal(t, []byte("encrypted-caldav"), found.AccessToken)
}

func TestSQLiteTokenRepository_Delete(t *testing.T) {
	db := setupTokenTestDB(t)
	defer db.Close()

	repo := NewSQLiteTokenRepository(db)
	ctx := context.Background()
	ownerID := uuid.New()

	require.NoError(t, repo.Save(ctx, storedToken(ownerID)))
	require.NoError(t, repo.Delete(ctx, ownerID, "google"))

	found, err := repo.FindByOwnerAndProvider(ctx, ownerID, "google")
	require.NoError(t, err)
	assert.Nil(t, found)
}
