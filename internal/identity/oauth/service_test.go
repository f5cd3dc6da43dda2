package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type memoryTokenRepo struct {
	tokens map[string]StoredToken
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{tokens: make(map[string]StoredToken)}
}

func (r *memoryTokenRepo) key(ownerID uuid.UUID, provider string) string {
	return ownerID.String() + "/" + provider
}

func (r *memoryTokenRepo) Save(ctx context.Context, token StoredToken) error {
	r.tokens[r.key(token.OwnerID, token.Provider)] = token
	return nil
}

func (r *memoryTokenRepo) FindByOwnerAndProvider(ctx context.Context, ownerID uuid.UUID, provider string) (*StoredToken, error) {
	token, ok := r.tokens[r.key(ownerID, provider)]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

func (r *memoryTokenRepo) Delete(ctx context.Context, ownerID uuid.UUID, provider string) error {
	delete(r.tokens, r.key(ownerID, provider))
	return nil
}

// xorEncrypter is a stand-in cipher: reversible and visibly not plaintext.
type xorEncrypter struct{}

func (xorEncrypter) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (xorEncrypter) Decrypt(ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	for i, b := range ciphertext {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func testService(t *testing.T, tokenURL string, repo TokenRepository) *Service {
	t.Helper()
	svc, err := NewService(
		"google",
		"client-id",
		"client-secret",
		"https://accounts.example/auth",
		tokenURL,
		"http://localhost/callback",
		[]string{"calendar.events"},
		repo,
		xorEncrypter{},
	)
	require.NoError(t, err)
	return svc
}

func tokenEndpoint(t *testing.T, access, refresh string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewService_ValidatesConfiguration(t *testing.T) {
	repo := newMemoryTokenRepo()

	_, err := NewService("", "id", "secret", "a", "t", "r", nil, repo, xorEncrypter{})
	assert.Error(t, err)

	_, err = NewService("google", "", "secret", "a", "t", "r", nil, repo, xorEncrypter{})
	assert.Error(t, err)

	_, err = NewService("google", "id", "secret", "a", "t", "r", nil, nil, nil)
	assert.Error(t, err)
}

func TestAuthURL_RequestsOfflineAccess(t *testing.T) {
	svc := testService(t, "https://accounts.example/token", newMemoryTokenRepo())

	u := svc.AuthURL("state-123")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "state=state-123")
	assert.Contains(t, u, "client_id=client-id")
}

func TestExchangeAndStore_PersistsEncrypted(t *testing.T) {
	server := tokenEndpoint(t, "access-1", "refresh-1")
	repo := newMemoryTokenRepo()
	svc := testService(t, server.URL, repo)
	ownerID := uuid.New()

	token, err := svc.ExchangeAndStore(context.Background(), ownerID, "consent-code")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)

	stored, err := repo.FindByOwnerAndProvider(context.Background(), ownerID, "google")
	require.NoError(t, err)
	require.NotNil(t, stored)
	// Stored bytes are ciphertext, not the raw token.
	assert.NotEqual(t, []byte("access-1"), stored.AccessToken)
	plain, err := xorEncrypter{}.Decrypt(stored.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-1", string(plain))
}

func TestTokenSource_NoStoredToken(t *testing.T) {
	svc := testService(t, "https://accounts.example/token", newMemoryTokenRepo())

	_, err := svc.TokenSource(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestTokenSource_ReturnsStoredToken(t *testing.T) {
	server := tokenEndpoint(t, "access-1", "refresh-1")
	repo := newMemoryTokenRepo()
	svc := testService(t, server.URL, repo)
	ownerID := uuid.New()

	_, err := svc.ExchangeAndStore(context.Background(), ownerID, "consent-code")
	require.NoError(t, err)

	source, err := svc.TokenSource(context.Background(), ownerID)
	require.NoError(t, err)

	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)
}

func TestTokenSource_PersistsRotatedToken(t *testing.T) {
	server := tokenEndpoint(t, "access-2", "refresh-1")
	repo := newMemoryTokenRepo()
	svc := testService(t, server.URL, repo)
	ownerID := uuid.New()

	// Seed an expired token so the source refreshes on first use.
	expired := &oauth2.Token{
		AccessToken:  "access-stale",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	}
	require.NoError(t, svc.storeToken(context.Background(), ownerID, expired))

	source, err := svc.TokenSource(context.Background(), ownerID)
	require.NoError(t, err)

	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", token.AccessToken)

	// The rotated token was written back.
	stored, err := repo.FindByOwnerAndProvider(context.Background(), ownerID, "google")
	require.NoError(t, err)
	plain, err := xorEncrypter{}.Decrypt(stored.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-2", string(plain))
}

func TestDisconnect_RemovesToken(t *testing.T) {
	server := tokenEndpoint(t, "access-1", "refresh-1")
	repo := newMemoryTokenRepo()
	svc := testService(t, server.URL, repo)
	ownerID := uuid.New()

	_, err := svc.ExchangeAndStore(context.Background(), ownerID, "consent-code")
	require.NoError(t, err)

	require.NoError(t, svc.Disconnect(context.Background(), ownerID))

	_, err = svc.TokenSource(context.Background(), ownerID)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestScopesFromEnv(t *testing.T) {
	assert.Nil(t, ScopesFromEnv(""))
	assert.Equal(t, []string{"a", "b"}, ScopesFromEnv("a,b"))
	assert.Equal(t, []string{"a", "b"}, ScopesFromEnv(" a , b , "))
}
