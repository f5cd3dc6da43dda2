// Package oauth manages provider authorization and encrypted token storage
// for clinic staff connecting their calendars.
package oauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	sharedCrypto "github.com/npjlab/pauta/internal/shared/infrastructure/crypto"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned when an owner never completed the consent flow.
var ErrNoToken = errors.New("no stored token for owner")

// StoredToken is the encrypted representation of an OAuth token.
type StoredToken struct {
	OwnerID      uuid.UUID
	Provider     string
	AccessToken  []byte
	RefreshToken []byte
	TokenType    string
	Expiry       time.Time
}

// TokenRepository defines persistence for encrypted OAuth tokens.
// FindByOwnerAndProvider returns nil when no token is stored.
type TokenRepository interface {
	Save(ctx context.Context, token StoredToken) error
	FindByOwnerAndProvider(ctx context.Context, ownerID uuid.UUID, provider string) (*StoredToken, error)
	Delete(ctx context.Context, ownerID uuid.UUID, provider string) error
}

// Service manages the OAuth consent flow and hands out token sources that
// transparently refresh and re-persist rotated tokens.
type Service struct {
	oauthConfig *oauth2.Config
	provider    string
	repo        TokenRepository
	encrypter   sharedCrypto.Encrypter
}

// NewService creates a new OAuth service.
func NewService(
	provider string,
	clientID string,
	clientSecret string,
	authURL string,
	tokenURL string,
	redirectURL string,
	scopes []string,
	repo TokenRepository,
	encrypter sharedCrypto.Encrypter,
) (*Service, error) {
	if provider == "" {
		return nil, errors.New("oauth provider is required")
	}
	if clientID == "" || clientSecret == "" || authURL == "" || tokenURL == "" || redirectURL == "" {
		return nil, errors.New("oauth configuration is incomplete")
	}
	if repo == nil || encrypter == nil {
		return nil, errors.New("oauth dependencies are required")
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
		RedirectURL: redirectURL,
		Scopes:      scopes,
	}

	return &Service{
		oauthConfig: cfg,
		provider:    provider,
		repo:        repo,
		encrypter:   encrypter,
	}, nil
}

// Provider returns the provider name this service is configured for.
func (s *Service) Provider() string { return s.provider }

// AuthURL returns the provider authorization URL for the consent flow.
// Offline access is requested so a refresh token comes back.
func (s *Service) AuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeAndStore exchanges a consent code for a token and stores it encrypted.
func (s *Service) ExchangeAndStore(ctx context.Context, ownerID uuid.UUID, code string) (*oauth2.Token, error) {
	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.storeToken(ctx, ownerID, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Disconnect removes the stored token for an owner.
func (s *Service) Disconnect(ctx context.Context, ownerID uuid.UUID) error {
	return s.repo.Delete(ctx, ownerID, s.provider)
}

// TokenSource returns a refreshing token source for the given owner.
// Rotated tokens are written back to the store so a process restart does
// not force re-consent.
func (s *Service) TokenSource(ctx context.Context, ownerID uuid.UUID) (oauth2.TokenSource, error) {
	token, err := s.loadToken(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &persistingTokenSource{
		service: s,
		ownerID: ownerID,
		inner:   s.oauthConfig.TokenSource(ctx, token),
		last:    token,
		ctx:     ctx,
	}, nil
}

func (s *Service) loadToken(ctx context.Context, ownerID uuid.UUID) (*oauth2.Token, error) {
	stored, err := s.repo.FindByOwnerAndProvider(ctx, ownerID, s.provider)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrNoToken
	}

	access, err := s.encrypter.Decrypt(stored.AccessToken)
	if err != nil {
		return nil, err
	}

	refresh := ""
	if len(stored.RefreshToken) > 0 {
		refreshBytes, err := s.encrypter.Decrypt(stored.RefreshToken)
		if err != nil {
			return nil, err
		}
		refresh = string(refreshBytes)
	}

	return &oauth2.Token{
		AccessToken:  string(access),
		RefreshToken: refresh,
		TokenType:    stored.TokenType,
		Expiry:       stored.Expiry,
	}, nil
}

func (s *Service) storeToken(ctx context.Context, ownerID uuid.UUID, token *oauth2.Token) error {
	accessEnc, err := s.encrypter.Encrypt([]byte(token.AccessToken))
	if err != nil {
		return err
	}

	var refreshEnc []byte
	if token.RefreshToken != "" {
		refreshEnc, err = s.encrypter.Encrypt([]byte(token.RefreshToken))
		if err != nil {
			return err
		}
	}

	return s.repo.Save(ctx, StoredToken{
		OwnerID:      ownerID,
		Provider:     s.provider,
		AccessToken:  accessEnc,
		RefreshToken: refreshEnc,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	})
}

// persistingTokenSource wraps the library token source and writes refreshed
// tokens back to the repository.
type persistingTokenSource struct {
	service *Service
	ownerID uuid.UUID
	inner   oauth2.TokenSource
	ctx     context.Context

	mu   sync.Mutex
	last *oauth2.Token
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.inner.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil || token.AccessToken != p.last.AccessToken {
		if err := p.service.storeToken(p.ctx, p.ownerID, token); err != nil {
			// The fresh token still works for this process; only the
			// persisted copy is stale.
			return token, nil
		}
		p.last = token
	}
	return token, nil
}

// ScopesFromEnv parses a comma-separated list of scopes.
func ScopesFromEnv(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	scopes := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	return scopes
}
