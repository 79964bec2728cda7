// Package keycloak obtains service credentials from Keycloak using the
// client-credentials grant.
package keycloak

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"vn.io.arda/notification-engine/internal/auth"
	"vn.io.arda/notification-engine/internal/domain"
)

// refreshMargin renews a token this long before Keycloak says it expires.
const refreshMargin = 30 * time.Second

// TokenSource implements domain.CredentialSource. Tokens are cached until
// shortly before they expire.
type TokenSource struct {
	realm  string
	config clientcredentials.Config
	// fetchCtx carries the HTTP client used for every token request.
	fetchCtx context.Context
	now      func() time.Time

	mu     sync.Mutex
	cached oauth2.TokenSource
}

var _ domain.CredentialSource = (*TokenSource)(nil)

// New creates a TokenSource for the given realm and confidential client.
func New(baseURL, realm, clientID, clientSecret string) *TokenSource {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token",
		strings.TrimRight(baseURL, "/"), url.PathEscape(realm))
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	s := &TokenSource{
		realm:    realm,
		config:   cfg,
		fetchCtx: context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: 10 * time.Second}),
		now:      time.Now,
	}
	s.cached = s.newSource()
	return s
}

func (s *TokenSource) newSource() oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, s.config.TokenSource(s.fetchCtx), refreshMargin)
}

// Token returns a cached token or fetches a new one. A cached token whose
// JWT claims are already expired is discarded and fetched again.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.cached.Token()
	if err == nil && !auth.Usable(tok.AccessToken, s.now()) {
		s.cached = s.newSource()
		tok, err = s.cached.Token()
	}
	if err != nil {
		return "", fmt.Errorf("keycloak token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("keycloak returned empty access_token")
	}
	log.Debug().Str("realm", s.realm).Time("expiry", tok.Expiry).Msg("keycloak: token ready")
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.cached = s.newSource()
	s.mu.Unlock()
}
