// Package auth obtains bearer tokens for the Business Central API with the
// OAuth2 refresh-token grant against Microsoft Entra ID.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Scope grants access to the Business Central API.
const Scope = "https://api.businesscentral.dynamics.com/.default"

// TokenURL returns the Entra ID v2 token endpoint of a tenant.
func TokenURL(tenantID string) string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID)
}

// Config holds the app registration and the long-lived refresh token.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	RefreshToken string
	// TokenURL overrides the endpoint derived from TenantID.
	TokenURL string
}

func (c Config) oauth() *oauth2.Config {
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL(c.TenantID)
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       []string{Scope, "offline_access"},
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Client returns an HTTP client that attaches a bearer token to every
// request and refreshes it when it expires. Entra ID may rotate the refresh
// token on any refresh; onRotate receives the new one so it can be
// persisted. onRotate may be nil.
func (c Config) Client(ctx context.Context, onRotate func(refreshToken string) error, log logrus.FieldLogger) *http.Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	src := &rotatingSource{
		base:     c.oauth().TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}),
		last:     c.RefreshToken,
		onRotate: onRotate,
		log:      log,
	}
	hc := oauth2.NewClient(ctx, src)
	hc.Timeout = 120 * time.Second
	return hc
}

// rotatingSource reports refresh-token changes of the wrapped source.
type rotatingSource struct {
	base     oauth2.TokenSource
	onRotate func(string) error

	mu   sync.Mutex
	last string
	log  logrus.FieldLogger
}

func (s *rotatingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.RefreshToken == "" || tok.RefreshToken == s.last {
		return tok, nil
	}
	s.last = tok.RefreshToken
	if s.onRotate != nil {
		if err := s.onRotate(tok.RefreshToken); err != nil {
			s.log.WithError(err).Warn("could not persist rotated refresh token")
		}
	}
	return tok, nil
}
