package github

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	githubauth "golang.org/x/oauth2/github"
)

// OAuth runs the GitHub web application flow.
type OAuth struct {
	cfg *oauth2.Config
}

// NewOAuth configures the flow. redirectURL is the callback served by this service.
// endpoint may be the zero value to use github.com.
func NewOAuth(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint) *OAuth {
	if endpoint.AuthURL == "" {
		endpoint = githubauth.Endpoint
	}
	return &OAuth{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes:       []string{"repo", "admin:repo_hook"},
	}}
}

// Configured reports whether a client id is set.
func (o *OAuth) Configured() bool { return o.cfg.ClientID != "" }

// AuthCodeURL returns the authorize URL for state.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state)
}

// Exchange trades an authorization code for an access token.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("Failed to authenticate with GitHub: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("Failed to get access token from GitHub")
	}
	return tok, nil
}

// NewState returns 32 random bytes hex-encoded.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
