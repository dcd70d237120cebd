package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"git.home.luguber.info/inful/protohost/internal/config"
	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
)

// MockUserHeader selects the caller in mock mode.
const MockUserHeader = "x-mock-user"

var (
	// ErrTokenRequired is returned when no bearer token is present.
	ErrTokenRequired = ferrors.AuthError("Access token required").Build()
	// ErrInvalidToken is returned for tokens that fail validation.
	ErrInvalidToken = ferrors.PermissionError("Invalid or expired token").Build()
)

// Provider authenticates a request.
type Provider interface {
	Authenticate(r *http.Request) (*User, error)
	Name() string
}

// MockProvider trusts the x-mock-user header and falls back to a default user.
type MockProvider struct {
	DefaultUser string
}

func (p MockProvider) Name() string { return "mock" }

func (p MockProvider) Authenticate(r *http.Request) (*User, error) {
	email := strings.TrimSpace(r.Header.Get(MockUserHeader))
	if email == "" {
		email = p.DefaultUser
	}
	if email == "" {
		email = config.DefaultUser
	}
	return UserFromEmail(email), nil
}

// JWTProvider validates Authorization: Bearer tokens.
type JWTProvider struct {
	Tokens *Tokens
}

func (p JWTProvider) Name() string { return "jwt" }

func (p JWTProvider) Authenticate(r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrTokenRequired
	}
	u, err := p.Tokens.Validate(strings.TrimSpace(token))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryPermission, ErrInvalidToken.Message()).UserAction().Build()
	}
	return u, nil
}

// NewProvider selects the provider for cfg.Mode.
func NewProvider(cfg config.AuthConfig) (Provider, error) {
	switch cfg.Mode {
	case config.AuthModeMock, "":
		return MockProvider{DefaultUser: cfg.DefaultUser}, nil
	case config.AuthModeJWT:
		tokens, err := NewTokens(cfg.JWTSecret, 24*time.Hour)
		if err != nil {
			return nil, err
		}
		return JWTProvider{Tokens: tokens}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}
