// Package auth establishes who is calling the HTTP API.
//
// Two providers exist: a mock provider that trusts the x-mock-user header
// (development only) and a JWT provider that validates HS256 bearer tokens.
package auth

import (
	"context"
	"strings"
)

// User is the authenticated caller.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type userKey struct{}

// WithUser stores u on ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the caller set by Middleware.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	return u, ok && u != nil
}

// UserFromEmail derives a user whose id is the email and whose name is the
// local part.
func UserFromEmail(email string) *User {
	name, _, _ := strings.Cut(email, "@")
	return &User{ID: email, Email: email, Name: name}
}
