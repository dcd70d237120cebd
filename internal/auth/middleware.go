package auth

import (
	"net/http"

	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
)

// Middleware authenticates every request with p and stores the user on the
// request context. Failures are written through the error adapter.
func Middleware(p Provider, adapter *ferrors.HTTPErrorAdapter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			u, err := p.Authenticate(r)
			if err != nil {
				adapter.WriteErrorResponse(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// Optional attaches the user when authentication succeeds and lets the
// request through anonymously otherwise.
func Optional(p Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u, err := p.Authenticate(r); err == nil {
				r = r.WithContext(WithUser(r.Context(), u))
			}
			next.ServeHTTP(w, r)
		})
	}
}
