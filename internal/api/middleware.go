package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/protohost/internal/auth"
	"git.home.luguber.info/inful/protohost/internal/observability"
)

// requestLogContext copies the chi request id into the log context.
func requestLogContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(observability.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// hostingCORS lets any origin fetch prototype assets.
func hostingCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

// apiCORS admits the configured frontend origin and answers preflights.
func (s *Server) apiCORS(next http.Handler) http.Handler {
	origin := strings.TrimRight(s.opts.FrontendURL, "/")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" && r.Header.Get("Origin") == origin {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-GitHub-Token, "+auth.MockUserHeader)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// currentUser returns the caller's email, or "" for anonymous requests.
func currentUser(r *http.Request) string {
	if u, ok := auth.UserFromContext(r.Context()); ok {
		return u.Email
	}
	return ""
}
