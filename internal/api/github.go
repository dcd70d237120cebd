package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
	"git.home.luguber.info/inful/protohost/internal/github"
	"git.home.luguber.info/inful/protohost/internal/logfields"
)

const (
	githubTokenHeader = "X-GitHub-Token"
	maxWebhookBytes   = 25 << 20
)

var errInvalidSignature = ferrors.AuthError("Invalid webhook signature").Build()

func (s *Server) handleStartOAuth(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil || !s.deps.OAuth.Configured() {
		s.Error(w, r, ferrors.ConfigError("GitHub OAuth is not configured").Build())
		return
	}
	state, err := github.NewState()
	if err != nil {
		s.Error(w, r, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to generate OAuth state").Build())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"authUrl": s.deps.OAuth.AuthCodeURL(state),
		"state":   state,
	})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Redirect(w, r, s.frontendURL("", url.Values{"error": {"authorization_code_missing"}}), http.StatusFound)
		return
	}
	if s.deps.OAuth == nil {
		http.Redirect(w, r, s.frontendURL("", url.Values{
			"github_auth":   {"error"},
			"error_message": {"GitHub OAuth is not configured"},
		}), http.StatusFound)
		return
	}

	tok, err := s.deps.OAuth.Exchange(r.Context(), code)
	if err != nil {
		slog.WarnContext(r.Context(), "GitHub OAuth callback failed", logfields.Error(err))
		http.Redirect(w, r, s.frontendURL("", url.Values{
			"github_auth":   {"error"},
			"error_message": {err.Error()},
		}), http.StatusFound)
		return
	}
	http.Redirect(w, r, s.frontendURL("/my-prototypes", url.Values{
		"access_token": {tok.AccessToken},
		"github_auth":  {"success"},
		"popup":        {"true"},
	}), http.StatusFound)
}

// frontendURL appends p and the query to the configured frontend URL.
func (s *Server) frontendURL(p string, q url.Values) string {
	base := strings.TrimRight(s.opts.FrontendURL, "/")
	if base == "" {
		base = "/"
	}
	u, err := url.Parse(base + p)
	if err != nil {
		return "/"
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repositories == nil {
		s.Error(w, r, ferrors.ConfigError("GitHub integration is not configured").Build())
		return
	}
	token := r.Header.Get(githubTokenHeader)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":        "GitHub access token is required. Please authenticate with GitHub first.",
			"requiresAuth": true,
		})
		return
	}
	repos, err := s.deps.Repositories.ListUserRepositories(r.Context(), token)
	if err != nil {
		s.Error(w, r, githubError(err))
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repositories == nil {
		s.Error(w, r, ferrors.ConfigError("GitHub integration is not configured").Build())
		return
	}
	repo, err := s.deps.Repositories.GetRepository(r.Context(),
		chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), r.Header.Get(githubTokenHeader))
	if err != nil {
		s.Error(w, r, githubError(err))
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func githubError(err error) error {
	if errors.Is(err, github.ErrNotFound) {
		return ferrors.WrapError(err, ferrors.CategoryNotFound, err.Error()).Build()
	}
	var apiErr *github.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return ferrors.WrapError(err, ferrors.CategoryAuth, err.Error()).UserAction().Build()
	}
	return ferrors.WrapError(err, ferrors.CategoryUpstream, err.Error()).Build()
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		s.Error(w, r, ferrors.WrapError(err, ferrors.CategoryValidation, "failed to read webhook body").Build())
		return
	}
	eventType := r.Header.Get("X-GitHub-Event")

	if secret := s.deps.WebhookSecret(); secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Hub-Signature")
		}
		if !github.ValidateSignature(body, sig, secret) {
			s.deps.Recorder.IncWebhookEvent(eventType, false)
			s.Error(w, r, errInvalidSignature)
			return
		}
	}

	ev, err := github.ParseWebhookEvent(eventType, body)
	if errors.Is(err, github.ErrUnsupportedEvent) {
		slog.InfoContext(r.Context(), "Unhandled webhook event", logfields.Event(eventType))
		s.deps.Recorder.IncWebhookEvent(eventType, false)
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}
	if err != nil {
		s.deps.Recorder.IncWebhookEvent(eventType, false)
		s.Error(w, r, ferrors.WrapError(err, ferrors.CategoryValidation, err.Error()).Build())
		return
	}

	slog.InfoContext(r.Context(), "Received GitHub webhook",
		logfields.Event(eventType),
		slog.String("repository", ev.FullName),
		slog.String("action", ev.Action),
		slog.String("delivery", r.Header.Get("X-GitHub-Delivery")))

	scheduled := 0
	if s.deps.Prototypes != nil {
		switch ev.Type {
		case github.EventPush:
			scheduled, err = s.deps.Prototypes.HandlePush(r.Context(), ev.PushNotice())
		case github.EventRepository:
			scheduled, err = s.deps.Prototypes.HandleRepositoryEvent(r.Context(), ev.RepositoryNotice())
		}
	}
	if err != nil {
		s.deps.Recorder.IncWebhookEvent(eventType, false)
		s.Error(w, r, err)
		return
	}
	s.deps.Recorder.IncWebhookEvent(eventType, true)
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "affected": scheduled})
}
