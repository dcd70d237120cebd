// Package api is the HTTP surface of protohost: the prototypes REST API,
// GitHub OAuth and webhook endpoints, build history and events, and static
// hosting of published prototypes.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/oauth2"

	"git.home.luguber.info/inful/protohost/internal/auth"
	"git.home.luguber.info/inful/protohost/internal/build"
	"git.home.luguber.info/inful/protohost/internal/build/queue"
	"git.home.luguber.info/inful/protohost/internal/eventstore"
	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
	"git.home.luguber.info/inful/protohost/internal/github"
	"git.home.luguber.info/inful/protohost/internal/metrics"
	"git.home.luguber.info/inful/protohost/internal/prototype"
)

// Version is reported by GET /api.
var Version = "dev"

// Prototypes is the prototype service.
type Prototypes interface {
	Create(ctx context.Context, createdBy string, req prototype.CreateRequest) (*prototype.Prototype, error)
	List(ctx context.Context, createdBy string) ([]*prototype.Prototype, error)
	Get(ctx context.Context, id string) (*prototype.Prototype, error)
	Update(ctx context.Context, id, user string, req prototype.UpdateRequest) (*prototype.Prototype, error)
	Delete(ctx context.Context, id, user string) error
	Rebuild(ctx context.Context, id string) (string, error)
	History(ctx context.Context, id string, limit int) ([]*prototype.BuildRecord, error)
	HandlePush(ctx context.Context, n prototype.PushNotice) (int, error)
	HandleRepositoryEvent(ctx context.Context, n prototype.RepositoryNotice) (int, error)
}

// Hosting resolves files of published prototypes.
type Hosting interface {
	ServeFile(prototypeID, relPath string) (*build.File, bool)
}

// BuildRecords reads single build records.
type BuildRecords interface {
	GetBuildRecord(ctx context.Context, id string) (*prototype.BuildRecord, error)
}

// EventReader reads the stored events of a build.
type EventReader interface {
	GetByBuildID(ctx context.Context, buildID string) ([]eventstore.Event, error)
	GetSince(ctx context.Context, buildID string, afterID int64) ([]eventstore.Event, error)
}

// Jobs exposes queued and running build jobs.
type Jobs interface {
	JobSnapshot(id string) (*queue.BuildJob, bool)
	Length() int
	GetActiveJobs() []*queue.BuildJob
}

// Repositories reads repositories from GitHub on behalf of a user token.
type Repositories interface {
	GetRepository(ctx context.Context, owner, repo, token string) (*github.Repository, error)
	ListUserRepositories(ctx context.Context, token string) ([]github.Repository, error)
}

// OAuthFlow is the GitHub OAuth web flow.
type OAuthFlow interface {
	Configured() bool
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Deps are the collaborators behind the routes. Nil optional collaborators
// disable their routes.
type Deps struct {
	Prototypes   Prototypes
	Hosting      Hosting
	Records      BuildRecords
	Events       EventReader
	Jobs         Jobs
	Repositories Repositories
	OAuth        OAuthFlow
	Auth         auth.Provider
	Recorder     metrics.Recorder
	Metrics      http.Handler

	// WebhookSecret is read per delivery so a config reload takes effect immediately.
	WebhookSecret func() string
}

// Options are the listener and presentation settings.
type Options struct {
	Addr           string
	Environment    string
	FrontendURL    string
	MetricsPath    string
	RequestTimeout time.Duration
}

// Server represents the API server.
type Server struct {
	Addr    string
	opts    Options
	deps    Deps
	router  *chi.Mux
	server  *http.Server
	errors  *ferrors.HTTPErrorAdapter
	poll    time.Duration
	maxWait time.Duration
}

// NewServer creates a new API server.
func NewServer(opts Options, deps Deps) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if deps.Auth == nil {
		deps.Auth = auth.MockProvider{}
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	if deps.WebhookSecret == nil {
		deps.WebhookSecret = func() string { return "" }
	}

	s := &Server{
		Addr:    opts.Addr,
		opts:    opts,
		deps:    deps,
		router:  chi.NewRouter(),
		errors:  ferrors.NewHTTPErrorAdapter(slog.Default()),
		poll:    500 * time.Millisecond,
		maxWait: 10 * time.Minute,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogContext)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Route not found"})
	})

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, s.opts.MetricsPath, s.deps.Metrics)
	}

	// Hosting has no request timeout; large assets may take a while.
	if s.deps.Hosting != nil {
		r.Group(func(r chi.Router) {
			r.Use(hostingCORS)
			r.Get("/prototype/{id}", s.handleServePrototype)
			r.Get("/prototype/{id}/*", s.handleServePrototype)
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.apiCORS)
		optional := auth.Optional(s.deps.Auth)
		required := auth.Middleware(s.deps.Auth, s.errors)

		// Event streams outlive the request timeout.
		if s.deps.Events != nil {
			r.Get("/builds/{id}/events", s.handleBuildEvents)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))
			r.Get("/", s.handleAPIInfo)

			if s.deps.Prototypes != nil {
				r.Route("/prototypes", func(r chi.Router) {
					r.With(optional).Get("/", s.handleListPrototypes)
					r.With(optional).Get("/{id}", s.handleGetPrototype)
					r.With(optional).Get("/{id}/builds", s.handleListBuilds)
					r.With(optional).Get("/{id}/readme", s.handleGetReadme)
					r.With(required).Post("/", s.handleCreatePrototype)
					r.With(required).Put("/{id}", s.handleUpdatePrototype)
					r.With(required).Delete("/{id}", s.handleDeletePrototype)
					r.With(required).Post("/{id}/rebuild", s.handleRebuildPrototype)
				})
			}

			if s.deps.Records != nil {
				r.Get("/builds/{id}", s.handleGetBuild)
			}
			if s.deps.Jobs != nil {
				r.Get("/jobs/{id}", s.handleGetJob)
			}

			r.Route("/github", func(r chi.Router) {
				r.Get("/auth", s.handleStartOAuth)
				r.Get("/auth/callback", s.handleOAuthCallback)
				r.With(required).Get("/repos", s.handleListRepositories)
				r.Get("/repos/{owner}/{repo}", s.handleGetRepository)
				r.Post("/webhook", s.handleWebhook)
			})
		})
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the API server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

// Error writes err through the classified error adapter.
func (s *Server) Error(w http.ResponseWriter, r *http.Request, err error) {
	s.errors.WriteErrorResponse(w, r, err)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	env := s.opts.Environment
	if env == "" {
		env = "development"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"environment": env,
	})
}

func (s *Server) handleAPIInfo(w http.ResponseWriter, _ *http.Request) {
	info := map[string]any{
		"message": "Prototype Hosting API",
		"version": Version,
		"endpoints": map[string]string{
			"prototypes": "/api/prototypes",
			"builds":     "/api/builds/:id",
			"github":     "/api/github",
			"hosting":    "/prototype/:id",
		},
	}
	if s.deps.Jobs != nil {
		info["queue"] = map[string]int{
			"queued":  s.deps.Jobs.Length(),
			"running": len(s.deps.Jobs.GetActiveJobs()),
		}
	}
	writeJSON(w, http.StatusOK, info)
}
