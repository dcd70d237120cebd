package prototype

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
	"git.home.luguber.info/inful/protohost/internal/logfields"
)

const (
	maxNameLength        = 200
	maxDescriptionLength = 2000
	defaultHistoryLimit  = 20
	maxHistoryLimit      = 100
)

// Repository persists prototypes and reads build history.
type Repository interface {
	CreatePrototype(ctx context.Context, p *Prototype) error
	GetPrototype(ctx context.Context, id string) (*Prototype, error)
	ListPrototypes(ctx context.Context, createdBy string) ([]*Prototype, error)
	FindActiveByRepo(ctx context.Context, owner, repo string) ([]*Prototype, error)
	UpdatePrototype(ctx context.Context, p *Prototype) error
	DeactivatePrototype(ctx context.Context, id string) error
	ListBuildRecords(ctx context.Context, prototypeID string, limit int) ([]*BuildRecord, error)
}

// BuildRequest asks for an asynchronous build.
type BuildRequest struct {
	PrototypeID string
	RepoURL     string
	Trigger     Trigger
}

// Scheduler accepts build requests, typically the build queue.
type Scheduler interface {
	Enqueue(ctx context.Context, req BuildRequest) (string, error)
}

// Webhooks registers push hooks on GitHub repositories.
type Webhooks interface {
	CreateWebhook(ctx context.Context, owner, repo string) (int64, error)
	DeleteWebhook(ctx context.Context, owner, repo string, hookID int64) error
}

// CreateRequest is the input to Service.Create.
type CreateRequest struct {
	Name        string
	Description string
	RepoURL     string
}

// UpdateRequest changes only the non-nil fields.
type UpdateRequest struct {
	Name        *string
	Description *string
}

// PushNotice is the subset of a push webhook the service acts on.
type PushNotice struct {
	Owner         string
	Repo          string
	Ref           string
	DefaultBranch string
	HeadSHA       string
	Commits       int
}

// RepositoryNotice is the subset of a repository webhook the service acts on.
type RepositoryNotice struct {
	Action   string
	Owner    string
	Repo     string
	PrevName string
}

// Service implements prototype CRUD and build triggering.
type Service struct {
	repo      Repository
	scheduler Scheduler
	webhooks  Webhooks
	now       func() time.Time
	newID     func() string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithWebhooks enables webhook registration on create and removal on delete.
func WithWebhooks(w Webhooks) ServiceOption { return func(s *Service) { s.webhooks = w } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(gen func() string) ServiceOption { return func(s *Service) { s.newID = gen } }

// NewService wires a Service.
func NewService(repo Repository, scheduler Scheduler, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		scheduler: scheduler,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates the request, stores a pending prototype, and schedules
// its first build. Webhook registration failures do not fail the create.
func (s *Service) Create(ctx context.Context, createdBy string, req CreateRequest) (*Prototype, error) {
	name := strings.TrimSpace(req.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(req.Description) > maxDescriptionLength {
		return nil, ferrors.ValidationError("description is too long").WithContext("max", maxDescriptionLength).Build()
	}
	owner, repoName, err := ParseGitHubURL(req.RepoURL)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid GitHub repository URL").Build()
	}

	existing, err := s.repo.FindActiveByRepo(ctx, owner, repoName)
	if err != nil {
		return nil, persistenceErr(err, "failed to look up existing prototypes")
	}
	if len(existing) > 0 {
		return nil, ferrors.NewError(ferrors.CategoryAlreadyExists, "A prototype for this repository already exists").
			WithContext("prototype_id", existing[0].ID).Build()
	}

	now := s.now().UTC()
	p := &Prototype{
		ID:          s.newID(),
		Name:        name,
		Slug:        Slugify(name),
		Description: req.Description,
		RepoURL:     strings.TrimSpace(req.RepoURL),
		Owner:       owner,
		RepoName:    repoName,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		Active:      true,
		Status:      StatusPending,
	}

	if s.webhooks != nil {
		if hookID, err := s.webhooks.CreateWebhook(ctx, owner, repoName); err != nil {
			slog.Warn("Failed to register webhook", logfields.PrototypeID(p.ID), logfields.RepoURL(p.RepoURL), logfields.Error(err))
		} else {
			p.WebhookID = hookID
		}
	}

	if err := s.repo.CreatePrototype(ctx, p); err != nil {
		return nil, persistenceErr(err, "failed to create prototype")
	}
	slog.Info("Prototype created", logfields.PrototypeID(p.ID), logfields.RepoURL(p.RepoURL), logfields.User(createdBy))

	if _, err := s.scheduler.Enqueue(ctx, BuildRequest{PrototypeID: p.ID, RepoURL: p.RepoURL, Trigger: TriggerCreate}); err != nil {
		slog.Warn("Failed to schedule initial build", logfields.PrototypeID(p.ID), logfields.Error(err))
	}
	return p, nil
}

// List returns active prototypes, newest update first. An empty createdBy lists all.
func (s *Service) List(ctx context.Context, createdBy string) ([]*Prototype, error) {
	ps, err := s.repo.ListPrototypes(ctx, createdBy)
	if err != nil {
		return nil, persistenceErr(err, "failed to list prototypes")
	}
	return ps, nil
}

// Get returns an active prototype.
func (s *Service) Get(ctx context.Context, id string) (*Prototype, error) {
	p, err := s.repo.GetPrototype(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, persistenceErr(err, "failed to load prototype")
	}
	if !p.Active {
		return nil, notFound(id)
	}
	return p, nil
}

// Update changes name and description. Only the creator may update.
func (s *Service) Update(ctx context.Context, id, user string, req UpdateRequest) (*Prototype, error) {
	p, err := s.owned(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name != "" {
			if err := validateName(name); err != nil {
				return nil, err
			}
			p.Name = name
			p.Slug = Slugify(name)
		}
	}
	if req.Description != nil {
		if len(*req.Description) > maxDescriptionLength {
			return nil, ferrors.ValidationError("description is too long").WithContext("max", maxDescriptionLength).Build()
		}
		p.Description = *req.Description
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdatePrototype(ctx, p); err != nil {
		return nil, persistenceErr(err, "failed to update prototype")
	}
	return p, nil
}

// Delete soft-deletes a prototype. Webhook removal is best-effort.
func (s *Service) Delete(ctx context.Context, id, user string) error {
	p, err := s.owned(ctx, id, user)
	if err != nil {
		return err
	}
	if err := s.repo.DeactivatePrototype(ctx, id); err != nil {
		return persistenceErr(err, "failed to delete prototype")
	}
	if s.webhooks != nil && p.WebhookID != 0 {
		if err := s.webhooks.DeleteWebhook(ctx, p.Owner, p.RepoName, p.WebhookID); err != nil {
			slog.Warn("Failed to delete webhook", logfields.PrototypeID(id), logfields.Error(err))
		}
	}
	slog.Info("Prototype deleted", logfields.PrototypeID(id), logfields.User(user))
	return nil
}

// Rebuild schedules a manual build and returns the job id.
func (s *Service) Rebuild(ctx context.Context, id string) (string, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.scheduler.Enqueue(ctx, BuildRequest{PrototypeID: p.ID, RepoURL: p.RepoURL, Trigger: TriggerManual})
}

// History returns build records newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]*BuildRecord, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	recs, err := s.repo.ListBuildRecords(ctx, id, limit)
	if err != nil {
		return nil, persistenceErr(err, "failed to load build history")
	}
	return recs, nil
}

// HandlePush schedules a webhook build for every active prototype tracking
// the pushed repository. Pushes without commits or to other branches are ignored.
func (s *Service) HandlePush(ctx context.Context, n PushNotice) (int, error) {
	if n.Commits == 0 {
		return 0, nil
	}
	if n.DefaultBranch != "" && n.Ref != "refs/heads/"+n.DefaultBranch {
		slog.Debug("Ignoring push to non-default branch", slog.String("ref", n.Ref))
		return 0, nil
	}
	matches, err := s.repo.FindActiveByRepo(ctx, n.Owner, n.Repo)
	if err != nil {
		return 0, persistenceErr(err, "failed to look up prototypes for push")
	}
	scheduled := 0
	for _, p := range matches {
		if _, err := s.scheduler.Enqueue(ctx, BuildRequest{PrototypeID: p.ID, RepoURL: p.RepoURL, Trigger: TriggerWebhook}); err != nil {
			slog.Warn("Push build not scheduled", logfields.PrototypeID(p.ID), logfields.Error(err))
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

// HandleRepositoryEvent deactivates prototypes whose repository was deleted
// and follows renames.
func (s *Service) HandleRepositoryEvent(ctx context.Context, n RepositoryNotice) (int, error) {
	lookup := n.Repo
	if n.Action == "renamed" && n.PrevName != "" {
		lookup = n.PrevName
	}
	matches, err := s.repo.FindActiveByRepo(ctx, n.Owner, lookup)
	if err != nil {
		return 0, persistenceErr(err, "failed to look up prototypes for repository event")
	}

	changed := 0
	for _, p := range matches {
		switch n.Action {
		case "deleted":
			if err := s.repo.DeactivatePrototype(ctx, p.ID); err != nil {
				return changed, persistenceErr(err, "failed to deactivate prototype")
			}
		case "renamed":
			p.RepoName = n.Repo
			p.RepoURL = CloneURL(p.Owner, n.Repo)
			p.UpdatedAt = s.now().UTC()
			if err := s.repo.UpdatePrototype(ctx, p); err != nil {
				return changed, persistenceErr(err, "failed to follow repository rename")
			}
		default:
			continue
		}
		changed++
	}
	return changed, nil
}

func (s *Service) owned(ctx context.Context, id, user string) (*Prototype, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.CreatedBy != user {
		return nil, ferrors.PermissionError("Prototype not found or unauthorized").
			WithContext("prototype_id", id).Build()
	}
	return p, nil
}

func validateName(name string) error {
	if name == "" {
		return ferrors.ValidationError("name is required").Build()
	}
	if len(name) > maxNameLength {
		return ferrors.ValidationError("name is too long").WithContext("max", maxNameLength).Build()
	}
	return nil
}

func notFound(id string) error {
	return ferrors.WrapError(ErrNotFound, ferrors.CategoryNotFound, "Prototype not found").
		WithContext("prototype_id", id).Build()
}

func persistenceErr(err error, msg string) error {
	if ferrors.IsClassified(err) {
		return err
	}
	return ferrors.WrapError(err, ferrors.CategoryPersistence, msg).Build()
}
