package prototype

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
)

type memRepo struct {
	mu      sync.Mutex
	items   map[string]*Prototype
	records map[string][]*BuildRecord
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[string]*Prototype{}, records: map[string][]*BuildRecord{}}
}

func (m *memRepo) CreatePrototype(_ context.Context, p *Prototype) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *memRepo) GetPrototype(_ context.Context, id string) (*Prototype, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) ListPrototypes(_ context.Context, createdBy string) ([]*Prototype, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Prototype
	for _, p := range m.items {
		if p.Active && (createdBy == "" || p.CreatedBy == createdBy) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memRepo) FindActiveByRepo(_ context.Context, owner, repo string) ([]*Prototype, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Prototype
	for _, p := range m.items {
		if p.Active && p.Owner == owner && p.RepoName == repo {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepo) UpdatePrototype(_ context.Context, p *Prototype) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *memRepo) DeactivatePrototype(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].Active = false
	return nil
}

func (m *memRepo) ListBuildRecords(_ context.Context, id string, limit int) ([]*BuildRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[id]
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

type recordingScheduler struct {
	mu   sync.Mutex
	reqs []BuildRequest
	err  error
}

func (s *recordingScheduler) Enqueue(_ context.Context, req BuildRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.reqs = append(s.reqs, req)
	return "job-" + req.PrototypeID, nil
}

type fakeWebhooks struct {
	created   int
	deleted   []int64
	createErr error
	deleteErr error
}

func (f *fakeWebhooks) CreateWebhook(context.Context, string, string) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.created++
	return 4242, nil
}

func (f *fakeWebhooks) DeleteWebhook(_ context.Context, _, _ string, id int64) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func newTestService(opts ...ServiceOption) (*Service, *memRepo, *recordingScheduler) {
	repo := newMemRepo()
	sched := &recordingScheduler{}
	n := 0
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]ServiceOption{
		WithIDGenerator(func() string { n++; return "id-" + string(rune('0'+n)) }),
		WithClock(func() time.Time { return base.Add(time.Duration(n) * time.Minute) }),
	}, opts...)
	return NewService(repo, sched, opts...), repo, sched
}

func TestService_Create(t *testing.T) {
	svc, repo, sched := newTestService()

	p, err := svc.Create(context.Background(), "alice@example.com", CreateRequest{
		Name:    "  Landing Page ",
		RepoURL: "https://github.com/octo/landing.git",
	})
	require.NoError(t, err)

	assert.Equal(t, "Landing Page", p.Name)
	assert.Equal(t, "landing-page", p.Slug)
	assert.Equal(t, "octo", p.Owner)
	assert.Equal(t, "landing", p.RepoName)
	assert.Equal(t, StatusPending, p.Status)
	assert.True(t, p.Active)
	assert.Equal(t, "/prototype/"+p.ID+"/", p.URL())

	stored, err := repo.GetPrototype(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.RepoURL, stored.RepoURL)

	require.Len(t, sched.reqs, 1)
	assert.Equal(t, TriggerCreate, sched.reqs[0].Trigger)
	assert.Equal(t, p.ID, sched.reqs[0].PrototypeID)
}

func TestService_CreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "u", CreateRequest{Name: "", RepoURL: "https://github.com/o/r"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	_, err = svc.Create(ctx, "u", CreateRequest{Name: "x", RepoURL: "https://example.com/o/r"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	var ue *RepoURLError
	assert.ErrorAs(t, err, &ue)
}

func TestService_CreateDuplicateRepository(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "u", CreateRequest{Name: "one", RepoURL: "https://github.com/o/r"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u", CreateRequest{Name: "two", RepoURL: "git@github.com:o/r.git"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAlreadyExists))
}

func TestService_CreateSurvivesWebhookAndQueueFailures(t *testing.T) {
	hooks := &fakeWebhooks{createErr: errors.New("forbidden")}
	svc, _, sched := newTestService(WithWebhooks(hooks))
	sched.err = errors.New("queue full")

	p, err := svc.Create(context.Background(), "u", CreateRequest{Name: "x", RepoURL: "https://github.com/o/r"})
	require.NoError(t, err)
	assert.Zero(t, p.WebhookID)
}

func TestService_UpdateAndDeleteRequireOwner(t *testing.T) {
	hooks := &fakeWebhooks{deleteErr: errors.New("gone")}
	svc, _, _ := newTestService(WithWebhooks(hooks))
	ctx := context.Background()

	p, err := svc.Create(ctx, "owner", CreateRequest{Name: "x", RepoURL: "https://github.com/o/r"})
	require.NoError(t, err)
	assert.Equal(t, int64(4242), p.WebhookID)

	name := "Renamed"
	_, err = svc.Update(ctx, p.ID, "intruder", UpdateRequest{Name: &name})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryPermission))

	updated, err := svc.Update(ctx, p.ID, "owner", UpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "renamed", updated.Slug)

	assert.True(t, ferrors.HasCategory(svc.Delete(ctx, p.ID, "intruder"), ferrors.CategoryPermission))

	// webhook delete failure is swallowed
	require.NoError(t, svc.Delete(ctx, p.ID, "owner"))
	assert.Equal(t, []int64{4242}, hooks.deleted)

	_, err = svc.Get(ctx, p.ID)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListFiltersByCreator(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "a", CreateRequest{Name: "a1", RepoURL: "https://github.com/o/a1"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "b", CreateRequest{Name: "b1", RepoURL: "https://github.com/o/b1"})
	require.NoError(t, err)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := svc.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "a1", mine[0].Name)
}

func TestService_RebuildAndHistory(t *testing.T) {
	svc, repo, sched := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, "u", CreateRequest{Name: "x", RepoURL: "https://github.com/o/r"})
	require.NoError(t, err)

	jobID, err := svc.Rebuild(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-"+p.ID, jobID)
	assert.Equal(t, TriggerManual, sched.reqs[len(sched.reqs)-1].Trigger)

	_, err = svc.Rebuild(ctx, "missing")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))

	repo.records[p.ID] = []*BuildRecord{{ID: "b2"}, {ID: "b1"}}
	recs, err := svc.History(ctx, p.ID, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b2", recs[0].ID)
}

func TestService_HandlePush(t *testing.T) {
	svc, _, sched := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, "u", CreateRequest{Name: "x", RepoURL: "https://github.com/o/r"})
	require.NoError(t, err)
	sched.reqs = nil

	n, err := svc.HandlePush(ctx, PushNotice{Owner: "o", Repo: "r", Ref: "refs/heads/main", DefaultBranch: "main", Commits: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sched.reqs, 1)
	assert.Equal(t, TriggerWebhook, sched.reqs[0].Trigger)
	assert.Equal(t, p.ID, sched.reqs[0].PrototypeID)

	n, err = svc.HandlePush(ctx, PushNotice{Owner: "o", Repo: "r", Ref: "refs/heads/feature", DefaultBranch: "main", Commits: 1})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.HandlePush(ctx, PushNotice{Owner: "o", Repo: "r", Ref: "refs/heads/main", Commits: 0})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_HandleRepositoryEvent(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, "u", CreateRequest{Name: "x", RepoURL: "https://github.com/o/old"})
	require.NoError(t, err)

	n, err := svc.HandleRepositoryEvent(ctx, RepositoryNotice{Action: "renamed", Owner: "o", Repo: "new", PrevName: "old"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stored, _ := repo.GetPrototype(ctx, p.ID)
	assert.Equal(t, "new", stored.RepoName)
	assert.Equal(t, "https://github.com/o/new.git", stored.RepoURL)

	n, err = svc.HandleRepositoryEvent(ctx, RepositoryNotice{Action: "deleted", Owner: "o", Repo: "new"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stored, _ = repo.GetPrototype(ctx, p.ID)
	assert.False(t, stored.Active)
}
