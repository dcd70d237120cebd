package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/protohost/internal/prototype"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*SQLiteStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	n := 0
	s, err := Open(":memory:", WithClock(clock.now), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("rec-%d", n)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func seedPrototype(t *testing.T, s *SQLiteStore, id, owner, repo, createdBy string) *prototype.Prototype {
	t.Helper()
	p := &prototype.Prototype{
		ID:        id,
		Name:      "Proto " + id,
		RepoURL:   prototype.CloneURL(owner, repo),
		Owner:     owner,
		RepoName:  repo,
		CreatedBy: createdBy,
		Active:    true,
	}
	require.NoError(t, s.CreatePrototype(context.Background(), p))
	return p
}

func TestPrototypeCRUD(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	seedPrototype(t, s, "p1", "octo", "site", "alice")
	clock.advance(time.Minute)
	seedPrototype(t, s, "p2", "octo", "other", "bob")

	got, err := s.GetPrototype(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, prototype.StatusPending, got.Status)
	assert.True(t, got.Active)
	assert.Nil(t, got.LastDeployedAt)

	all, err := s.ListPrototypes(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p2", all[0].ID)

	mine, err := s.ListPrototypes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)

	matches, err := s.FindActiveByRepo(ctx, "Octo", "SITE")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	got.Name = "Renamed"
	got.WebhookID = 99
	require.NoError(t, s.UpdatePrototype(ctx, got))
	got, err = s.GetPrototype(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, int64(99), got.WebhookID)

	require.NoError(t, s.SetReadme(ctx, "p1", "<h1>hi</h1>"))
	require.NoError(t, s.DeactivatePrototype(ctx, "p1"))
	matches, err = s.FindActiveByRepo(ctx, "octo", "site")
	require.NoError(t, err)
	assert.Empty(t, matches)

	got, err = s.GetPrototype(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "<h1>hi</h1>", got.ReadmeHTML)

	_, err = s.GetPrototype(ctx, "missing")
	assert.ErrorIs(t, err, prototype.ErrNotFound)
	assert.ErrorIs(t, s.DeactivatePrototype(ctx, "missing"), prototype.ErrNotFound)
}

func TestSetPrototypeStatus_EnforcesStateMachine(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedPrototype(t, s, "p1", "o", "r", "u")

	var te *prototype.TransitionError
	require.ErrorAs(t, s.SetPrototypeStatus(ctx, "p1", prototype.StatusSuccess, ""), &te)
	assert.Equal(t, prototype.StatusPending, te.From)

	require.NoError(t, s.SetPrototypeStatus(ctx, "p1", prototype.StatusBuilding, ""))
	require.ErrorAs(t, s.SetPrototypeStatus(ctx, "p1", prototype.StatusBuilding, ""), &te)

	require.NoError(t, s.SetPrototypeStatus(ctx, "p1", prototype.StatusFailed, "boom"))
	p, err := s.GetPrototype(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, prototype.StatusFailed, p.Status)
	assert.Equal(t, "boom", p.ErrorMessage)
	assert.Nil(t, p.LastDeployedAt)

	require.NoError(t, s.SetPrototypeStatus(ctx, "p1", prototype.StatusBuilding, ""))
	require.NoError(t, s.SetPrototypeStatus(ctx, "p1", prototype.StatusSuccess, ""))
	p, err = s.GetPrototype(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, p.ErrorMessage)
	assert.NotNil(t, p.LastDeployedAt)

	assert.ErrorIs(t, s.SetPrototypeStatus(ctx, "nope", prototype.StatusBuilding, ""), prototype.ErrNotFound)
}

func TestBuildRecordLifecycle(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	seedPrototype(t, s, "p1", "o", "r", "u")

	id, err := s.CreateBuildRecord(ctx, "p1", prototype.TriggerManual)
	require.NoError(t, err)

	rec, err := s.GetBuildRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, prototype.BuildStarted, rec.Status)
	assert.Nil(t, rec.CompletedAt)
	assert.Nil(t, rec.DurationMs)
	assert.Equal(t, prototype.TriggerManual, rec.Trigger)

	clock.advance(1500 * time.Millisecond)
	require.NoError(t, s.CompleteBuildRecord(ctx, id, prototype.Completion{
		Success:   true,
		Logs:      "Starting build process...\n",
		CommitSHA: "abc123",
	}))

	rec, err = s.GetBuildRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, prototype.BuildSuccess, rec.Status)
	require.NotNil(t, rec.DurationMs)
	assert.Equal(t, int64(1500), *rec.DurationMs)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, "abc123", rec.CommitSHA)
	assert.Empty(t, rec.Error)

	assert.ErrorIs(t, s.CompleteBuildRecord(ctx, id, prototype.Completion{}), ErrRecordCompleted)
	assert.ErrorIs(t, s.CompleteBuildRecord(ctx, "missing", prototype.Completion{}), prototype.ErrNotFound)
}

func TestListBuildRecords_NewestFirst(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	seedPrototype(t, s, "p1", "o", "r", "u")

	var ids []string
	for range 3 {
		id, err := s.CreateBuildRecord(ctx, "p1", prototype.TriggerCLI)
		require.NoError(t, err)
		ids = append(ids, id)
		clock.advance(time.Second)
	}

	recs, err := s.ListBuildRecords(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ids[2], recs[0].ID)
	assert.Equal(t, ids[1], recs[1].ID)
}

func TestRecoverInterrupted(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	seedPrototype(t, s, "p1", "o", "r1", "u")
	seedPrototype(t, s, "p2", "o", "r2", "u")

	require.NoError(t, s.SetPrototypeStatus(ctx, "p1", prototype.StatusBuilding, ""))
	stuck, err := s.CreateBuildRecord(ctx, "p1", prototype.TriggerManual)
	require.NoError(t, err)

	require.NoError(t, s.SetPrototypeStatus(ctx, "p2", prototype.StatusBuilding, ""))
	running, err := s.CreateBuildRecord(ctx, "p2", prototype.TriggerManual)
	require.NoError(t, err)

	clock.advance(time.Minute)
	n, err := s.RecoverInterrupted(ctx, clock.now(), func(id string) bool { return id == "p2" })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.GetBuildRecord(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, prototype.BuildFailed, rec.Status)
	assert.Equal(t, prototype.KindInterrupted, rec.ErrorKind)

	p1, err := s.GetPrototype(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, prototype.StatusFailed, p1.Status)

	rec, err = s.GetBuildRecord(ctx, running)
	require.NoError(t, err)
	assert.Equal(t, prototype.BuildStarted, rec.Status)
}
