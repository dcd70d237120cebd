package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/protohost/internal/config"
	"git.home.luguber.info/inful/protohost/internal/prototype"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Storage.ArtifactsPath = filepath.Join(dir, "artifacts")
	cfg.Storage.DatabasePath = filepath.Join(dir, "protohost.db")
	cfg.Storage.EventsDatabasePath = filepath.Join(dir, "events.db")
	cfg.GitHub.WebhookSecret = "first"
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestNew_WiresHandler(t *testing.T) {
	d, err := New(t.Context(), testConfig(t), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	for _, path := range []string{"/health", "/metrics", "/api/prototypes"} {
		w := httptest.NewRecorder()
		d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.Equal(t, StatusStopped, d.GetStatus())
	assert.Equal(t, "first", d.WebhookSecret())
}

func TestNew_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	off := false
	cfg.Metrics.Enabled = &off
	d, err := New(t.Context(), cfg, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReload_SwapsSettingsAndSecret(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(t.Context(), cfg, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	next := *cfg
	next.Build.StepTimeout = config.Duration(42 * time.Second)
	next.Build.InjectBaseHref = true
	next.GitHub.WebhookSecret = "second"
	require.NoError(t, d.Reload(t.Context(), &next))

	s := d.Orchestrator().Settings()
	assert.Equal(t, 42*time.Second, s.StepTimeout)
	assert.True(t, s.InjectBaseHref)
	assert.Equal(t, "second", d.WebhookSecret())
	assert.Same(t, &next, d.Config())
}

func TestRestartRequired(t *testing.T) {
	prev := config.Default()
	next := *prev
	assert.Empty(t, restartRequired(prev, &next))

	next.GitHub.WebhookSecret = "rotated"
	next.Build.StepTimeout = config.Duration(time.Second)
	assert.Empty(t, restartRequired(prev, &next), "hot-reloadable fields need no restart")

	next.Server.Port = prev.Server.Port + 1
	next.Queue.Workers = prev.Queue.Workers + 1
	next.GitHub.ClientID = "abc"
	assert.Equal(t, []string{"server", "queue", "github"}, restartRequired(prev, &next))
}

func TestSettings(t *testing.T) {
	b := config.Default().Build
	s := Settings(b)
	assert.Equal(t, b.CloneTimeout.Std(), s.CloneTimeout)
	assert.Equal(t, []string{"npm", "run", "build"}, s.BuildCommand)
	assert.Equal(t, []string{"build", "dist"}, s.OutputDirs)

	s.OutputDirs[0] = "changed"
	assert.Equal(t, "build", b.OutputDirs[0], "settings must not alias the config slices")
	assert.Equal(t, 5*time.Minute+30*time.Minute+time.Minute, maxBuildDuration(Settings(b)))
}

func TestStart_RecoversInterruptedBuildsAndStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = freePort(t)
	d, err := New(t.Context(), cfg, "")
	require.NoError(t, err)

	ctx := context.Background()
	p := &prototype.Prototype{
		ID: "p1", Name: "P", RepoURL: prototype.CloneURL("o", "r"), Owner: "o", RepoName: "r",
		CreatedBy: "u", Active: true,
	}
	require.NoError(t, d.store.CreatePrototype(ctx, p))
	require.NoError(t, d.store.SetPrototypeStatus(ctx, "p1", prototype.StatusBuilding, ""))
	recID, err := d.store.CreateBuildRecord(ctx, "p1", prototype.TriggerManual)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Start(runCtx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, StatusRunning, d.GetStatus())

	rec, err := d.store.GetBuildRecord(ctx, recID)
	require.NoError(t, err)
	assert.Equal(t, prototype.BuildFailed, rec.Status)
	assert.Equal(t, prototype.KindInterrupted, rec.ErrorKind)

	got, err := d.store.GetPrototype(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, prototype.StatusFailed, got.Status)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Equal(t, StatusStopped, d.GetStatus())
	require.NoError(t, d.Stop(ctx), "second stop is a no-op")
}
