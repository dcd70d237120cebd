package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
	"git.home.luguber.info/inful/protohost/internal/lease"
	"git.home.luguber.info/inful/protohost/internal/process"
	"git.home.luguber.info/inful/protohost/internal/prototype"
	"git.home.luguber.info/inful/protohost/internal/workspace"
)

const (
	siteURL  = "https://github.com/acme/site"
	reactURL = "https://github.com/acme/app"
)

type harness struct {
	orch   *Orchestrator
	store  *memStore
	cloner *fakeCloner
	runner *fakeRunner
	events *eventCollector
	layout *workspace.Layout
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	layout, err := workspace.NewLayout(t.TempDir())
	require.NoError(t, err)
	h := &harness{
		store:  newMemStore("p1", "p2"),
		cloner: &fakeCloner{},
		runner: &fakeRunner{},
		events: &eventCollector{},
		layout: layout,
	}
	opts = append([]Option{WithEvents(h.events)}, opts...)
	h.orch = NewOrchestrator(h.store, h.cloner, h.runner, layout, opts...)
	t.Cleanup(func() {
		assert.Zero(t, h.store.startedCount(), "a returning build left a record started")
	})
	return h
}

func TestBuild_StaticSiteServesFiles(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(siteURL, map[string]string{
		"index.html":  "<h1>hi</h1>",
		"style.css":   "body{}",
		".git/config": "[core]",
	})

	rec, err := h.orch.Build(t.Context(), "p1", siteURL)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, prototype.BuildSuccess, rec.Status)
	assert.Equal(t, prototype.StatusSuccess, h.store.status("p1"))
	assert.Equal(t, "abc123", rec.CommitSHA)
	assert.NotNil(t, rec.CompletedAt)

	stored := h.store.record(rec.ID)
	assert.Equal(t, prototype.BuildSuccess, stored.Status)
	assert.Contains(t, stored.Logs, "Starting build process...\n")
	assert.Contains(t, stored.Logs, "Copying static files...\n")
	assert.Contains(t, stored.Logs, "Copied static files from ")
	assert.Empty(t, h.runner.commands(), "static builds run no commands")

	data, ok := h.orch.Serve("p1", "")
	require.True(t, ok)
	assert.Equal(t, "<h1>hi</h1>", string(data))

	data, ok = h.orch.Serve("p1", "style.css")
	require.True(t, ok)
	assert.Equal(t, "body{}", string(data))
	assert.Equal(t, "text/css; charset=utf-8", ContentType("style.css"))

	_, ok = h.orch.Serve("p1", ".git/config")
	assert.False(t, ok, ".git is not copied")

	_, err = os.Stat(h.layout.TempDir("p1"))
	assert.True(t, os.IsNotExist(err), "temp clone removed")

	types := h.events.types()
	require.NotEmpty(t, types)
	assert.Equal(t, EventStarted, types[0])
	assert.Equal(t, EventSucceeded, types[len(types)-1])
}

func TestBuild_StaticSiteFollowsSymlinks(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(siteURL, map[string]string{
		"index.html":   "<h1>hi</h1>",
		"css/main.css": "body{}",
		"@style.css":   "css/main.css",
		"@passwd":      "/etc/passwd",
	})

	rec, err := h.orch.Build(t.Context(), "p1", siteURL)
	require.NoError(t, err)
	assert.Equal(t, prototype.BuildSuccess, rec.Status)

	data, ok := h.orch.Serve("p1", "style.css")
	require.True(t, ok, "symlinked file is served")
	assert.Equal(t, "body{}", string(data))

	_, ok = h.orch.Serve("p1", "passwd")
	assert.False(t, ok, "links leaving the repository are not copied")
	assert.Contains(t, h.store.record(rec.ID).Logs, "Skipped symlink passwd")
}

func TestBuild_ServedBytesMatchSource(t *testing.T) {
	h := newHarness(t)
	files := map[string]string{
		"index.html":        "<p>root</p>",
		"docs/index.html":   "<p>docs</p>",
		"assets/app.js":     "console.log(1)",
		"assets/img/a.json": `{"a":1}`,
	}
	h.cloner.set(siteURL, files)

	_, err := h.orch.Build(t.Context(), "p1", siteURL)
	require.NoError(t, err)

	for rel, content := range files {
		data, ok := h.orch.Serve("p1", rel)
		require.True(t, ok, rel)
		assert.Equal(t, content, string(data), rel)
	}
	data, ok := h.orch.Serve("p1", "docs/")
	require.True(t, ok)
	assert.Equal(t, "<p>docs</p>", string(data))
}

func TestBuild_ReactTakesPriorityOverIndexHTML(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(reactURL, map[string]string{
		"package.json": `{"dependencies":{"react":"^18.0.0"}}`,
		"index.html":   "<div id=root></div>",
	})
	h.runner.on("npm run build", emitsTo("dist", map[string]string{"index.html": "<p>built</p>"}))

	rec, err := h.orch.Build(t.Context(), "p1", reactURL)
	require.NoError(t, err)

	assert.Equal(t, []string{"npm install", "npm run build"}, h.runner.commands())
	stored := h.store.record(rec.ID)
	assert.Contains(t, stored.Logs, "Building React project...\n")
	assert.Contains(t, stored.Logs, "npm install ok\n")
	assert.Contains(t, stored.Logs, "Copied build output from ")
	assert.Contains(t, stored.Logs, "dist")

	data, ok := h.orch.Serve("p1", "index.html")
	require.True(t, ok)
	assert.Equal(t, "<p>built</p>", string(data))
}

func TestBuild_ReactPrefersBuildOverDist(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(reactURL, map[string]string{
		"package.json": `{"devDependencies":{"@types/react":"^18.0.0"}}`,
	})
	h.runner.on("npm run build", func(ctx context.Context, dir string) (string, error) {
		if _, err := emitsTo("dist", map[string]string{"index.html": "dist"})(ctx, dir); err != nil {
			return "", err
		}
		return emitsTo("build", map[string]string{"index.html": "build"})(ctx, dir)
	})

	_, err := h.orch.Build(t.Context(), "p1", reactURL)
	require.NoError(t, err)

	data, ok := h.orch.Serve("p1", "")
	require.True(t, ok)
	assert.Equal(t, "build", string(data))
}

func TestBuild_MalformedManifestFallsBackToStatic(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(siteURL, map[string]string{
		"package.json": `{"dependencies": {"react": `,
		"index.html":   "static",
	})

	rec, err := h.orch.Build(t.Context(), "p1", siteURL)
	require.NoError(t, err)
	assert.Empty(t, h.runner.commands())
	assert.Contains(t, h.store.record(rec.ID).Logs, "Copying static files...")
}

func TestBuild_NonZeroExitFailsRecord(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(reactURL, map[string]string{"package.json": `{"dependencies":{"react":"18"}}`})
	h.runner.on("npm install", exitsWith(1, "npm ERR! missing script\n"))

	rec, err := h.orch.Build(t.Context(), "p1", reactURL)
	require.Error(t, err)
	require.NotNil(t, rec)

	var bt *BuildToolFailure
	require.ErrorAs(t, err, &bt)
	assert.Equal(t, 1, bt.ExitCode)
	assert.Equal(t, "npm ERR! missing script\n", bt.Output)

	stored := h.store.record(rec.ID)
	assert.Equal(t, prototype.BuildFailed, stored.Status)
	assert.Equal(t, prototype.KindBuildTool, stored.ErrorKind)
	assert.Contains(t, stored.Error, "npm failed with exit code 1")
	assert.Contains(t, stored.Logs, "npm ERR! missing script")
	assert.Equal(t, prototype.StatusFailed, h.store.status("p1"))
	assert.Equal(t, []string{"npm install"}, h.runner.commands(), "build step skipped after install failure")

	_, statErr := os.Stat(h.layout.OutputDir("p1"))
	assert.True(t, os.IsNotExist(statErr), "no output tree after a failed first build")
	_, ok := h.orch.Serve("p1", "")
	assert.False(t, ok)
	assert.Equal(t, EventFailed, h.events.types()[len(h.events.types())-1])
}

func TestBuild_UnknownProjectIsUnsupported(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(siteURL, map[string]string{"README.md": "# nothing to build"})

	rec, err := h.orch.Build(t.Context(), "p1", siteURL)
	var ue *UnsupportedProjectTypeError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "Unsupported project type: unknown", err.Error())
	assert.Empty(t, h.runner.commands())
	assert.Equal(t, prototype.KindUnsupported, h.store.record(rec.ID).ErrorKind)
	_, ok := h.orch.Serve("p1", "")
	assert.False(t, ok)
}

func TestBuild_MissingBuildOutput(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(reactURL, map[string]string{"package.json": `{"dependencies":{"react":"18"}}`})

	rec, err := h.orch.Build(t.Context(), "p1", reactURL)
	var one *OutputNotFoundError
	require.ErrorAs(t, err, &one)
	assert.Equal(t, "Build output directory not found (looked for /build and /dist)", h.store.record(rec.ID).Error)
	assert.Equal(t, prototype.KindOutputMissing, rec.ErrorKind)
}

func TestBuild_CloneFailure(t *testing.T) {
	h := newHarness(t)

	rec, err := h.orch.Build(t.Context(), "p1", "https://github.com/acme/missing")
	var cf *CloneFailure
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, prototype.KindClone, rec.ErrorKind)
	assert.Equal(t, prototype.StatusFailed, h.store.status("p1"))
	assert.True(t, ferrors.HasCategory(Classify(err), ferrors.CategoryNotFound))
}

func TestBuild_SequentialBuildsReplaceOutput(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(siteURL, map[string]string{"index.html": "v1", "old.txt": "stale"})
	first, err := h.orch.Build(t.Context(), "p1", siteURL)
	require.NoError(t, err)

	h.cloner.set(siteURL, map[string]string{"index.html": "v2"})
	second, err := h.orch.Build(t.Context(), "p1", siteURL)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, prototype.BuildSuccess, h.store.record(first.ID).Status)
	assert.Equal(t, prototype.BuildSuccess, h.store.record(second.ID).Status)

	data, ok := h.orch.Serve("p1", "")
	require.True(t, ok)
	assert.Equal(t, "v2", string(data))
	_, ok = h.orch.Serve("p1", "old.txt")
	assert.False(t, ok, "output tree is replaced, not merged")
}

func TestBuild_FailureKeepsPreviousOutput(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(siteURL, map[string]string{"index.html": "good"})
	_, err := h.orch.Build(t.Context(), "p1", siteURL)
	require.NoError(t, err)

	h.cloner.set(siteURL, map[string]string{"notes.txt": "nothing servable"})
	_, err = h.orch.Build(t.Context(), "p1", siteURL)
	require.Error(t, err)

	data, ok := h.orch.Serve("p1", "")
	require.True(t, ok)
	assert.Equal(t, "good", string(data))
}

func TestBuild_RejectsConcurrentBuild(t *testing.T) {
	locker := lease.NewLocal()
	h := newHarness(t, WithLocker(locker))
	held, err := locker.TryAcquire(t.Context(), "p1")
	require.NoError(t, err)

	rec, err := h.orch.Build(t.Context(), "p1", siteURL)
	assert.Nil(t, rec)
	require.ErrorIs(t, err, ErrBuildInProgress)
	assert.Empty(t, h.store.records, "no record written for a rejected build")
	assert.True(t, ferrors.HasCategory(Classify(err), ferrors.CategoryConflict))
	assert.True(t, h.orch.Building(t.Context(), "p1"))

	require.NoError(t, held.Release(t.Context()))
	h.cloner.set(siteURL, map[string]string{"index.html": "ok"})
	_, err = h.orch.Build(t.Context(), "p1", siteURL)
	require.NoError(t, err)
	assert.False(t, h.orch.Building(t.Context(), "p1"))
}

func TestBuild_StepTimeout(t *testing.T) {
	s := DefaultSettings()
	s.StepTimeout = 20 * time.Millisecond
	h := newHarness(t, WithSettings(s))
	h.cloner.set(reactURL, map[string]string{"package.json": `{"dependencies":{"react":"18"}}`})
	h.runner.on("npm install", func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", &process.TimeoutError{Command: "npm", Elapsed: s.StepTimeout, Output: "partial\n"}
	})

	rec, err := h.orch.Build(t.Context(), "p1", reactURL)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "install", te.Stage)
	assert.Equal(t, prototype.KindTimeout, h.store.record(rec.ID).ErrorKind)
	assert.Contains(t, h.store.record(rec.ID).Logs, "partial")
	assert.True(t, ferrors.HasCategory(Classify(err), ferrors.CategoryTimeout))
}

func TestBuild_CloneTimeout(t *testing.T) {
	s := DefaultSettings()
	s.CloneTimeout = 20 * time.Millisecond
	h := newHarness(t, WithSettings(s))
	h.cloner.block = true

	rec, err := h.orch.Build(t.Context(), "p1", siteURL)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "clone", te.Stage)
	assert.Equal(t, prototype.KindTimeout, rec.ErrorKind)
}

func TestBuild_CanceledContextStillCompletesRecord(t *testing.T) {
	h := newHarness(t)
	h.cloner.block = true
	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	rec, err := h.orch.Build(ctx, "p1", siteURL)
	var ce *CanceledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, prototype.BuildFailed, h.store.record(rec.ID).Status)
	assert.Equal(t, prototype.KindCanceled, h.store.record(rec.ID).ErrorKind)
	assert.Equal(t, prototype.StatusFailed, h.store.status("p1"))
}

func TestBuild_RecordCreationFailure(t *testing.T) {
	h := newHarness(t)
	h.store.failCreate = true

	rec, err := h.orch.Build(t.Context(), "p1", siteURL)
	assert.Nil(t, rec)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, prototype.StatusPending, h.store.status("p1"), "status untouched")
	assert.Zero(t, h.cloner.calls, "nothing else happens")
}

func TestBuild_StatusFailureCompletesRecord(t *testing.T) {
	h := newHarness(t)
	h.store.failStatus = true

	rec, err := h.orch.Build(t.Context(), "p1", siteURL)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	require.NotNil(t, rec)
	assert.Equal(t, prototype.BuildFailed, h.store.record(rec.ID).Status)
	assert.Equal(t, prototype.KindPersistence, h.store.record(rec.ID).ErrorKind)
	assert.Zero(t, h.cloner.calls)
}

func TestBuild_InvalidRequest(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct{ id, url string }{
		{"", siteURL},
		{"../etc", siteURL},
		{"temp", siteURL},
		{"p1", "  "},
	} {
		rec, err := h.orch.Build(t.Context(), tc.id, tc.url)
		assert.Nil(t, rec)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation), "%q %q", tc.id, tc.url)
	}
}

func TestBuild_ReadmeAndBaseHref(t *testing.T) {
	s := DefaultSettings()
	s.InjectBaseHref = true
	renderer := readmeFunc(func(dir string) (string, bool, error) {
		data, err := os.ReadFile(filepath.Join(dir, "README.md"))
		if err != nil {
			return "", false, nil
		}
		return "<p>" + string(data) + "</p>", true, nil
	})
	h := newHarness(t, WithSettings(s))
	h.orch = NewOrchestrator(h.store, h.cloner, h.runner, h.layout, WithSettings(s), WithReadme(renderer, h.store))
	h.cloner.set(siteURL, map[string]string{
		"index.html": "<html><head><title>x</title></head><body></body></html>",
		"README.md":  "hello",
	})

	_, err := h.orch.Build(t.Context(), "p1", siteURL)
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", h.store.readmes["p1"])

	data, ok := h.orch.Serve("p1", "")
	require.True(t, ok)
	assert.Contains(t, string(data), `<base href="/prototype/p1/"/>`)
}

func TestServe_Misses(t *testing.T) {
	h := newHarness(t)
	h.cloner.set(siteURL, map[string]string{"index.html": "x", "nested/file.txt": "y"})
	_, err := h.orch.Build(t.Context(), "p1", siteURL)
	require.NoError(t, err)

	for _, rel := range []string{"missing.html", "nested/", "../p2/index.html", "../../etc/passwd"} {
		data, ok := h.orch.Serve("p1", rel)
		assert.False(t, ok, rel)
		assert.Nil(t, data, rel)
	}
	_, ok := h.orch.Serve("never-built", "")
	assert.False(t, ok)
	_, ok = h.orch.Serve("..", "")
	assert.False(t, ok)
}

func TestSettingsHotSwap(t *testing.T) {
	h := newHarness(t)
	s := h.orch.Settings()
	s.InstallCommand = []string{"pnpm", "install", "--frozen-lockfile"}
	h.orch.UpdateSettings(s)

	h.cloner.set(reactURL, map[string]string{"package.json": `{"dependencies":{"react":"18"}}`})
	h.runner.on("npm run build", emitsTo("build", map[string]string{"index.html": "ok"}))
	_, err := h.orch.Build(t.Context(), "p1", reactURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"pnpm install --frozen-lockfile", "npm run build"}, h.runner.commands())
}

type readmeFunc func(dir string) (string, bool, error)

func (f readmeFunc) Render(dir string) (string, bool, error) { return f(dir) }

func TestKindAndClassify(t *testing.T) {
	cases := []struct {
		err      error
		kind     prototype.ErrorKind
		category ferrors.ErrorCategory
	}{
		{&PersistenceError{Op: "x", Err: errStoreDown}, prototype.KindPersistence, ferrors.CategoryPersistence},
		{&BuildToolFailure{Command: "npm", ExitCode: 2, Err: errors.New("npm failed")}, prototype.KindBuildTool, ferrors.CategoryBuild},
		{&UnsupportedProjectTypeError{Type: "unknown"}, prototype.KindUnsupported, ferrors.CategoryUnsupported},
		{&TimeoutError{Stage: "build"}, prototype.KindTimeout, ferrors.CategoryTimeout},
		{&OutputNotFoundError{}, prototype.KindOutputMissing, ferrors.CategoryBuild},
		{&CanceledError{Stage: "clone", Err: context.Canceled}, prototype.KindCanceled, ferrors.CategoryRuntime},
		{errors.New("boom"), prototype.KindInternal, ferrors.CategoryInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, Kind(tc.err), tc.err.Error())
		assert.True(t, ferrors.HasCategory(Classify(tc.err), tc.category), tc.err.Error())
	}
	assert.Equal(t, prototype.KindNone, Kind(nil))
	assert.NoError(t, Classify(nil))
}
