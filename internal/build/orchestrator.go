package build

import (
	"context"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/protohost/internal/git"
	"git.home.luguber.info/inful/protohost/internal/lease"
	"git.home.luguber.info/inful/protohost/internal/metrics"
	"git.home.luguber.info/inful/protohost/internal/process"
	"git.home.luguber.info/inful/protohost/internal/prototype"
	"git.home.luguber.info/inful/protohost/internal/workspace"
)

// Store is the slice of the prototype store a build needs.
type Store interface {
	CreateBuildRecord(ctx context.Context, prototypeID string, trigger prototype.Trigger) (string, error)
	CompleteBuildRecord(ctx context.Context, recordID string, c prototype.Completion) error
	SetPrototypeStatus(ctx context.Context, prototypeID string, status prototype.Status, message string) error
}

// ReadmeRenderer turns the README of a checked-out repository into HTML.
// ok is false when the repository has no README.
type ReadmeRenderer interface {
	Render(dir string) (html string, ok bool, err error)
}

// ReadmeSink stores rendered README HTML for a prototype.
type ReadmeSink interface {
	SetReadme(ctx context.Context, prototypeID, html string) error
}

// Publisher mirrors a published output tree somewhere else.
type Publisher interface {
	Publish(ctx context.Context, prototypeID, dir string) error
}

// Settings are the tunables of a build. They can be swapped at runtime.
type Settings struct {
	CloneTimeout   time.Duration
	StepTimeout    time.Duration
	InstallCommand []string
	BuildCommand   []string
	OutputDirs     []string
	InjectBaseHref bool
	MaxLogBytes    int
}

// DefaultSettings mirrors the config defaults.
func DefaultSettings() Settings {
	return Settings{
		CloneTimeout:   5 * time.Minute,
		StepTimeout:    15 * time.Minute,
		InstallCommand: []string{"npm", "install"},
		BuildCommand:   []string{"npm", "run", "build"},
		OutputDirs:     []string{"build", "dist"},
		MaxLogBytes:    1 << 20,
	}
}

// Orchestrator runs builds and serves their output.
type Orchestrator struct {
	store    Store
	cloner   git.Cloner
	runner   process.Runner
	layout   *workspace.Layout
	locker   lease.Locker
	events   EventSink
	recorder metrics.Recorder
	readme   ReadmeRenderer
	readmes  ReadmeSink
	mirror   Publisher
	now      func() time.Time
	settings atomic.Pointer[Settings]
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker replaces the in-process lease map.
func WithLocker(l lease.Locker) Option { return func(o *Orchestrator) { o.locker = l } }

// WithEvents sets the sink that receives lifecycle events.
func WithEvents(s EventSink) Option { return func(o *Orchestrator) { o.events = s } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithReadme enables README rendering after a successful build.
func WithReadme(r ReadmeRenderer, sink ReadmeSink) Option {
	return func(o *Orchestrator) {
		o.readme = r
		o.readmes = sink
	}
}

// WithPublisher mirrors every published tree.
func WithPublisher(p Publisher) Option { return func(o *Orchestrator) { o.mirror = p } }

// WithSettings overrides DefaultSettings.
func WithSettings(s Settings) Option { return func(o *Orchestrator) { o.settings.Store(&s) } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// NewOrchestrator wires the required collaborators. Optional ones default to no-ops.
func NewOrchestrator(st Store, cloner git.Cloner, runner process.Runner, layout *workspace.Layout, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		cloner:   cloner,
		runner:   runner,
		layout:   layout,
		locker:   lease.NewLocal(),
		recorder: metrics.NoopRecorder{},
		now:      time.Now,
	}
	defaults := DefaultSettings()
	o.settings.Store(&defaults)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Settings returns the settings the next build will use.
func (o *Orchestrator) Settings() Settings {
	return *o.settings.Load()
}

// UpdateSettings swaps the settings for subsequent builds. Running builds keep theirs.
func (o *Orchestrator) UpdateSettings(s Settings) {
	o.settings.Store(&s)
}

// Layout exposes the artifacts layout.
func (o *Orchestrator) Layout() *workspace.Layout { return o.layout }

// Building reports whether a build currently holds the lease for id.
func (o *Orchestrator) Building(ctx context.Context, id string) bool {
	held, err := o.locker.Held(ctx, id)
	return err == nil && held
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	if o.events == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = o.now()
	}
	if err := o.events.Emit(context.WithoutCancel(ctx), ev); err != nil {
		warnContext(ctx, "Failed to emit build event", err)
	}
}
