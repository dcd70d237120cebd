package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
	"git.home.luguber.info/inful/protohost/internal/lease"
	"git.home.luguber.info/inful/protohost/internal/logfields"
	"git.home.luguber.info/inful/protohost/internal/metrics"
	"git.home.luguber.info/inful/protohost/internal/observability"
	"git.home.luguber.info/inful/protohost/internal/project"
	"git.home.luguber.info/inful/protohost/internal/prototype"
	"git.home.luguber.info/inful/protohost/internal/workspace"
)

// Request identifies one build.
type Request struct {
	PrototypeID string
	RepoURL     string
	Trigger     prototype.Trigger
}

// attempt is the mutable state of one Build call.
type attempt struct {
	o        *Orchestrator
	req      Request
	rec      *prototype.BuildRecord
	settings Settings
	log      buildLog
	building bool
	detected project.Type
}

// Build runs a manual build of prototypeID from repoURL.
func (o *Orchestrator) Build(ctx context.Context, prototypeID, repoURL string) (*prototype.BuildRecord, error) {
	return o.Run(ctx, Request{PrototypeID: prototypeID, RepoURL: repoURL, Trigger: prototype.TriggerManual})
}

// Run executes the build described by req and returns its completed record.
//
// The record is nil only when the build was rejected before a record could be
// written: invalid input, a build already in progress, or a failed insert.
// Otherwise the record has reached success or failed by the time Run returns,
// and the returned error is the one that failed the build.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*prototype.BuildRecord, error) {
	if err := validateRequest(req); err != nil {
		o.recorder.IncBuildOutcome(metrics.OutcomeRejected)
		return nil, err
	}
	if req.Trigger == "" {
		req.Trigger = prototype.TriggerManual
	}
	ctx = observability.WithPrototypeID(ctx, req.PrototypeID)

	held, err := o.locker.TryAcquire(ctx, req.PrototypeID)
	if err != nil {
		o.recorder.IncBuildOutcome(metrics.OutcomeRejected)
		if errors.Is(err, lease.ErrHeld) {
			observability.WarnContext(ctx, "Build rejected, another build is running")
			return nil, fmt.Errorf("%w: %s", ErrBuildInProgress, req.PrototypeID)
		}
		return nil, fmt.Errorf("acquire build lease: %w", err)
	}
	defer func() {
		if rerr := held.Release(context.WithoutCancel(ctx)); rerr != nil {
			warnContext(ctx, "Failed to release build lease", rerr)
		}
	}()

	// Bookkeeping writes must land even when ctx is canceled mid-build.
	pctx := context.WithoutCancel(ctx)
	start := o.now()

	recID, err := o.store.CreateBuildRecord(pctx, req.PrototypeID, req.Trigger)
	if err != nil {
		o.recorder.IncBuildOutcome(metrics.OutcomeFailed)
		observability.ErrorContext(ctx, "Failed to create build record", logfields.Error(err))
		return nil, &PersistenceError{Op: "create build record", Err: err}
	}
	ctx = observability.WithBuildID(ctx, recID)

	a := &attempt{
		o:        o,
		req:      req,
		settings: o.Settings(),
		rec: &prototype.BuildRecord{
			ID:          recID,
			PrototypeID: req.PrototypeID,
			Status:      prototype.BuildStarted,
			StartedAt:   start,
			Trigger:     req.Trigger,
		},
	}
	a.log.add("Starting build process...\n")
	observability.InfoContext(ctx, "Build started", logfields.RepoURL(req.RepoURL), logfields.Trigger(string(req.Trigger)))
	o.emit(ctx, Event{Type: EventStarted, BuildID: recID, PrototypeID: req.PrototypeID, Trigger: req.Trigger,
		Data: map[string]string{"repo_url": req.RepoURL}})

	runErr := a.run(ctx)
	return a.finish(ctx, start, runErr)
}

func validateRequest(req Request) error {
	if err := workspace.ValidateID(req.PrototypeID); err != nil {
		return ferrors.ValidationError("invalid prototype id").WithCause(err).Build()
	}
	if strings.TrimSpace(req.RepoURL) == "" {
		return ferrors.ValidationError("repository URL is required").Build()
	}
	return nil
}

func (a *attempt) run(ctx context.Context) error {
	o := a.o
	id := a.req.PrototypeID

	if err := o.store.SetPrototypeStatus(context.WithoutCancel(ctx), id, prototype.StatusBuilding, ""); err != nil {
		return &PersistenceError{Op: "set prototype status", Err: err}
	}
	a.building = true

	src, err := a.clone(ctx)
	if err != nil {
		return err
	}
	if err := checkCanceled(ctx, "detect"); err != nil {
		return err
	}

	det := project.Detect(src)
	a.detected = det.Type
	o.recorder.IncProjectType(string(det.Type))
	observability.InfoContext(ctx, "Detected project type",
		logfields.ProjectType(string(det.Type)), slog.String("package_manager", det.PackageManager))
	o.emit(ctx, Event{Type: EventDetected, BuildID: a.rec.ID, PrototypeID: id,
		Data: map[string]string{"project_type": string(det.Type)}})

	var staging string
	if det.Type == project.TypeReact || det.Type == project.TypeStatic {
		staging, err = o.layout.PrepareStaging(id)
		if err != nil {
			return fmt.Errorf("prepare staging directory: %w", err)
		}
	}

	switch det.Type {
	case project.TypeReact:
		err = a.buildReact(ctx, src, staging)
	case project.TypeStatic:
		err = a.copyStatic(ctx, src, staging)
	default:
		return &UnsupportedProjectTypeError{Type: det.Type}
	}
	if err != nil {
		return err
	}

	if a.settings.InjectBaseHref {
		if err := InjectBaseHrefFile(filepath.Join(staging, project.EntryFile), prototype.HostingPath(id)); err != nil {
			warnContext(ctx, "Failed to inject base href", err)
		}
	}

	if err := checkCanceled(ctx, "publish"); err != nil {
		return err
	}
	stageStart := o.now()
	if err := o.layout.Publish(id); err != nil {
		return fmt.Errorf("publish output: %w", err)
	}
	o.recorder.ObserveStageDuration("publish", o.now().Sub(stageStart))
	o.emit(ctx, Event{Type: EventPublished, BuildID: a.rec.ID, PrototypeID: id, Stage: "publish",
		Data: map[string]string{"path": o.layout.OutputDir(id)}})

	a.afterPublish(ctx, src)
	return nil
}

func (a *attempt) clone(ctx context.Context) (string, error) {
	o := a.o
	ctx = observability.WithStage(ctx, "clone")
	dir, err := o.layout.PrepareTemp(a.req.PrototypeID)
	if err != nil {
		return "", fmt.Errorf("prepare temp directory: %w", err)
	}

	stageStart := o.now()
	cctx, cancel := withTimeout(ctx, a.settings.CloneTimeout)
	defer cancel()
	commit, err := o.cloner.Clone(cctx, a.req.RepoURL, dir)
	elapsed := o.now().Sub(stageStart)
	o.recorder.ObserveCloneDuration(elapsed, err == nil)
	o.recorder.ObserveStageDuration("clone", elapsed)
	if err != nil {
		observability.WarnContext(ctx, "Clone failed", logfields.RepoURL(a.req.RepoURL), logfields.Error(err))
		switch {
		case errors.Is(cctx.Err(), context.DeadlineExceeded):
			return "", &TimeoutError{Stage: "clone", Limit: a.settings.CloneTimeout, Err: err}
		case ctx.Err() != nil:
			return "", &CanceledError{Stage: "clone", Err: err}
		}
		return "", &CloneFailure{URL: a.req.RepoURL, Err: err}
	}

	a.rec.CommitSHA = commit.SHA
	a.rec.CommitMessage = commit.Message
	observability.InfoContext(ctx, "Repository cloned",
		slog.String("commit", commit.SHA), logfields.DurationMS(elapsed.Milliseconds()))
	o.emit(ctx, Event{Type: EventCloned, BuildID: a.rec.ID, PrototypeID: a.req.PrototypeID, Stage: "clone",
		Duration: elapsed, Data: map[string]string{"commit_sha": commit.SHA}})
	return dir, nil
}

func (a *attempt) buildReact(ctx context.Context, src, staging string) error {
	a.log.add("Building React project...\n")

	steps := []struct {
		stage string
		argv  []string
	}{
		{"install", a.settings.InstallCommand},
		{"build", a.settings.BuildCommand},
	}
	for _, step := range steps {
		if err := a.runStep(ctx, step.stage, src, step.argv); err != nil {
			return err
		}
	}

	var out string
	looked := make([]string, 0, len(a.settings.OutputDirs))
	for _, name := range a.settings.OutputDirs {
		candidate := filepath.Join(src, name)
		looked = append(looked, candidate)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			out = candidate
			break
		}
	}
	if out == "" {
		return &OutputNotFoundError{Looked: looked}
	}

	return a.copyOutput(ctx, out, staging, "Copied build output from %s to %s\n")
}

func (a *attempt) copyStatic(ctx context.Context, src, staging string) error {
	a.log.add("Copying static files...\n")
	return a.copyOutput(ctx, src, staging, "Copied static files from %s to %s\n", ".git")
}

func (a *attempt) copyOutput(ctx context.Context, from, staging, logFormat string, skip ...string) error {
	o := a.o
	ctx = observability.WithStage(ctx, "copy")
	stageStart := o.now()
	stats, err := workspace.CopyTree(from, staging, skip...)
	if err != nil {
		return fmt.Errorf("copy output: %w", err)
	}
	o.recorder.ObserveStageDuration("copy", o.now().Sub(stageStart))
	for _, link := range stats.Skipped {
		a.log.addf("Skipped symlink %s (target missing or outside the repository)\n", link)
	}
	a.log.addf(logFormat, from, o.layout.OutputDir(a.req.PrototypeID))
	observability.InfoContext(ctx, "Output staged",
		slog.Int("files", stats.Files), slog.String("size", humanize.Bytes(uint64(stats.Bytes))),
		slog.Int("skipped_links", len(stats.Skipped)))
	return nil
}

func (a *attempt) runStep(ctx context.Context, stage, dir string, argv []string) error {
	if len(argv) == 0 {
		return nil
	}
	if err := checkCanceled(ctx, stage); err != nil {
		return err
	}
	o := a.o
	ctx = observability.WithStage(ctx, stage)
	observability.InfoContext(ctx, "Running build step", logfields.Command(strings.Join(argv, " ")))

	stageStart := o.now()
	sctx, cancel := withTimeout(ctx, a.settings.StepTimeout)
	defer cancel()
	output, err := o.runner.Run(sctx, dir, argv[0], argv[1:]...)
	elapsed := o.now().Sub(stageStart)
	o.recorder.ObserveStageDuration(stage, elapsed)

	if err != nil {
		a.log.add(toolOutput(err))
		ferr := toolError(stage, a.settings.StepTimeout, err)
		var bt *BuildToolFailure
		if errors.As(ferr, &bt) {
			observability.WarnContext(ctx, "Build step failed", logfields.ExitCode(bt.ExitCode), logfields.Error(err))
		}
		return ferr
	}
	a.log.add(output)
	o.emit(ctx, Event{Type: EventStep, BuildID: a.rec.ID, PrototypeID: a.req.PrototypeID, Stage: stage,
		Duration: elapsed, Data: map[string]string{"command": strings.Join(argv, " ")}})
	return nil
}

// afterPublish runs the optional best-effort steps on a published tree.
func (a *attempt) afterPublish(ctx context.Context, src string) {
	o := a.o
	id := a.req.PrototypeID
	if o.readme != nil && o.readmes != nil {
		html, ok, err := o.readme.Render(src)
		switch {
		case err != nil:
			warnContext(ctx, "Failed to render README", err)
		case ok:
			if err := o.readmes.SetReadme(context.WithoutCancel(ctx), id, html); err != nil {
				warnContext(ctx, "Failed to store README", err)
			}
		}
	}
	if o.mirror != nil {
		if err := o.mirror.Publish(ctx, id, o.layout.OutputDir(id)); err != nil {
			warnContext(ctx, "Failed to mirror output", err)
		}
	}
}

// finish removes scratch directories and closes the record and prototype status.
func (a *attempt) finish(ctx context.Context, start time.Time, runErr error) (*prototype.BuildRecord, error) {
	o := a.o
	pctx := context.WithoutCancel(ctx)
	id := a.req.PrototypeID

	_ = o.layout.Cleanup(id)

	c := prototype.Completion{
		Success:       runErr == nil,
		Logs:          a.log.text(a.settings.MaxLogBytes),
		CommitSHA:     a.rec.CommitSHA,
		CommitMessage: a.rec.CommitMessage,
	}
	status := prototype.StatusSuccess
	message := ""
	if runErr != nil {
		c.Error = runErr.Error()
		c.ErrorKind = Kind(runErr)
		status = prototype.StatusFailed
		message = runErr.Error()
	}

	completeErr := o.store.CompleteBuildRecord(pctx, a.rec.ID, c)
	if completeErr != nil {
		observability.ErrorContext(ctx, "Failed to complete build record", logfields.Error(completeErr))
	}
	var statusErr error
	if a.building {
		statusErr = o.store.SetPrototypeStatus(pctx, id, status, message)
		if statusErr != nil {
			observability.ErrorContext(ctx, "Failed to set prototype status", logfields.Error(statusErr))
		}
	}

	end := o.now()
	duration := end.Sub(start)
	ms := max(duration.Milliseconds(), 0)
	a.rec.CompletedAt = &end
	a.rec.DurationMs = &ms
	a.rec.Logs = c.Logs
	a.rec.Error = c.Error
	a.rec.ErrorKind = c.ErrorKind
	a.rec.Status = prototype.BuildFailed
	if c.Success {
		a.rec.Status = prototype.BuildSuccess
	}

	o.recorder.ObserveBuildDuration(duration)
	o.recorder.IncBuildOutcome(outcomeLabel(c.ErrorKind))

	ev := Event{BuildID: a.rec.ID, PrototypeID: id, Trigger: a.req.Trigger, Duration: duration,
		Data: map[string]string{"project_type": string(a.detected)}}
	if runErr != nil {
		ev.Type = EventFailed
		ev.Data["error"] = c.Error
		ev.Data["error_kind"] = string(c.ErrorKind)
		observability.WarnContext(ctx, "Build failed",
			slog.String("error_kind", string(c.ErrorKind)), logfields.DurationMS(ms), logfields.Error(runErr))
	} else {
		ev.Type = EventSucceeded
		observability.InfoContext(ctx, "Build completed", logfields.DurationMS(ms))
	}
	o.emit(ctx, ev)

	switch {
	case runErr != nil:
		return a.rec, runErr
	case completeErr != nil:
		return a.rec, &PersistenceError{Op: "complete build record", Err: completeErr}
	case statusErr != nil:
		return a.rec, &PersistenceError{Op: "set prototype status", Err: statusErr}
	}
	return a.rec, nil
}

func outcomeLabel(kind prototype.ErrorKind) metrics.BuildOutcomeLabel {
	switch kind {
	case prototype.KindNone:
		return metrics.OutcomeSuccess
	case prototype.KindTimeout:
		return metrics.OutcomeTimeout
	case prototype.KindCanceled:
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeFailed
	}
}

func checkCanceled(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Stage: stage, Err: err}
		}
		return &CanceledError{Stage: stage, Err: err}
	}
	return nil
}

// withTimeout applies d unless it is zero.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func warnContext(ctx context.Context, msg string, err error) {
	observability.WarnContext(ctx, msg, logfields.Error(err))
}
