// Package queue runs prototype builds asynchronously on a fixed worker pool.
package queue

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/protohost/internal/build"
	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
	"git.home.luguber.info/inful/protohost/internal/logfields"
	"git.home.luguber.info/inful/protohost/internal/metrics"
	"git.home.luguber.info/inful/protohost/internal/prototype"
	"git.home.luguber.info/inful/protohost/internal/retry"
)

var (
	// ErrQueueFull is returned when the job channel is at capacity.
	ErrQueueFull = ferrors.NewError(ferrors.CategoryRuntime, "build queue is full").Retryable().Build()
	// ErrAlreadyQueued is returned when the prototype already has a queued or running job.
	ErrAlreadyQueued = ferrors.ConflictError("a build for this prototype is already queued").Build()
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = ferrors.NewError(ferrors.CategoryRuntime, "build queue is stopped").Build()
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// BuildJob is one queued build request.
type BuildJob struct {
	ID          string            `json:"id"`
	PrototypeID string            `json:"prototypeId"`
	RepoURL     string            `json:"repoUrl"`
	Trigger     prototype.Trigger `json:"trigger"`
	Status      JobStatus         `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Duration    time.Duration     `json:"duration,omitempty"`
	Error       string            `json:"error,omitempty"`
	RecordIDs   []string          `json:"recordIds,omitempty"`
	Retries     int               `json:"retries,omitempty"`

	cancel context.CancelFunc
}

// Builder executes one build. *build.Orchestrator implements it.
type Builder interface {
	Run(ctx context.Context, req build.Request) (*prototype.BuildRecord, error)
}

// BuildQueue manages the queue of build jobs.
type BuildQueue struct {
	jobs        chan *BuildJob
	workers     int
	maxSize     int
	mu          sync.RWMutex
	active      map[string]*BuildJob
	queued      map[string]*BuildJob
	pending     map[string]string // prototype id -> job id, queued or running
	history     []*BuildJob
	historySize int
	stopChan    chan struct{}
	stopOnce    sync.Once
	stopped     bool
	wg          sync.WaitGroup
	builder     Builder

	retryPolicy retry.Policy
	recorder    metrics.Recorder
	newID       func() string
}

// New creates a new build queue with the specified size, worker count, and builder.
func New(maxSize, workers int, builder Builder) *BuildQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if builder == nil {
		panic("queue.New: builder is required")
	}

	return &BuildQueue{
		jobs:        make(chan *BuildJob, maxSize),
		workers:     workers,
		maxSize:     maxSize,
		active:      make(map[string]*BuildJob),
		queued:      make(map[string]*BuildJob),
		pending:     make(map[string]string),
		history:     make([]*BuildJob, 0),
		historySize: 50,
		stopChan:    make(chan struct{}),
		builder:     builder,
		retryPolicy: retry.DefaultPolicy(),
		recorder:    metrics.NoopRecorder{},
		newID:       uuid.NewString,
	}
}

// ConfigureRetry replaces the retry policy. Call before Start.
func (bq *BuildQueue) ConfigureRetry(p retry.Policy) {
	bq.retryPolicy = p
}

// SetRecorder injects a metrics recorder for queue depth and retries.
func (bq *BuildQueue) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	bq.recorder = r
}

// Start begins processing jobs with the configured number of workers.
func (bq *BuildQueue) Start(ctx context.Context) {
	slog.Info("Starting build queue", slog.Int("workers", bq.workers), slog.Int("max_size", bq.maxSize))
	for i := range bq.workers {
		bq.wg.Add(1)
		go bq.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop cancels running jobs and waits for the workers to exit. Queued jobs are dropped.
func (bq *BuildQueue) Stop(_ context.Context) {
	bq.stopOnce.Do(func() {
		bq.mu.Lock()
		bq.stopped = true
		close(bq.stopChan)
		for _, job := range bq.active {
			if job.cancel != nil {
				job.cancel()
			}
		}
		bq.mu.Unlock()
	})
	bq.wg.Wait()
}

// Length returns the current queue length.
func (bq *BuildQueue) Length() int {
	return len(bq.jobs)
}

// GetActiveJobs returns copies of the currently running jobs.
func (bq *BuildQueue) GetActiveJobs() []*BuildJob {
	bq.mu.RLock()
	defer bq.mu.RUnlock()

	active := make([]*BuildJob, 0, len(bq.active))
	for _, job := range bq.active {
		cp := *job
		active = append(active, &cp)
	}
	return active
}

// Enqueue schedules a build and returns its job id.
func (bq *BuildQueue) Enqueue(_ context.Context, req prototype.BuildRequest) (string, error) {
	if req.PrototypeID == "" {
		return "", ferrors.ValidationError("prototype id is required").Build()
	}
	if req.RepoURL == "" {
		return "", ferrors.ValidationError("repository URL is required").Build()
	}

	bq.mu.Lock()
	defer bq.mu.Unlock()
	if bq.stopped {
		return "", ErrStopped
	}
	if existing, ok := bq.pending[req.PrototypeID]; ok {
		return existing, ErrAlreadyQueued
	}

	job := &BuildJob{
		ID:          bq.newID(),
		PrototypeID: req.PrototypeID,
		RepoURL:     req.RepoURL,
		Trigger:     req.Trigger,
		Status:      JobQueued,
		CreatedAt:   time.Now(),
	}
	select {
	case bq.jobs <- job:
		bq.pending[req.PrototypeID] = job.ID
		bq.queued[job.ID] = job
		bq.recorder.SetQueueDepth(len(bq.jobs))
		slog.Info("Build queued", logfields.JobID(job.ID), logfields.PrototypeID(job.PrototypeID),
			logfields.Trigger(string(job.Trigger)))
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// JobSnapshot returns a copy of a job (running, queued, then history).
func (bq *BuildQueue) JobSnapshot(id string) (*BuildJob, bool) {
	bq.mu.RLock()
	defer bq.mu.RUnlock()

	if j, ok := bq.active[id]; ok {
		cp := *j
		return &cp, true
	}
	if j, ok := bq.queued[id]; ok {
		cp := *j
		return &cp, true
	}
	for _, j := range bq.history {
		if j.ID == id {
			cp := *j
			return &cp, true
		}
	}
	return nil, false
}

func (bq *BuildQueue) worker(ctx context.Context, workerID string) {
	defer bq.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-bq.stopChan:
			return
		case job := <-bq.jobs:
			if job != nil {
				bq.recorder.SetQueueDepth(len(bq.jobs))
				bq.processJob(ctx, job, workerID)
			}
		}
	}
}

func (bq *BuildQueue) processJob(ctx context.Context, job *BuildJob, workerID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	startTime := time.Now()
	bq.mu.Lock()
	job.cancel = cancel
	job.StartedAt = &startTime
	job.Status = JobRunning
	delete(bq.queued, job.ID)
	bq.active[job.ID] = job
	bq.mu.Unlock()

	slog.Info("Build job started", logfields.JobID(job.ID), logfields.PrototypeID(job.PrototypeID),
		logfields.Worker(workerID))

	err := bq.executeBuild(jobCtx, job)
	bq.markJobCompleted(job, err)
}

func (bq *BuildQueue) markJobCompleted(job *BuildJob, err error) {
	endTime := time.Now()
	bq.mu.Lock()
	defer bq.mu.Unlock()

	job.CompletedAt = &endTime
	if job.StartedAt != nil {
		job.Duration = endTime.Sub(*job.StartedAt)
	}
	job.cancel = nil
	delete(bq.active, job.ID)
	if bq.pending[job.PrototypeID] == job.ID {
		delete(bq.pending, job.PrototypeID)
	}
	switch {
	case err == nil:
		job.Status = JobCompleted
	case stdErrors.Is(err, context.Canceled) || build.Kind(err) == prototype.KindCanceled:
		job.Status = JobCanceled
		job.Error = err.Error()
	default:
		job.Status = JobFailed
		job.Error = err.Error()
	}
	bq.addToHistory(job)

	slog.Info("Build job finished", logfields.JobID(job.ID), logfields.PrototypeID(job.PrototypeID),
		logfields.JobStatus(string(job.Status)), logfields.DurationMS(job.Duration.Milliseconds()))
}

func (bq *BuildQueue) addToHistory(job *BuildJob) {
	bq.history = append(bq.history, job)
	if len(bq.history) > bq.historySize {
		copy(bq.history, bq.history[len(bq.history)-bq.historySize:])
		bq.history = bq.history[:bq.historySize]
	}
}

// executeBuild runs the builder, retrying transient failures per the retry policy.
// Each attempt produces its own build record.
func (bq *BuildQueue) executeBuild(ctx context.Context, job *BuildJob) error {
	policy := bq.retryPolicy
	if policy.Initial <= 0 {
		policy = retry.DefaultPolicy()
	}
	req := build.Request{PrototypeID: job.PrototypeID, RepoURL: job.RepoURL, Trigger: job.Trigger}

	for attempt := 1; ; attempt++ {
		rec, err := bq.builder.Run(ctx, req)
		if rec != nil {
			bq.mu.Lock()
			job.RecordIDs = append(job.RecordIDs, rec.ID)
			bq.mu.Unlock()
		}
		if err == nil {
			return nil
		}

		classified := build.Classify(err)
		if !retry.IsTransient(classified) || job.Retries >= policy.MaxRetries || ctx.Err() != nil {
			return err
		}

		bq.mu.Lock()
		job.Retries++
		retries := job.Retries
		bq.mu.Unlock()
		stage := string(build.Kind(err))
		bq.recorder.IncBuildRetry(stage)
		slog.Warn("Transient build error, retrying",
			logfields.JobID(job.ID),
			slog.Int("attempt", attempt),
			slog.Int("retry", retries),
			slog.Int("max_retries", policy.MaxRetries),
			logfields.Stage(stage),
			slog.Duration("delay", policy.Delay(retries)),
			logfields.Error(err),
		)
		if werr := policy.Wait(ctx, retries); werr != nil {
			return werr
		}
	}
}
