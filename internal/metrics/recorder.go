package metrics

import "time"

// BuildOutcomeLabel enumerates final build outcomes for counters.
type BuildOutcomeLabel string

const (
	OutcomeSuccess  BuildOutcomeLabel = "success"
	OutcomeFailed   BuildOutcomeLabel = "failed"
	OutcomeTimeout  BuildOutcomeLabel = "timeout"
	OutcomeCanceled BuildOutcomeLabel = "canceled"
	OutcomeRejected BuildOutcomeLabel = "rejected"
)

// Recorder defines observability hooks for build, queue, and webhook metrics.
// Implementations may forward to Prometheus; NoopRecorder is the default.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome BuildOutcomeLabel)
	IncProjectType(projectType string)
	ObserveCloneDuration(d time.Duration, success bool)
	SetQueueDepth(n int)
	IncBuildRetry(stage string)
	IncWebhookEvent(event string, accepted bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)         {}
func (NoopRecorder) IncBuildOutcome(BuildOutcomeLabel)          {}
func (NoopRecorder) IncProjectType(string)                      {}
func (NoopRecorder) ObserveCloneDuration(time.Duration, bool)   {}
func (NoopRecorder) SetQueueDepth(int)                          {}
func (NoopRecorder) IncBuildRetry(string)                       {}
func (NoopRecorder) IncWebhookEvent(string, bool)               {}
