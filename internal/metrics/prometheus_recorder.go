package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "protohost"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration *prom.HistogramVec
	buildDuration prom.Histogram
	buildOutcome  *prom.CounterVec
	projectTypes  *prom.CounterVec
	cloneDuration *prom.HistogramVec
	queueDepth    prom.Gauge
	retries       *prom.CounterVec
	webhookEvents *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	// npm installs routinely take minutes, so the default buckets are too short.
	buildBuckets := []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200}

	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual build stages",
			Buckets:   buildBuckets,
		}, []string{"stage"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build duration",
			Buckets:   buildBuckets,
		}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"}),
		projectTypes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "project_types_total",
			Help:      "Detected project types",
		}, []string{"type"}),
		cloneDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "clone_duration_seconds",
			Help:      "Duration of repository clone operations",
			Buckets:   prom.DefBuckets,
		}, []string{"result"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "build_queue_depth",
			Help:      "Jobs waiting in the build queue",
		}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_retries_total",
			Help:      "Build retries after transient failures",
		}, []string{"stage"}),
		webhookEvents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "GitHub webhook deliveries by event and acceptance",
		}, []string{"event", "accepted"}),
	}
	reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.buildOutcome, pr.projectTypes,
		pr.cloneDuration, pr.queueDepth, pr.retries, pr.webhookEvents)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcomeLabel) {
	if p == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncProjectType(projectType string) {
	if p == nil {
		return
	}
	p.projectTypes.WithLabelValues(projectType).Inc()
}

func (p *PrometheusRecorder) ObserveCloneDuration(d time.Duration, success bool) {
	if p == nil {
		return
	}
	p.cloneDuration.WithLabelValues(resultLabel(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) IncBuildRetry(stage string) {
	if p == nil {
		return
	}
	p.retries.WithLabelValues(stage).Inc()
}

func (p *PrometheusRecorder) IncWebhookEvent(event string, accepted bool) {
	if p == nil {
		return
	}
	acc := "false"
	if accepted {
		acc = "true"
	}
	p.webhookEvents.WithLabelValues(event, acc).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
