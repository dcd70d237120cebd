// Package metrics provides the observability hooks used by the build pipeline.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no call site needs a nil check:
//
//	orch := build.NewOrchestrator(st, cloner, runner, layout,
//		build.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// PrometheusRecorder registers its collectors on the supplied registry and
// HTTPHandler exposes that registry for scraping.
package metrics
