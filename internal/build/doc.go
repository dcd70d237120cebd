// Package build runs prototype builds and serves their output.
//
// An Orchestrator owns one build attempt end to end: it opens a BuildRecord,
// moves the prototype to building, clones the repository into a scratch
// directory, detects the project type, runs the matching procedure, publishes
// the output tree and closes the record. Every collaborator is injected:
//
//	orch := build.NewOrchestrator(st, git.NewClient(), process.NewExecRunner(), layout,
//		build.WithLocker(lease.NewLocal()),
//		build.WithRecorder(recorder),
//	)
//	rec, err := orch.Build(ctx, "p1", "https://github.com/acme/site")
//
// A returning Build never leaves its record in the started state. Serve reads
// a file from the published tree of a prototype and reports a miss as
// (nil, false).
package build
