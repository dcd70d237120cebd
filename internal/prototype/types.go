// Package prototype defines prototypes and their build records, the legal
// status transitions between them, and the Service behind the REST API.
package prototype

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no active prototype or record matches.
var ErrNotFound = errors.New("not found")

// Prototype is a tracked GitHub repository and its latest build state.
type Prototype struct {
	ID             string
	Name           string
	Slug           string
	Description    string
	RepoURL        string
	Owner          string
	RepoName       string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastDeployedAt *time.Time
	Active         bool
	Status         Status
	ErrorMessage   string
	WebhookID      int64
	ReadmeHTML     string
}

// URL is the hosting path the output tree is served under.
func (p *Prototype) URL() string {
	return HostingPath(p.ID)
}

// HostingPath returns /prototype/<id>/.
func HostingPath(id string) string {
	return "/prototype/" + id + "/"
}

// FullName returns owner/repo.
func (p *Prototype) FullName() string {
	return p.Owner + "/" + p.RepoName
}

// BuildStatus is the state of one BuildRecord.
type BuildStatus string

const (
	BuildStarted BuildStatus = "started"
	BuildSuccess BuildStatus = "success"
	BuildFailed  BuildStatus = "failed"
)

// ErrorKind classifies why a build failed.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindPersistence   ErrorKind = "persistence"
	KindClone         ErrorKind = "clone"
	KindBuildTool     ErrorKind = "build_tool"
	KindUnsupported   ErrorKind = "unsupported"
	KindTimeout       ErrorKind = "timeout"
	KindOutputMissing ErrorKind = "output_missing"
	KindCanceled      ErrorKind = "canceled"
	KindInterrupted   ErrorKind = "interrupted"
	KindInternal      ErrorKind = "internal"
)

// Trigger records what started a build.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerCreate  Trigger = "create"
	TriggerWebhook Trigger = "webhook"
	TriggerCLI     Trigger = "cli"
)

// BuildRecord is the audit trail of one build attempt.
type BuildRecord struct {
	ID            string
	PrototypeID   string
	CommitSHA     string
	CommitMessage string
	Status        BuildStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMs    *int64
	Logs          string
	Error         string
	ErrorKind     ErrorKind
	Trigger       Trigger
}

// Completion carries the fields written when a BuildRecord finishes.
type Completion struct {
	Success       bool
	Logs          string
	Error         string
	ErrorKind     ErrorKind
	CommitSHA     string
	CommitMessage string
}
