package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyPrototypeID = "prototype_id"
	KeyBuildID     = "build_id"
	KeyJobID       = "job_id"
	KeyJobStatus   = "job_status"
	KeyTrigger     = "trigger"
	KeyStage       = "stage"
	KeyDurationMS  = "duration_ms"
	KeyRepoURL     = "repo_url"
	KeyProjectType = "project_type"
	KeyCommand     = "command"
	KeyExitCode    = "exit_code"
	KeyPath        = "path"
	KeyWorker      = "worker"
	KeyMethod      = "method"
	KeyRequestID   = "request_id"
	KeyUser        = "user"
	KeyEvent       = "event"
	KeyScheduleID  = "schedule_id"
	KeySchedule    = "schedule_name"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func PrototypeID(id string) slog.Attr { return slog.String(KeyPrototypeID, id) }
func BuildID(id string) slog.Attr { return slog.String(KeyBuildID, id) }
func JobID(id string) slog.Attr { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr { return slog.String(KeyJobStatus, s) }
func Trigger(t string) slog.Attr { return slog.String(KeyTrigger, t) }
func Stage(name string) slog.Attr { return slog.String(KeyStage, name) }
func DurationMS(ms int64) slog.Attr { return slog.Int64(KeyDurationMS, ms) }
func RepoURL(u string) slog.Attr { return slog.String(KeyRepoURL, u) }
func ProjectType(t string) slog.Attr { return slog.String(KeyProjectType, t) }
func Command(c string) slog.Attr { return slog.String(KeyCommand, c) }
func ExitCode(code int) slog.Attr { return slog.Int(KeyExitCode, code) }
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }
func Worker(w string) slog.Attr { return slog.String(KeyWorker, w) }
func Method(m string) slog.Attr { return slog.String(KeyMethod, m) }
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }
func User(u string) slog.Attr { return slog.String(KeyUser, u) }
func Event(e string) slog.Attr { return slog.String(KeyEvent, e) }
func ScheduleID(id string) slog.Attr { return slog.String(KeyScheduleID, id) }
func ScheduleName(n string) slog.Attr { return slog.String(KeySchedule, n) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
