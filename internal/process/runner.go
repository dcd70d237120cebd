// Package process runs external build tools and captures their combined output.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"git.home.luguber.info/inful/protohost/internal/logfields"
)

// DefaultMaxOutput caps the captured output of one command.
const DefaultMaxOutput = 1 << 20

// Runner runs a command in dir and returns its combined stdout and stderr.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecRunner is the os/exec backed Runner. Each command runs in its own
// process group so cancellation reaches grandchildren spawned by npm scripts.
type ExecRunner struct {
	// Env is appended to the inherited environment.
	Env []string
	// MaxOutput caps captured bytes; the tail is kept. Zero means DefaultMaxOutput.
	MaxOutput int
	// WaitDelay bounds how long Wait blocks on inherited pipes after a kill.
	WaitDelay time.Duration
}

// NewExecRunner returns a runner with non-interactive defaults.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Env:       []string{"CI=true", "GIT_TERMINAL_PROMPT=0"},
		MaxOutput: DefaultMaxOutput,
		WaitDelay: 5 * time.Second,
	}
}

// Run executes name with args in dir.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmdline := commandLine(name, args)
	if err := ctx.Err(); err != nil {
		return "", &CanceledError{Command: cmdline, Err: err}
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.Env...)
	out := newTailBuffer(r.maxOutput())
	cmd.Stdout = out
	cmd.Stderr = out
	configureProcessGroup(cmd)
	cmd.WaitDelay = r.WaitDelay

	slog.Debug("Running command", logfields.Command(cmdline), logfields.Path(dir))
	start := time.Now()

	if err := cmd.Start(); err != nil {
		return "", &StartError{Command: name, Err: err}
	}
	err := cmd.Wait()
	output := out.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return output, &TimeoutError{Command: cmdline, Elapsed: time.Since(start), Output: output}
		}
		return output, &CanceledError{Command: cmdline, Output: output, Err: ctxErr}
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return output, &ExitError{Command: name, ExitCode: ee.ExitCode(), Output: output}
		}
		return output, fmt.Errorf("%s: %w", cmdline, err)
	}

	slog.Debug("Command finished", logfields.Command(cmdline), logfields.DurationMS(time.Since(start).Milliseconds()))
	return output, nil
}

func (r *ExecRunner) maxOutput() int {
	if r.MaxOutput <= 0 {
		return DefaultMaxOutput
	}
	return r.MaxOutput
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
