package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/protohost/internal/build"
	"git.home.luguber.info/inful/protohost/internal/config"
	"git.home.luguber.info/inful/protohost/internal/daemon"
	"git.home.luguber.info/inful/protohost/internal/prototype"
	"git.home.luguber.info/inful/protohost/internal/store"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Repo     string `arg:"" help:"GitHub repository URL"`
	ID       string `name:"id" help:"Prototype id; defaults to the prototype already tracking the repository, or a new one"`
	Name     string `name:"name" help:"Name for a newly created prototype"`
	ShowLogs bool   `name:"logs" help:"Print the build log when the build finishes"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunBuild(ctx, os.Stdout, cfg, b)
}

// RunBuild builds one prototype synchronously and reports the outcome on out.
// A failed build is returned as an error after the record is printed.
func RunBuild(ctx context.Context, out io.Writer, cfg *config.Config, b *BuildCmd) error {
	owner, repo, err := prototype.ParseGitHubURL(b.Repo)
	if err != nil {
		return err
	}
	d, err := daemon.New(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	p, err := resolvePrototype(ctx, d.Store(), b, owner, repo)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Building %s (%s)\n", p.FullName(), p.ID)
	rec, runErr := d.Orchestrator().Run(ctx, build.Request{
		PrototypeID: p.ID,
		RepoURL:     p.RepoURL,
		Trigger:     prototype.TriggerCLI,
	})
	if rec != nil {
		printRecord(out, rec)
		if b.ShowLogs && rec.Logs != "" {
			_, _ = fmt.Fprintf(out, "\n%s\n", rec.Logs)
		}
	}
	if runErr != nil {
		return fmt.Errorf("build failed: %w", runErr)
	}
	_, _ = fmt.Fprintf(out, "Output: %s\n", d.Orchestrator().Layout().OutputDir(p.ID))
	return nil
}

func resolvePrototype(ctx context.Context, st *store.SQLiteStore, b *BuildCmd, owner, repo string) (*prototype.Prototype, error) {
	if b.ID != "" {
		p, err := st.GetPrototype(ctx, b.ID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, prototype.ErrNotFound) {
			return nil, err
		}
	} else {
		matches, err := st.FindActiveByRepo(ctx, owner, repo)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}

	id := b.ID
	if id == "" {
		id = prototype.Slugify(owner + "-" + repo)
	}
	name := b.Name
	if name == "" {
		name = repo
	}
	now := time.Now().UTC()
	p := &prototype.Prototype{
		ID:        id,
		Name:      name,
		Slug:      prototype.Slugify(name),
		RepoURL:   b.Repo,
		Owner:     owner,
		RepoName:  repo,
		CreatedBy: "cli",
		CreatedAt: now,
		UpdatedAt: now,
		Active:    true,
		Status:    prototype.StatusPending,
	}
	if err := st.CreatePrototype(ctx, p); err != nil {
		return nil, fmt.Errorf("create prototype: %w", err)
	}
	return p, nil
}

func printRecord(out io.Writer, rec *prototype.BuildRecord) {
	duration := "-"
	if rec.DurationMs != nil {
		duration = (time.Duration(*rec.DurationMs) * time.Millisecond).String()
	}
	_, _ = fmt.Fprintf(out, "Build %s: %s in %s (started %s)\n",
		rec.ID, rec.Status, duration, humanize.Time(rec.StartedAt))
	if rec.CommitSHA != "" {
		_, _ = fmt.Fprintf(out, "Commit: %s %s\n", shortSHA(rec.CommitSHA), rec.CommitMessage)
	}
	if rec.Error != "" {
		_, _ = fmt.Fprintf(out, "Error (%s): %s\n", rec.ErrorKind, rec.Error)
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
