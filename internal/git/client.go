package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"git.home.luguber.info/inful/protohost/internal/logfields"
)

// CommitInfo describes the checked-out HEAD after a clone.
type CommitInfo struct {
	SHA     string
	Message string
}

// Cloner clones a repository URL into dest.
type Cloner interface {
	Clone(ctx context.Context, url, dest string) (CommitInfo, error)
}

// Client is the go-git backed Cloner.
type Client struct {
	depth    int
	token    string
	progress io.Writer
}

// Option configures a Client.
type Option func(*Client)

// WithDepth sets the clone depth; zero fetches full history.
func WithDepth(depth int) Option { return func(c *Client) { c.depth = depth } }

// WithToken authenticates HTTPS clones with a GitHub token.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithProgress receives the remote's sideband progress output.
func WithProgress(w io.Writer) Option { return func(c *Client) { c.progress = w } }

// NewClient creates a Client. Shallow single-commit clones are the default.
func NewClient(opts ...Option) *Client {
	c := &Client{depth: 1}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Clone replaces dest with a fresh checkout of url's default branch.
func (c *Client) Clone(ctx context.Context, url, dest string) (CommitInfo, error) {
	if strings.TrimSpace(url) == "" {
		return CommitInfo{}, &CloneError{URL: url, Reason: ReasonInvalidURL, Err: errors.New("empty repository url")}
	}
	if err := os.RemoveAll(dest); err != nil {
		return CommitInfo{}, fmt.Errorf("failed to remove existing directory: %w", err)
	}

	opts := &git.CloneOptions{
		URL:          url,
		Depth:        c.depth,
		SingleBranch: true,
		Tags:         git.NoTags,
		Progress:     c.progress,
		Auth:         c.auth(url),
	}

	slog.Debug("Cloning repository", logfields.RepoURL(url), logfields.Path(dest))
	start := time.Now()

	repo, err := git.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		return CommitInfo{}, classifyCloneError(ctx, url, err)
	}

	info, err := headCommit(repo)
	if err != nil {
		slog.Warn("Cloned repository has no readable HEAD commit", logfields.RepoURL(url), logfields.Error(err))
		return CommitInfo{}, nil
	}
	slog.Info("Repository cloned",
		logfields.RepoURL(url),
		slog.String("commit", shortSHA(info.SHA)),
		logfields.DurationMS(time.Since(start).Milliseconds()))
	return info, nil
}

func (c *Client) auth(url string) transport.AuthMethod {
	if c.token == "" || !strings.HasPrefix(url, "https://") {
		return nil
	}
	return &http.BasicAuth{Username: "x-access-token", Password: c.token}
}

func headCommit(repo *git.Repository) (CommitInfo, error) {
	ref, err := repo.Head()
	if err != nil {
		return CommitInfo{}, err
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return CommitInfo{SHA: ref.Hash().String()}, nil
	}
	msg, _, _ := strings.Cut(strings.TrimSpace(commit.Message), "\n")
	return CommitInfo{SHA: ref.Hash().String(), Message: msg}, nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
