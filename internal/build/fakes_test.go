package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.home.luguber.info/inful/protohost/internal/git"
	"git.home.luguber.info/inful/protohost/internal/process"
	"git.home.luguber.info/inful/protohost/internal/prototype"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory Store that enforces the same transitions as the SQLite store.
type memStore struct {
	mu         sync.Mutex
	records    map[string]*prototype.BuildRecord
	order      []string
	statuses   map[string]prototype.Status
	messages   map[string]string
	readmes    map[string]string
	failCreate bool
	failStatus bool
	n          int
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{
		records:  map[string]*prototype.BuildRecord{},
		statuses: map[string]prototype.Status{},
		messages: map[string]string{},
		readmes:  map[string]string{},
	}
	for _, id := range ids {
		s.statuses[id] = prototype.StatusPending
	}
	return s
}

func (s *memStore) CreateBuildRecord(_ context.Context, prototypeID string, trigger prototype.Trigger) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return "", errStoreDown
	}
	s.n++
	id := fmt.Sprintf("rec-%d", s.n)
	s.records[id] = &prototype.BuildRecord{ID: id, PrototypeID: prototypeID, Status: prototype.BuildStarted, Trigger: trigger}
	s.order = append(s.order, id)
	return id, nil
}

func (s *memStore) CompleteBuildRecord(_ context.Context, recordID string, c prototype.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordID]
	if !ok {
		return prototype.ErrNotFound
	}
	if rec.Status != prototype.BuildStarted {
		return errors.New("record already completed")
	}
	rec.Status = prototype.BuildFailed
	if c.Success {
		rec.Status = prototype.BuildSuccess
	}
	rec.Logs = c.Logs
	rec.Error = c.Error
	rec.ErrorKind = c.ErrorKind
	rec.CommitSHA = c.CommitSHA
	rec.CommitMessage = c.CommitMessage
	return nil
}

func (s *memStore) SetPrototypeStatus(_ context.Context, id string, status prototype.Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStatus {
		return errStoreDown
	}
	from, ok := s.statuses[id]
	if !ok {
		return prototype.ErrNotFound
	}
	if err := prototype.CheckTransition(id, from, status); err != nil {
		return err
	}
	s.statuses[id] = status
	s.messages[id] = message
	return nil
}

func (s *memStore) SetReadme(_ context.Context, id, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readmes[id] = html
	return nil
}

func (s *memStore) record(id string) prototype.BuildRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

func (s *memStore) status(id string) prototype.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

func (s *memStore) startedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.Status == prototype.BuildStarted {
			n++
		}
	}
	return n
}

// fakeCloner writes a fixed file set into dest for each URL. Keys starting
// with "@" become symlinks to the value.
type fakeCloner struct {
	mu    sync.Mutex
	repos map[string]map[string]string
	err   error
	block bool
	calls int
}

func (c *fakeCloner) Clone(ctx context.Context, url, dest string) (git.CommitInfo, error) {
	c.mu.Lock()
	c.calls++
	files, ok := c.repos[url]
	err := c.err
	c.mu.Unlock()

	if c.block {
		<-ctx.Done()
		return git.CommitInfo{}, &git.CloneError{URL: url, Reason: git.ReasonCanceled, Err: ctx.Err()}
	}
	if err != nil {
		return git.CommitInfo{}, err
	}
	if !ok {
		return git.CommitInfo{}, &git.CloneError{URL: url, Reason: git.ReasonNotFound, Err: errors.New("repository not found")}
	}
	if err := writeTree(dest, files); err != nil {
		return git.CommitInfo{}, err
	}
	return git.CommitInfo{SHA: "abc123", Message: "initial commit"}, nil
}

func (c *fakeCloner) set(url string, files map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repos == nil {
		c.repos = map[string]map[string]string{}
	}
	c.repos[url] = files
}

func writeTree(root string, files map[string]string) error {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return err
	}
	for rel, content := range files {
		link := strings.HasPrefix(rel, "@")
		path := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(rel, "@")))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		if link {
			if err := os.Symlink(filepath.FromSlash(content), path); err != nil {
				return err
			}
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return err
		}
	}
	return nil
}

// fakeRunner records invocations and dispatches on the joined command line.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	handlers map[string]func(ctx context.Context, dir string) (string, error)
}

func (r *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	r.mu.Lock()
	r.calls = append(r.calls, line)
	h := r.handlers[line]
	r.mu.Unlock()
	if h == nil {
		return line + " ok\n", nil
	}
	return h(ctx, dir)
}

func (r *fakeRunner) on(line string, h func(ctx context.Context, dir string) (string, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = map[string]func(context.Context, string) (string, error){}
	}
	r.handlers[line] = h
}

func (r *fakeRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// emitsTo writes files into <dir>/<sub> to simulate a bundler.
func emitsTo(sub string, files map[string]string) func(context.Context, string) (string, error) {
	return func(_ context.Context, dir string) (string, error) {
		return "bundled\n", writeTree(filepath.Join(dir, sub), files)
	}
}

func exitsWith(code int, output string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) {
		return output, &process.ExitError{Command: "npm", ExitCode: code, Output: output}
	}
}

type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) Emit(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *eventCollector) types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventType, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}
