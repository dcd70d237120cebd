// Package workspace owns the on-disk layout of the build-artifacts root:
// scratch clones under <root>/temp/<id>/ and served output trees under <root>/<id>/.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"git.home.luguber.info/inful/protohost/internal/logfields"
)

const (
	tempDirName  = "temp"
	stageSuffix  = ".out"
	retireSuffix = ".old"
)

// ErrInvalidID is returned for prototype ids that cannot be used as a path component.
var ErrInvalidID = errors.New("invalid prototype id")

// Layout maps prototype ids to directories below a single artifacts root.
type Layout struct {
	root string
}

// NewLayout resolves root to an absolute path. The directory is created lazily.
func NewLayout(root string) (*Layout, error) {
	if root == "" {
		return nil, errors.New("artifacts root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifacts root: %w", err)
	}
	return &Layout{root: abs}, nil
}

// Root returns the absolute artifacts root.
func (l *Layout) Root() string { return l.root }

// TempRoot returns <root>/temp.
func (l *Layout) TempRoot() string { return filepath.Join(l.root, tempDirName) }

// TempDir returns the scratch clone directory for id.
func (l *Layout) TempDir(id string) string { return filepath.Join(l.TempRoot(), id) }

// StagingDir returns the directory a new output tree is assembled in before publish.
func (l *Layout) StagingDir(id string) string { return filepath.Join(l.TempRoot(), id+stageSuffix) }

// OutputDir returns the served output tree for id.
func (l *Layout) OutputDir(id string) string { return filepath.Join(l.root, id) }

// ValidateID rejects ids that would escape the root or collide with the temp directory.
func ValidateID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case id == tempDirName:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`), strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	}
	return nil
}

// PrepareTemp removes any previous scratch directory for id and returns a
// fresh path whose parent exists. The leaf itself is left for the cloner to create.
func (l *Layout) PrepareTemp(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	dir := l.TempDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear temp directory: %w", err)
	}
	if err := os.MkdirAll(l.TempRoot(), 0o750); err != nil {
		return "", fmt.Errorf("failed to create temp root: %w", err)
	}
	return dir, nil
}

// PrepareStaging returns an empty staging directory for id.
func (l *Layout) PrepareStaging(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	dir := l.StagingDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

// Cleanup removes the scratch and staging directories for id. Errors are
// logged and returned; callers treat them as non-fatal.
func (l *Layout) Cleanup(id string) error {
	var errs []error
	for _, dir := range []string{l.TempDir(id), l.StagingDir(id)} {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove temp directory", logfields.PrototypeID(id), logfields.Path(dir), logfields.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publish swaps the staged tree in as the output tree for id. The previous
// tree is renamed aside first and removed after the swap.
func (l *Layout) Publish(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	staged := l.StagingDir(id)
	if _, err := os.Stat(staged); err != nil {
		return fmt.Errorf("staged output missing: %w", err)
	}
	out := l.OutputDir(id)
	retired := filepath.Join(l.TempRoot(), id+retireSuffix)
	if err := os.RemoveAll(retired); err != nil {
		return fmt.Errorf("failed to clear retired output: %w", err)
	}

	hadPrevious := false
	if _, err := os.Stat(out); err == nil {
		if err := os.Rename(out, retired); err != nil {
			return fmt.Errorf("failed to retire previous output: %w", err)
		}
		hadPrevious = true
	}

	if err := os.Rename(staged, out); err != nil {
		if hadPrevious {
			if rerr := os.Rename(retired, out); rerr != nil {
				slog.Error("Failed to restore previous output", logfields.PrototypeID(id), logfields.Error(rerr))
			}
		}
		return fmt.Errorf("failed to publish output: %w", err)
	}

	if hadPrevious {
		if err := os.RemoveAll(retired); err != nil {
			slog.Warn("Failed to remove retired output", logfields.PrototypeID(id), logfields.Error(err))
		}
	}
	return nil
}

// Resolve maps a request path to a file inside the output tree for id.
// Symlinks are resolved within the tree so the result never leaves it.
// Empty paths and directories resolve to index.html inside that directory.
func (l *Layout) Resolve(id, relPath string) (string, bool) {
	if ValidateID(id) != nil {
		return "", false
	}
	base := l.OutputDir(id)
	rel := strings.TrimPrefix(filepath.FromSlash(relPath), string(filepath.Separator))

	target, err := securejoin.SecureJoin(base, rel)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(target)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		target = filepath.Join(target, "index.html")
		info, err = os.Stat(target)
		if err != nil || info.IsDir() {
			return "", false
		}
	}
	return target, true
}

// SweepStale removes entries under the temp root older than maxAge, skipping
// ids in active. It returns the number of entries removed.
func (l *Layout) SweepStale(maxAge time.Duration, active func(id string) bool) (int, error) {
	entries, err := os.ReadDir(l.TempRoot())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read temp root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		id := strings.TrimSuffix(strings.TrimSuffix(e.Name(), stageSuffix), retireSuffix)
		if active != nil && active(id) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(l.TempRoot(), e.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Debug("Removed stale temp entry", logfields.Path(path))
		removed++
	}
	return removed, errors.Join(errs...)
}
