package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// CopyStats summarizes a CopyTree call.
type CopyStats struct {
	Files int
	Bytes int64
	// Skipped lists source-relative symlinks that were not copied because
	// they dangle, point outside the source tree or form a cycle.
	Skipped []string
}

// CopyTree copies regular files and directories from src into dst, creating
// dst if needed. Top-level entries named in skip are left out. Symlinks that
// resolve inside src are followed and their targets copied in their place.
func CopyTree(src, dst string, skip ...string) (CopyStats, error) {
	info, err := os.Stat(src)
	if err != nil {
		return CopyStats{}, fmt.Errorf("copy source: %w", err)
	}
	if !info.IsDir() {
		return CopyStats{}, fmt.Errorf("copy source %s is not a directory", src)
	}
	root, err := filepath.EvalSymlinks(src)
	if err != nil {
		return CopyStats{}, fmt.Errorf("copy source: %w", err)
	}

	c := &treeCopier{root: root, skip: skip, active: map[string]bool{root: true}}
	if err := c.copyDir(root, dst, ""); err != nil {
		return c.stats, fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return c.stats, nil
}

type treeCopier struct {
	root   string
	skip   []string
	stats  CopyStats
	active map[string]bool // resolved directories currently being walked
}

// copyDir walks the real directory dir into dst. prefix is dir's path
// relative to the source root as the caller sees it.
func (c *treeCopier) copyDir(dir, dst, prefix string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		display := filepath.Join(prefix, rel)
		if prefix == "" && rel != "." && filepath.Dir(rel) == "." && slices.Contains(c.skip, d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o750)
		case d.Type().IsRegular():
			return c.copyFile(path, target)
		case d.Type()&fs.ModeSymlink != 0:
			return c.copyLink(path, target, display)
		}
		return nil
	})
}

func (c *treeCopier) copyLink(link, target, display string) error {
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil || !within(c.root, resolved) {
		c.stats.Skipped = append(c.stats.Skipped, display)
		return nil
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return err
	}
	switch {
	case info.Mode().IsRegular():
		return c.copyFile(resolved, target)
	case info.IsDir():
		parent, err := filepath.EvalSymlinks(filepath.Dir(link))
		if err != nil {
			return err
		}
		// A link to one of its own ancestors, or into a directory that is
		// already being copied, would never terminate.
		if within(resolved, parent) || c.active[resolved] {
			c.stats.Skipped = append(c.stats.Skipped, display)
			return nil
		}
		c.active[resolved] = true
		defer delete(c.active, resolved)
		return c.copyDir(resolved, target, display)
	}
	return nil
}

// within reports whether path is base or lies below it.
func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (c *treeCopier) copyFile(src, dst string) error {
	n, err := copyFile(src, dst)
	if err != nil {
		return err
	}
	c.stats.Files++
	c.stats.Bytes += n
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o200)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
