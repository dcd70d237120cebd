// Package readme renders a repository README to HTML.
package readme

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// MaxSize caps the README size that is rendered.
const MaxSize = 1 << 20

var candidates = []string{"README.md", "README.markdown", "readme.md", "Readme.md", "README"}

// Renderer implements build.ReadmeRenderer with goldmark (GFM, heading ids).
// Raw HTML in the markdown is dropped.
type Renderer struct {
	md goldmark.Markdown
}

func New() *Renderer {
	return &Renderer{md: goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)}
}

// Find returns the README path at the root of dir.
func Find(dir string) (string, bool) {
	for _, name := range candidates {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p, true
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(e.Name(), "readme.md") {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

// Render converts the README in dir. ok is false when there is none.
func (r *Renderer) Render(dir string) (string, bool, error) {
	p, ok := Find(dir)
	if !ok {
		return "", false, nil
	}
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	if st.Size() > MaxSize {
		return "", false, fmt.Errorf("%s is too large to render (%d bytes)", filepath.Base(p), st.Size())
	}
	src, err := os.ReadFile(p)
	if err != nil {
		return "", false, err
	}
	out, err := r.Bytes(src)
	if err != nil {
		return "", false, err
	}
	return string(out), true, nil
}

// Bytes renders markdown source.
func (r *Renderer) Bytes(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(src, &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return buf.Bytes(), nil
}
