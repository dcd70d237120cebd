package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestFile is the dependency manifest read at the repository root.
const ManifestFile = "package.json"

// Manifest is the subset of package.json used for classification.
type Manifest struct {
	Name            string            `json:"name"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// HasDependency reports whether name appears in dependencies or devDependencies.
func (m *Manifest) HasDependency(name string) bool {
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.DevDependencies[name]
	return ok
}

// ManifestError reports a manifest that exists but cannot be decoded.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// ParseManifest decodes package.json content. Dependency maps must be
// objects of strings; anything else is a *ManifestError.
func ParseManifest(path string, data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}
	return &m, nil
}

// ReadManifest loads and parses <dir>/package.json. A missing file is
// returned as an fs.ErrNotExist error.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(path, data)
}
