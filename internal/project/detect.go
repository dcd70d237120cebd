// Package project classifies a checked-out repository into the build
// procedure it needs.
package project

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/protohost/internal/logfields"
)

// Type is the detected project kind.
type Type string

const (
	TypeReact   Type = "react"
	TypeStatic  Type = "static"
	TypeUnknown Type = "unknown"
)

// EntryFile is the conventional static entry point.
const EntryFile = "index.html"

// reactKeys are the dependency names that mark a React project.
var reactKeys = []string{"react", "@types/react"}

// Detection is the result of Detect.
type Detection struct {
	Type Type
	// PackageManager is inferred from lockfiles; informational only.
	PackageManager string
	// ManifestErr is set when a manifest exists but could not be parsed.
	ManifestErr error
}

// Detect classifies the repository at dir:
//  1. package.json listing react or @types/react -> react
//  2. index.html at the root -> static
//  3. otherwise unknown
//
// Manifest read or parse errors are treated as an absent manifest.
func Detect(dir string) Detection {
	d := Detection{Type: TypeUnknown}

	m, err := ReadManifest(dir)
	switch {
	case err == nil:
		d.PackageManager = packageManager(dir)
		for _, key := range reactKeys {
			if m.HasDependency(key) {
				d.Type = TypeReact
				return d
			}
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		d.ManifestErr = err
		slog.Warn("Ignoring unreadable manifest", logfields.Path(dir), logfields.Error(err))
	}

	if isFile(filepath.Join(dir, EntryFile)) {
		d.Type = TypeStatic
	}
	return d
}

func packageManager(dir string) string {
	switch {
	case isFile(filepath.Join(dir, "pnpm-lock.yaml")):
		return "pnpm"
	case isFile(filepath.Join(dir, "yarn.lock")):
		return "yarn"
	case isFile(filepath.Join(dir, "bun.lockb")):
		return "bun"
	default:
		return "npm"
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
