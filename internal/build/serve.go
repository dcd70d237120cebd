package build

import (
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultContentType = "application/octet-stream"

// webTypes pins the types of common web assets so responses do not depend on
// the host's mime tables.
var webTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "text/javascript; charset=utf-8",
	".mjs":   "text/javascript; charset=utf-8",
	".json":  "application/json",
	".map":   "application/json",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".txt":   "text/plain; charset=utf-8",
	".xml":   "application/xml",
	".wasm":  "application/wasm",
	".pdf":   "application/pdf",
}

// File is a resolved file from a published output tree.
type File struct {
	Path        string
	Data        []byte
	ContentType string
	ModTime     time.Time
}

// Serve returns the bytes of relPath inside the output tree of prototypeID.
// Missing files, directories without index.html, escaping paths and read
// errors are all reported as (nil, false).
func (o *Orchestrator) Serve(prototypeID, relPath string) ([]byte, bool) {
	f, ok := o.ServeFile(prototypeID, relPath)
	if !ok {
		return nil, false
	}
	return f.Data, true
}

// ServeFile is Serve plus the resolved path, content type and modification time.
func (o *Orchestrator) ServeFile(prototypeID, relPath string) (*File, bool) {
	path, ok := o.layout.Resolve(prototypeID, relPath)
	if !ok {
		return nil, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return &File{Path: path, Data: data, ContentType: ContentType(path), ModTime: info.ModTime()}, true
}

// ContentType derives a MIME type from the extension of path.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return defaultContentType
	}
	if t, ok := webTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return defaultContentType
}
