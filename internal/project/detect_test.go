package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repoWith(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  Type
	}{
		{
			name:  "react dependency",
			files: map[string]string{"package.json": `{"dependencies":{"react":"^18.2.0"}}`},
			want:  TypeReact,
		},
		{
			name:  "react types in devDependencies",
			files: map[string]string{"package.json": `{"devDependencies":{"@types/react":"^18"}}`},
			want:  TypeReact,
		},
		{
			name: "react wins over index.html",
			files: map[string]string{
				"package.json": `{"dependencies":{"react":"^18.2.0"}}`,
				"index.html":   "<html></html>",
			},
			want: TypeReact,
		},
		{
			name: "unparseable manifest falls back to static",
			files: map[string]string{
				"package.json": `{"dependencies": {`,
				"index.html":   "<html></html>",
			},
			want: TypeStatic,
		},
		{
			name: "non-react manifest with index.html",
			files: map[string]string{
				"package.json": `{"dependencies":{"vue":"^3"}}`,
				"index.html":   "<html></html>",
			},
			want: TypeStatic,
		},
		{
			name:  "plain static site",
			files: map[string]string{"index.html": "<html></html>", "style.css": "body{}"},
			want:  TypeStatic,
		},
		{
			name:  "nothing recognizable",
			files: map[string]string{"main.go": "package main"},
			want:  TypeUnknown,
		},
		{
			name:  "unparseable manifest only",
			files: map[string]string{"package.json": "not json"},
			want:  TypeUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(repoWith(t, tt.files))
			assert.Equal(t, tt.want, got.Type)
		})
	}
}

func TestDetect_ReportsManifestError(t *testing.T) {
	d := Detect(repoWith(t, map[string]string{"package.json": "[1,2", "index.html": "x"}))
	var me *ManifestError
	require.ErrorAs(t, d.ManifestErr, &me)
	assert.Equal(t, TypeStatic, d.Type)
}

func TestDetect_PackageManager(t *testing.T) {
	d := Detect(repoWith(t, map[string]string{
		"package.json": `{"dependencies":{"react":"18"}}`,
		"yarn.lock":    "",
	}))
	assert.Equal(t, "yarn", d.PackageManager)
}

func TestParseManifest_TypedError(t *testing.T) {
	_, err := ParseManifest("package.json", []byte(`{"dependencies":["react"]}`))
	var me *ManifestError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "package.json", me.Path)

	m, err := ParseManifest("package.json", []byte(`{"scripts":{"build":"vite build"},"dependencies":{"react":"18"}}`))
	require.NoError(t, err)
	assert.Equal(t, "vite build", m.Scripts["build"])
	assert.True(t, m.HasDependency("react"))
	assert.False(t, m.HasDependency("vue"))
}
