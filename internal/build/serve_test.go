package build

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"index.html":      "text/html; charset=utf-8",
		"a/b/APP.JS":      "text/javascript; charset=utf-8",
		"logo.svg":        "image/svg+xml",
		"font.woff2":      "font/woff2",
		"data.json":       "application/json",
		"LICENSE":         "application/octet-stream",
		"archive.unknown": "application/octet-stream",
	}
	for path, want := range cases {
		assert.Equal(t, want, ContentType(path), path)
	}
}

func TestInjectBaseHref(t *testing.T) {
	out, changed, err := InjectBaseHref([]byte(`<!doctype html><html><head><script src="/main.js"></script></head></html>`), "/prototype/p1/")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, string(out), `<head><base href="/prototype/p1/"/><script`)

	existing := []byte(`<html><head><base href="/x/"></head></html>`)
	out, changed, err = InjectBaseHref(existing, "/prototype/p1/")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, existing, out)
}

func TestBuildLogKeepsTail(t *testing.T) {
	var l buildLog
	l.add("0123456789")
	assert.Equal(t, "0123456789", l.text(0))
	assert.Equal(t, truncatedMarker+"6789", l.text(4))
}

func TestBuildLogTailStaysValidUTF8(t *testing.T) {
	var l buildLog
	l.add("héllo wörld")
	got := l.text(4)
	assert.True(t, utf8.ValidString(got), "%q", got)
	assert.Equal(t, truncatedMarker+"rld", got)
}
