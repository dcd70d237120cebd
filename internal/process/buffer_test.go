package process

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTailBuffer_KeepsWholeRunes(t *testing.T) {
	b := newTailBuffer(4)
	_, _ = b.Write([]byte("héllo "))
	_, _ = b.Write([]byte("wörld"))

	got := b.String()
	assert.True(t, utf8.ValidString(got), "%q", got)
	assert.Equal(t, truncatedMarker+"rld", got)
}

func TestTailBuffer_UnderLimit(t *testing.T) {
	b := newTailBuffer(64)
	_, _ = b.Write([]byte("npm "))
	_, _ = b.Write([]byte("ok"))
	assert.Equal(t, "npm ok", b.String())
}
