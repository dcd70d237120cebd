package build

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const truncatedMarker = "[earlier log output truncated]\n"

// buildLog accumulates the human-readable log stored on a BuildRecord.
type buildLog struct {
	b strings.Builder
}

func (l *buildLog) add(s string) {
	l.b.WriteString(s)
}

func (l *buildLog) addf(format string, args ...any) {
	fmt.Fprintf(&l.b, format, args...)
}

// text returns the log, keeping at most limit bytes of its tail. The cut
// never splits a UTF-8 sequence.
func (l *buildLog) text(limit int) string {
	s := l.b.String()
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := len(s) - limit
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return truncatedMarker + s[cut:]
}
