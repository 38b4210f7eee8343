// Package recorder writes one live session to one transport-stream file.
package recorder

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Sanitize reduces a channel name or live title to a filesystem-safe string.
// Allowed: Latin letters, digits, Hangul syllables and jamo, space,
// underscore, hyphen. The result is NFC-normalized and trimmed; an empty
// result becomes "unknown". Sanitize is idempotent.
func Sanitize(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if allowedRune(r) {
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "unknown"
	}
	return out
}

// allowedRune reports whether r survives sanitization. Hangul ranges are
// spelled out so behaviour never depends on locale tables.
func allowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ' || r == '_' || r == '-':
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
		return true
	case r >= 0x1100 && r <= 0x11FF: // Hangul jamo
		return true
	case r >= 0x3130 && r <= 0x318F: // Hangul compatibility jamo
		return true
	case unicode.IsLetter(r) && unicode.In(r, unicode.Latin):
		return true
	}
	return false
}

// Timestamp formats t the way recording and archive paths expect.
func Timestamp(t time.Time) string {
	return t.Format("20060102_150405")
}
