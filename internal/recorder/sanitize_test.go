package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain ascii", "My Stream", "My Stream"},
		{"hangul kept", "침착맨 방송", "침착맨 방송"},
		{"compat jamo kept", "ㅋㅋㅋ", "ㅋㅋㅋ"},
		{"punctuation stripped", "late night! (coding) #3", "late night coding 3"},
		{"slashes stripped", "a/b\\c", "abc"},
		{"emoji stripped", "fun 🎮 times", "fun  times"},
		{"underscore hyphen kept", "a_b-c", "a_b-c"},
		{"trimmed", "  padded  ", "padded"},
		{"empty becomes unknown", "", "unknown"},
		{"all stripped becomes unknown", "!!!", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	for _, s := range []string{"My Stream!", "침착맨/방송", "", "   ", "a_b-c 한글"} {
		once := Sanitize(s)
		assert.Equal(t, once, Sanitize(once))
	}
}

func TestSanitize_NFCNormalization(t *testing.T) {
	// Decomposed Hangul (jamo sequence) composes to the same syllable form.
	decomposed := "한" // ᄒ + ᅡ + ᆫ
	assert.Equal(t, "한", Sanitize(decomposed))
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2026, 8, 24, 13, 5, 9, 0, time.UTC)
	assert.Equal(t, "20260824_130509", Timestamp(ts))
}
