package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeDescription(t *testing.T) {
	const fallback = "EV charging invoice"

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Charging session 42", "Charging session 42"},
		{"diacritics", "Sạc xe điện tại Hà Nội", "Sac xe dien tai Ha Noi"},
		{"uppercase d stroke", "ĐÀ NẴNG", "DA NANG"},
		{"punctuation", "Invoice #12 (fast-charge) @ station_7.", "Invoice #12 fast-charge station_7."},
		{"whitespace collapse", "  a \t\n  b  ", "a b"},
		{"emoji only", "⚡🚗", fallback},
		{"empty", "", fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeDescription(tt.in, fallback))
		})
	}
}

func TestSanitizeDescription_CapsLength(t *testing.T) {
	got := SanitizeDescription(strings.Repeat("ab ", 200), "x")
	assert.LessOrEqual(t, len(got), 250)
	assert.False(t, strings.HasSuffix(got, " "))
}
