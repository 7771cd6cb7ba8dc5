package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxDescriptionLength = 250

// SanitizeDescription reduces a free-text order description to the character
// set the gateway accepts: ASCII letters, digits, space and "-_.#".
func SanitizeDescription(raw, fallback string) string {
	// đ has no decomposition, so NFD alone would drop it
	raw = strings.NewReplacer("đ", "d", "Đ", "D").Replace(raw)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, raw)
	if err != nil {
		stripped = raw
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == '#':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if len(cleaned) > maxDescriptionLength {
		cleaned = strings.TrimSpace(cleaned[:maxDescriptionLength])
	}
	if cleaned == "" {
		return fallback
	}
	return cleaned
}
