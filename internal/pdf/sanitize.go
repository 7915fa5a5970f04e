// Package pdf lays out contract text on A4 pages and writes it with fpdf.
package pdf

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var replacements = map[rune]string{
	'ş': "s", 'Ş': "S",
	'ı': "i", 'İ': "I",
	'ç': "c", 'Ç': "C",
	'ğ': "g", 'Ğ': "G",
	'ü': "u", 'Ü': "U",
	'ö': "o", 'Ö': "O",
	'æ': "ae", 'Æ': "AE",
	'œ': "oe", 'Œ': "OE",
	'€': "EUR", '₺': "TL", '£': "GBP", '¥': "YEN",
	'–': "-", '—': "-",
	'“': `"`, '”': `"`, '„': `"`, '«': `"`, '»': `"`,
	'‘': "'", '’': "'",
	'\u00a0': " ",
	'\u200b': "",
}

// Sanitize reduces s to characters the built-in Latin-1 fonts can draw.
// Diacritics are decomposed and dropped, Turkish letters and typographic
// punctuation are transliterated, and anything above U+00FF is removed.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	decomposed := norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r >= 0x0300 && r <= 0x036F {
			continue
		}
		if replacement, ok := replacements[r]; ok {
			b.WriteString(replacement)
			continue
		}
		if drawable(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func drawable(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return true
	case r >= 0x20 && r <= 0x7E:
		return true
	case r >= 0x80 && r <= unicode.MaxLatin1:
		return true
	default:
		return false
	}
}
