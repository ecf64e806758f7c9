// Package latin1 restricts text to what a Latin-1 feed can carry.
package latin1

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// Transliterate applies compatibility decomposition (NFKD) and drops every
// rune that has no ISO-8859-1 representation. It never fails: accents detach
// from their base letters and vanish, unsupported scripts are removed.
func Transliterate(s string) string {
	decomposed := norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(decomposed))

	for _, r := range decomposed {
		if _, ok := charmap.ISO8859_1.EncodeRune(r); ok {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// Encode returns the ISO-8859-1 bytes of the transliterated text.
func Encode(s string) []byte {
	t := Transliterate(s)

	out := make([]byte, 0, len(t))
	for _, r := range t {
		c, _ := charmap.ISO8859_1.EncodeRune(r)
		out = append(out, c)
	}

	return out
}
