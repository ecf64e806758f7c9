// Package slugify turns display names into URL-safe slugs.
package slugify

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	// Matches everything except word characters, whitespace and dashes.
	disallowedRe = regexp.MustCompile(`[^a-z0-9_\s-]+`)
	// Matches runs of whitespace and dashes.
	separatorRe = regexp.MustCompile(`[\s-]+`)
)

// Make converts s to a slug.
// "Summer Photos" -> "summer-photos".
// "Café Noir!" -> "cafe-noir".
// "Tom's  -- Place" -> "toms-place".
func Make(s string) string {
	// Decompose accented characters so the base letter survives the ASCII filter.
	s = norm.NFKD.String(s)

	s = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)

	s = strings.ToLower(strings.TrimSpace(s))
	s = disallowedRe.ReplaceAllString(s, "")
	s = separatorRe.ReplaceAllString(s, "-")

	return strings.Trim(s, "-")
}

// IsValid reports whether s consists only of URL-safe slug characters.
func IsValid(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}

	return true
}
