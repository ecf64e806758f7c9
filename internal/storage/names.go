package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// MaxNameAttempts bounds the search for a free file name.
const MaxNameAttempts = 16

// AlternativeName returns name with a random suffix before the extension,
// e.g. "a.jpg" becomes "a_3f9c2e1.jpg".
func AlternativeName(name string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:7]

	return stem + "_" + suffix + ext
}
