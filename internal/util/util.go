// Package util provides small file-naming helpers shared by the CLI and the
// storage backends.
package util

import (
	"path/filepath"
	"strings"
	"time"
)

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SanitizeFileName replaces every character outside [A-Za-z0-9._-] with an
// underscore and collapses runs of underscores.
func SanitizeFileName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		ok := r == '.' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if ok {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// TimestampedName builds "<prefix>_<YYYYMMDD_HHMMSS><ext>".
func TimestampedName(prefix string, t time.Time, ext string) string {
	return SanitizeFileName(prefix) + "_" + t.Format("20060102_150405") + ext
}

// PositionsFileName is the default CSV name for the positions of motionPath.
func PositionsFileName(motionPath string) string {
	return SanitizeFileName(Stem(motionPath)) + ".positions.csv"
}
