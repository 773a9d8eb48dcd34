// Package stringutil has helpers for turning remote strings into local file names.
package stringutil

import (
	"strings"
	"unicode"
)

// SafeFilename replaces path separators and non-printable characters in s with '_'
// so the result is a single path element.
func SafeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || !unicode.IsPrint(r) {
			return '_'
		}
		return r
	}, s)
}
