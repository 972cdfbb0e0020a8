// Package textenc turns raw subprocess and file bytes into display text.
package textenc

import (
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeLossy decodes UTF-8, dropping a leading BOM and replacing invalid
// sequences with U+FFFD.
func DecodeLossy(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	out, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// Truncate caps s at maxChars runes and appends marker when anything was cut.
// A non-positive maxChars disables the cap.
func Truncate(s string, maxChars int, marker string) (string, bool) {
	if maxChars <= 0 {
		return s, false
	}
	count := 0
	for i := range s {
		if count == maxChars {
			return s[:i] + marker, true
		}
		count++
	}
	return s, false
}
