package domain

import "unicode/utf8"

// Truncate cuts text to at most maxBytes bytes, backing up to the
// nearest rune boundary so a multi-byte character is never split.
func Truncate(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}
	if maxBytes < 0 {
		maxBytes = 0
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
