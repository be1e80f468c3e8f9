package utils

import (
	"strings"
	"unicode"
)

// MaxNotesLength caps free text notes stored on a withdrawal.
const MaxNotesLength = 1000

// NormalizeNotes removes control characters other than line breaks and
// tabs, trims the input and truncates it to MaxNotesLength runes.
func NormalizeNotes(input string) string {
	input = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	input = strings.TrimSpace(input)

	runes := []rune(input)
	if len(runes) > MaxNotesLength {
		input = strings.TrimSpace(string(runes[:MaxNotesLength]))
	}
	return input
}
