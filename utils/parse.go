package utils

import (
	"strconv"
	"strings"
)

// ParsePositiveInt converts a query value to a positive int, returning
// fallback when the value is empty, malformed or not positive.
func ParsePositiveInt(s string, fallback int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}

	value, err := strconv.Atoi(s)
	if err != nil || value <= 0 {
		return fallback
	}

	return value
}
