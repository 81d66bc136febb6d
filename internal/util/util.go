// Package util provides helpers for the string arguments the host passes in.
package util

import (
	"fmt"
	"strconv"
	"strings"
)

// trimQuotes removes one enclosing pair of double quotes. Doubled quotes at
// either end belong to the content and are kept.
func trimQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// fixEscapeQuotes replaces escaped double quotes ("") with single double quotes (").
func fixEscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `""`, `"`)
}

// CleanArg unquotes a raw host argument and trims surrounding whitespace.
func CleanArg(s string) string {
	return strings.TrimSpace(fixEscapeQuotes(trimQuotes(strings.TrimSpace(s))))
}

// ParseInt parses a cleaned host argument as a base 10 integer. Numbers sent
// as floats ("12.0") are accepted when they have no fractional part.
func ParseInt(s string) (int, error) {
	s = CleanArg(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

// ParseUint parses a cleaned host argument as an unsigned 64 bit integer.
func ParseUint(s string) (uint64, error) {
	n, err := strconv.ParseUint(CleanArg(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer: %q", CleanArg(s))
	}
	return n, nil
}
