package util

import "strconv"

// ParseIntDefault parses s as a non-negative int, falling back to def when
// s is empty, malformed or negative.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
