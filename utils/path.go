package utils

import (
	"path"
	"strings"
)

// GetFileName returns the last element of the given path
func GetFileName(p string) string {
	return path.Base(p)
}

// JoinPath joins path elements with '/' and cleans the result
func JoinPath(elem ...string) string {
	return path.Join(elem...)
}

// MakeCacheKey builds a cache key from non-empty parts
func MakeCacheKey(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		if len(part) > 0 {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, "|")
}
