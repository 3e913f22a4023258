// Package utils holds small parsing helpers for query strings and path
// parameters shared by the HTTP layer.
package utils

import (
	"errors"
	"strconv"
	"strings"
)

// Page size bounds for list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ErrInvalidID is returned by ParseID for anything but a positive integer.
var ErrInvalidID = errors.New("id must be a positive integer")

// AtoiDefault parses s, returning def when s is empty or not an int.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage parses page and page_size query values. Missing or invalid
// values fall back to the first page of DefaultPageSize; the size is capped
// at MaxPageSize.
func ClampPage(page, size string) (int, int) {
	p := AtoiDefault(page, 1)
	if p < 1 {
		p = 1
	}
	s := AtoiDefault(size, DefaultPageSize)
	switch {
	case s < 1:
		s = 1
	case s > MaxPageSize:
		s = MaxPageSize
	}
	return p, s
}

// TotalPages is the number of pages of size needed for total items.
func TotalPages(total int64, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

// ParseID parses a chat platform id (thread, message or member).
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
