package httpserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// ParseJobID parses a path id into a positive int64.
func ParseJobID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: job id required", domain.ErrInvalidArgument)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: job id must be a positive integer", domain.ErrInvalidArgument)
	}
	return id, nil
}

// ClampLimit parses a limit query parameter. Absent or malformed values get
// def; values above max are capped.
func ClampLimit(raw string, def, max int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
