package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorConstants(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ErrInvalidArgument", ErrInvalidArgument, "invalid argument"},
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrConflict", ErrConflict, "conflict"},
		{"ErrRateLimited", ErrRateLimited, "rate limited"},
		{"ErrProviderDisabled", ErrProviderDisabled, "provider disabled"},
		{"ErrProviderError", ErrProviderError, "provider error"},
		{"ErrInsufficientCredits", ErrInsufficientCredits, "insufficient credits"},
		{"ErrMalformedLLMResponse", ErrMalformedLLMResponse, "malformed llm response"},
		{"ErrInternal", ErrInternal, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, tt.err.Error())
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   error
		expected bool
	}{
		{"ErrInvalidArgument is ErrInvalidArgument", ErrInvalidArgument, ErrInvalidArgument, true},
		{"ErrNotFound is ErrNotFound", ErrNotFound, ErrNotFound, true},
		{"ErrConflict is ErrConflict", ErrConflict, ErrConflict, true},
		{"ErrRateLimited is ErrRateLimited", ErrRateLimited, ErrRateLimited, true},
		{"ErrProviderDisabled is ErrProviderDisabled", ErrProviderDisabled, ErrProviderDisabled, true},
		{"ErrProviderError is ErrProviderError", ErrProviderError, ErrProviderError, true},
		{"ErrInsufficientCredits is ErrInsufficientCredits", ErrInsufficientCredits, ErrInsufficientCredits, true},
		{"ErrMalformedLLMResponse is ErrMalformedLLMResponse", ErrMalformedLLMResponse, ErrMalformedLLMResponse, true},
		{"ErrInternal is ErrInternal", ErrInternal, ErrInternal, true},
		{"ErrInvalidArgument is not ErrNotFound", ErrInvalidArgument, ErrNotFound, false},
		{"ErrProviderError is not ErrProviderDisabled", ErrProviderError, ErrProviderDisabled, false},
		{"ErrInsufficientCredits is not ErrConflict", ErrInsufficientCredits, ErrConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errors.Is(tt.err, tt.target) != tt.expected {
				t.Errorf("Expected errors.Is(%v, %v) to be %v, got %v", tt.err, tt.target, tt.expected, !tt.expected)
			}
		})
	}
}

func TestWrappedErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("op=credits.spend: %w", ErrInsufficientCredits)
	if !errors.Is(wrapped, ErrInsufficientCredits) {
		t.Errorf("Expected wrapped error to match ErrInsufficientCredits")
	}
	if errors.Is(wrapped, ErrProviderError) {
		t.Errorf("Expected wrapped error not to match ErrProviderError")
	}
}
