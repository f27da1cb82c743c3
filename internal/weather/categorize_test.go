package weather

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestCategorizeError verifies sentinel-first classification and the
// message heuristics for wrapped transport errors.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"deadline exceeded", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"wrapped cancellation", fmt.Errorf("fetch: %w", context.Canceled), ErrorCategoryTimeout},
		{"invalid key sentinel", fmt.Errorf("%w: key rejected", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"location not found sentinel", fmt.Errorf("lookup: %w", ErrLocationNotFound), ErrorCategoryLocationNotFound},
		{"rate limited sentinel", fmt.Errorf("call: %w", ErrRateLimited), ErrorCategoryRateLimited},
		{"upstream sentinel", fmt.Errorf("%w: HTTP 502", ErrUpstreamFailure), ErrorCategoryUpstream5xx},
		{"connection refused text", errors.New("dial tcp: connection refused"), ErrorCategoryNetwork},
		{"timeout text", errors.New("request timeout after 2s"), ErrorCategoryTimeout},
		{"parse text", errors.New("parse response: unexpected end of JSON"), ErrorCategoryParsing},
		{"unknown", errors.New("mystery"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
