package ai

import (
	"reflect"
	"testing"
	"time"
)

// newTestTracker returns a tracker with a controllable clock.
func newTestTracker(ttl time.Duration) (*Tracker, *time.Time) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	tr := NewTracker(ttl)
	tr.now = func() time.Time { return now }
	return tr, &now
}

// TestTrackerFiltersMarkedModels verifies a marked model disappears from
// Available until its mark expires.
func TestTrackerFiltersMarkedModels(t *testing.T) {
	tr, now := newTestTracker(5 * time.Minute)
	all := []string{"gpt-4o-mini", "gpt-3.5-turbo"}

	if got := tr.Available(all); !reflect.DeepEqual(got, all) {
		t.Fatalf("Available() = %v, want all models before any mark", got)
	}

	tr.MarkUnavailable("gpt-4o-mini")
	if got := tr.Available(all); !reflect.DeepEqual(got, []string{"gpt-3.5-turbo"}) {
		t.Errorf("Available() = %v, want marked model filtered", got)
	}

	// Advance past the TTL: the mark expires.
	*now = now.Add(5*time.Minute + time.Second)
	if got := tr.Available(all); !reflect.DeepEqual(got, all) {
		t.Errorf("Available() after TTL = %v, want all models", got)
	}
}

// TestTrackerFailOpen verifies that marking every model resets the tracker
// and returns the full list rather than nothing.
func TestTrackerFailOpen(t *testing.T) {
	tr, _ := newTestTracker(5 * time.Minute)
	all := []string{"gpt-4o-mini", "gpt-3.5-turbo"}

	tr.MarkUnavailable("gpt-4o-mini")
	tr.MarkUnavailable("gpt-3.5-turbo")

	if got := tr.Available(all); !reflect.DeepEqual(got, all) {
		t.Fatalf("Available() = %v, want full list when everything is marked", got)
	}

	// The reset cleared the marks: a single re-mark filters again.
	tr.MarkUnavailable("gpt-4o-mini")
	if got := tr.Available(all); !reflect.DeepEqual(got, []string{"gpt-3.5-turbo"}) {
		t.Errorf("Available() after reset = %v, want one model filtered", got)
	}
}

// TestTrackerDefaultTTL verifies the constructor default.
func TestTrackerDefaultTTL(t *testing.T) {
	tr := NewTracker(0)
	if tr.ttl != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m", tr.ttl)
	}
}

// TestTrackerPreservesOrder verifies Available keeps the caller's preference
// order.
func TestTrackerPreservesOrder(t *testing.T) {
	tr, _ := newTestTracker(time.Minute)
	all := []string{"a", "b", "c"}
	tr.MarkUnavailable("b")

	if got := tr.Available(all); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Available() = %v, want order preserved", got)
	}
}
