// Package ai generates natural-language weather summaries through a hosted
// chat-completion provider, with ordered model fallback and a time-boxed
// availability tracker for quota failures.
package ai

import (
	"sync"
	"time"

	"github.com/skycast/skycast/internal/observability"
)

// Tracker records models that recently failed with quota errors so callers
// skip them for a bounded window. It is an injected component owned by the
// Generator, not a package singleton, so tests and concurrent sweeps can
// hold independent instances.
type Tracker struct {
	mu     sync.Mutex
	ttl    time.Duration
	marked map[string]time.Time
	now    func() time.Time
}

// NewTracker creates a tracker. Models stay excluded for ttl after a mark;
// ttl <= 0 defaults to 5 minutes.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Tracker{
		ttl:    ttl,
		marked: make(map[string]time.Time),
		now:    time.Now,
	}
}

// MarkUnavailable excludes a model until its mark expires.
func (t *Tracker) MarkUnavailable(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marked[model] = t.now()
	observability.AIModelUnavailableTotal.WithLabelValues(model).Inc()
}

// Available filters the ordered model list down to models without a live
// mark. When every model is marked, all marks are cleared and the full
// list returned: better to retry a possibly-exhausted model than to fail
// without trying anything.
func (t *Tracker) Available(all []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var out []string
	for _, m := range all {
		markedAt, ok := t.marked[m]
		if ok && now.Sub(markedAt) < t.ttl {
			continue
		}
		if ok {
			delete(t.marked, m)
		}
		out = append(out, m)
	}

	if len(out) == 0 {
		t.marked = make(map[string]time.Time)
		return all
	}
	return out
}
