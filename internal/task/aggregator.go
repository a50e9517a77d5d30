package task

import (
	"sync"

	"github.com/hooksbot/client/internal/model"
)

// ResultAggregator accumulates streamed partial results for the active job
// in arrival order. It is a dumb log: no deduplication by name or uri, so a
// repeated video_link envelope produces a duplicate entry, matching the
// service's at-least-once delivery.
type ResultAggregator struct {
	mu     sync.Mutex
	items  []model.ResultItem
	bundle string
}

// NewResultAggregator returns an empty aggregator.
func NewResultAggregator() *ResultAggregator {
	return &ResultAggregator{}
}

// Append records one produced artifact.
func (a *ResultAggregator) Append(item model.ResultItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, item)
}

// SetBundle records the final archive reference.
func (a *ResultAggregator) SetBundle(ref string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bundle = ref
}

// Bundle returns the final archive reference, empty until zip_complete.
func (a *ResultAggregator) Bundle() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bundle
}

// Len returns the number of results received so far.
func (a *ResultAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// Snapshot returns a point-in-time copy of the results, safe to render
// while appends continue.
func (a *ResultAggregator) Snapshot() []model.ResultItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ResultItem, len(a.items))
	copy(out, a.items)
	return out
}

// Reset discards everything. Called only when a new job is created or the
// user explicitly returns to idle.
func (a *ResultAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = nil
	a.bundle = ""
}
