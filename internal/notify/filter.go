package notify

import (
	"log"
	"sync"

	"github.com/hooksbot/client/internal/model"
)

// DomainHandlers receive envelopes that passed correlation filtering, split
// by kind. Completion covers both bare task_complete and bundled
// zip_complete; zipPath is empty for the former.
type DomainHandlers struct {
	OnProgress func(taskID string, progress float64, step string)
	OnResult   func(taskID string, item model.ResultItem)
	OnComplete func(taskID string, zipPath string)
	OnError    func(taskID string, message string)
}

// Filter narrows the shared channel down to the one task the caller is
// tracking. It holds a single active-id slot; SetActive replaces it
// atomically, so no two ids are ever simultaneously active. Envelopes for
// any other id, including a task that was just cancelled or superseded,
// are dropped with a diagnostic log line and nothing else.
type Filter struct {
	mu      sync.Mutex
	active  string
	dropped uint64

	handlers DomainHandlers
}

// NewFilter creates a filter with no active id; everything is dropped until
// SetActive is called.
func NewFilter(handlers DomainHandlers) *Filter {
	return &Filter{handlers: handlers}
}

// SetActive replaces the active id.
func (f *Filter) SetActive(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active != "" && f.active != id {
		log.Printf("[notify] retiring task %s, now tracking %s", f.active, id)
	}
	f.active = id
}

// Clear empties the active-id slot. The channel itself stays subscribed;
// it outlives any single job.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = ""
}

// Active returns the currently tracked id, empty if none.
func (f *Filter) Active() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Dropped returns how many stale envelopes were discarded.
func (f *Filter) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Forward dispatches an envelope to the domain handlers if it matches the
// active id, and discards it otherwise. Intended to be registered with
// Channel.OnEnvelope.
func (f *Filter) Forward(env model.Envelope) {
	f.mu.Lock()
	active := f.active
	if env.TaskID != active || active == "" {
		f.dropped++
		f.mu.Unlock()
		log.Printf("[notify] dropping stale %s envelope for task %s (active %q)", env.Type, env.TaskID, active)
		return
	}
	f.mu.Unlock()

	switch env.Type {
	case model.EventProgress:
		if f.handlers.OnProgress != nil {
			f.handlers.OnProgress(env.TaskID, env.Progress, env.Step)
		}
	case model.EventVideoLink:
		if f.handlers.OnResult != nil {
			f.handlers.OnResult(env.TaskID, model.ResultItem{Name: env.FileName, URI: env.VideoLink})
		}
	case model.EventTaskComplete:
		if f.handlers.OnComplete != nil {
			f.handlers.OnComplete(env.TaskID, "")
		}
	case model.EventZipComplete:
		if f.handlers.OnComplete != nil {
			f.handlers.OnComplete(env.TaskID, env.ZipPath)
		}
	case model.EventError:
		if f.handlers.OnError != nil {
			f.handlers.OnError(env.TaskID, env.Message)
		}
	default:
		log.Printf("[notify] ignoring unknown envelope type %q for task %s", env.Type, env.TaskID)
	}
}
