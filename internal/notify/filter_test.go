package notify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hooksbot/client/internal/model"
	"github.com/hooksbot/client/internal/notify"
)

type recorded struct {
	progress []model.Envelope
	results  []model.ResultItem
	complete []string // zip paths, empty for bare completion
	errors   []string
}

func newRecordedFilter() (*notify.Filter, *recorded) {
	rec := &recorded{}
	f := notify.NewFilter(notify.DomainHandlers{
		OnProgress: func(taskID string, progress float64, step string) {
			rec.progress = append(rec.progress, model.ProgressEnvelope(taskID, progress, step))
		},
		OnResult: func(taskID string, item model.ResultItem) {
			rec.results = append(rec.results, item)
		},
		OnComplete: func(taskID string, zipPath string) {
			rec.complete = append(rec.complete, zipPath)
		},
		OnError: func(taskID string, message string) {
			rec.errors = append(rec.errors, message)
		},
	})
	return f, rec
}

func TestFilterDropsEverythingWhenInactive(t *testing.T) {
	f, rec := newRecordedFilter()

	f.Forward(model.ProgressEnvelope("task-1", 10, "uploading"))
	f.Forward(model.ErrorEnvelope("task-1", "boom"))

	assert.Empty(t, rec.progress)
	assert.Empty(t, rec.errors)
	assert.EqualValues(t, 2, f.Dropped())
}

func TestFilterForwardsMatchingOnly(t *testing.T) {
	f, rec := newRecordedFilter()
	f.SetActive("task-1")

	f.Forward(model.ProgressEnvelope("task-1", 10, "uploading"))
	f.Forward(model.ProgressEnvelope("task-2", 90, "other job"))
	f.Forward(model.VideoLinkEnvelope("task-2", "http://x/b.mp4", "b.mp4"))
	f.Forward(model.VideoLinkEnvelope("task-1", "http://x/a.mp4", "a.mp4"))

	assert.Len(t, rec.progress, 1)
	assert.Equal(t, []model.ResultItem{{Name: "a.mp4", URI: "http://x/a.mp4"}}, rec.results)
	assert.EqualValues(t, 2, f.Dropped())
}

func TestFilterActiveReplacement(t *testing.T) {
	f, rec := newRecordedFilter()

	f.SetActive("task-1")
	f.SetActive("task-2")
	assert.Equal(t, "task-2", f.Active())

	// The retired id is stale the instant the replacement lands.
	f.Forward(model.ErrorEnvelope("task-1", "late failure"))
	assert.Empty(t, rec.errors)

	f.Forward(model.ErrorEnvelope("task-2", "real failure"))
	assert.Equal(t, []string{"real failure"}, rec.errors)
}

func TestFilterClear(t *testing.T) {
	f, rec := newRecordedFilter()
	f.SetActive("task-1")
	f.Clear()
	assert.Empty(t, f.Active())

	f.Forward(model.TaskCompleteEnvelope("task-1"))
	assert.Empty(t, rec.complete)
}

func TestFilterCompletionShapes(t *testing.T) {
	f, rec := newRecordedFilter()
	f.SetActive("task-1")

	f.Forward(model.TaskCompleteEnvelope("task-1"))
	f.Forward(model.ZipCompleteEnvelope("task-1", "task-1/output.zip"))

	assert.Equal(t, []string{"", "task-1/output.zip"}, rec.complete)
}

func TestFilterIgnoresUnknownKind(t *testing.T) {
	f, rec := newRecordedFilter()
	f.SetActive("task-1")

	f.Forward(model.Envelope{Type: "heartbeat", TaskID: "task-1"})

	assert.Empty(t, rec.progress)
	assert.Empty(t, rec.results)
	assert.Empty(t, rec.complete)
	assert.Empty(t, rec.errors)
}
