package task_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hooksbot/client/internal/model"
	"github.com/hooksbot/client/internal/task"
)

func TestAggregatorArrivalOrder(t *testing.T) {
	agg := task.NewResultAggregator()

	agg.Append(model.ResultItem{Name: "b.mp4", URI: "http://x/b.mp4"})
	agg.Append(model.ResultItem{Name: "a.mp4", URI: "http://x/a.mp4"})
	agg.Append(model.ResultItem{Name: "b.mp4", URI: "http://x/b.mp4"})

	items := agg.Snapshot()
	assert.Equal(t, []model.ResultItem{
		{Name: "b.mp4", URI: "http://x/b.mp4"},
		{Name: "a.mp4", URI: "http://x/a.mp4"},
		{Name: "b.mp4", URI: "http://x/b.mp4"},
	}, items)
	assert.Equal(t, 3, agg.Len())
}

func TestAggregatorSnapshotIsStable(t *testing.T) {
	agg := task.NewResultAggregator()
	agg.Append(model.ResultItem{Name: "a.mp4"})

	snap := agg.Snapshot()
	agg.Append(model.ResultItem{Name: "b.mp4"})

	// The snapshot is a point-in-time copy, immune to later appends.
	assert.Len(t, snap, 1)
	assert.Len(t, agg.Snapshot(), 2)
}

func TestAggregatorBundle(t *testing.T) {
	agg := task.NewResultAggregator()
	assert.Empty(t, agg.Bundle())

	agg.SetBundle("task-1/output.zip")
	assert.Equal(t, "task-1/output.zip", agg.Bundle())
}

func TestAggregatorReset(t *testing.T) {
	agg := task.NewResultAggregator()
	agg.Append(model.ResultItem{Name: "a.mp4"})
	agg.SetBundle("out.zip")

	agg.Reset()
	assert.Zero(t, agg.Len())
	assert.Empty(t, agg.Bundle())
	assert.Empty(t, agg.Snapshot())
}
