package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOQueue_PushPopIsOrderPreserving(t *testing.T) {
	q := NewFIFOQueue()
	q.Push("a")
	q.Push("b")
	q.Push("c")

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", first)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", second)

	assert.Equal(t, 1, q.Len())
}

func TestFIFOQueue_PopOnEmptyReturnsFalse(t *testing.T) {
	q := NewFIFOQueue()
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestFIFOQueue_OnTaskAddedNotifiesOnPush(t *testing.T) {
	q := NewFIFOQueue()
	notified := 0
	q.OnTaskAdded(func() { notified++ })

	q.Push("x")
	q.Push("y")
	assert.Equal(t, 2, notified)
}

func TestFIFOQueue_RemoveTasksFiltersAndReleases(t *testing.T) {
	q := NewFIFOQueue()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	var released []interface{}
	q.RemoveTasks(func(t interface{}) bool { return t.(int)%2 == 0 }, func(t interface{}) {
		released = append(released, t)
	})

	assert.Equal(t, []interface{}{2}, released)
	assert.Equal(t, 2, q.Len())
}

func TestFIFOQueue_ClearAllEmptiesAndReleasesEverything(t *testing.T) {
	q := NewFIFOQueue()
	q.Push(1)
	q.Push(2)

	var released []interface{}
	q.ClearAll(func(t interface{}) { released = append(released, t) })

	assert.True(t, q.IsEmpty())
	assert.Len(t, released, 2)
}

func TestMonitorTaskQueue_ScheduleLatestDedupesByKey(t *testing.T) {
	q := NewMonitorTaskQueue()
	q.ScheduleLatest("SEAT_REFRESH:LONG", "first")
	q.ScheduleLatest("SEAT_REFRESH:LONG", "second")
	q.ScheduleLatest("LIQUIDATION_DISTANCE_CHECK", "third")

	assert.Equal(t, 2, q.Len(), "same-key reschedule replaces in place rather than appending")

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "SEAT_REFRESH:LONG", first.DedupeKey)
	assert.Equal(t, "second", first.Data, "newer data wins for the same key")

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "LIQUIDATION_DISTANCE_CHECK", second.DedupeKey)
}

func TestMonitorTaskQueue_ClearAllReleasesEverything(t *testing.T) {
	q := NewMonitorTaskQueue()
	q.ScheduleLatest("a", 1)
	q.ScheduleLatest("b", 2)

	var released []MonitorTask
	q.ClearAll(func(t MonitorTask) { released = append(released, t) })

	assert.True(t, q.IsEmpty())
	assert.Len(t, released, 2)
}
