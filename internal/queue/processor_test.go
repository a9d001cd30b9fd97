package queue

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hkwarrant/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.FatalLevel, io.Discard)
}

func TestTaskProcessor_ProcessesPushedTasksInOrder(t *testing.T) {
	q := NewFIFOQueue()
	var mu sync.Mutex
	var processed []int

	p := NewTaskProcessor("buy", q, func(ctx context.Context, task interface{}) (func(), error) {
		mu.Lock()
		processed = append(processed, task.(int))
		mu.Unlock()
		return nil, nil
	}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	q.Push(1)
	q.Push(2)
	q.Push(3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, processed)
	mu.Unlock()
}

func TestTaskProcessor_ReleaseCalledExactlyOnce(t *testing.T) {
	q := NewFIFOQueue()
	var released int32

	p := NewTaskProcessor("sell", q, func(ctx context.Context, task interface{}) (func(), error) {
		return func() { atomic.AddInt32(&released, 1) }, nil
	}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	q.Push("task")
	require.Eventually(t, func() bool { return atomic.LoadInt32(&released) == 1 }, time.Second, time.Millisecond)
}

func TestTaskProcessor_GateClosedPausesDraining(t *testing.T) {
	q := NewFIFOQueue()
	var processed int32
	gateOpen := int32(0)

	p := NewTaskProcessor("buy", q, func(ctx context.Context, task interface{}) (func(), error) {
		atomic.AddInt32(&processed, 1)
		return nil, nil
	}, func() bool { return atomic.LoadInt32(&gateOpen) == 1 }, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	q.Push("task")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&processed), "gate closed, task must not run yet")

	atomic.StoreInt32(&gateOpen, 1)
	q.Push("trigger-another-wake")
	require.Eventually(t, func() bool { return atomic.LoadInt32(&processed) >= 1 }, time.Second, time.Millisecond)
}

func TestTaskProcessor_StopAndDrainWaitsForInFlightTask(t *testing.T) {
	q := NewFIFOQueue()
	started := make(chan struct{})
	release := make(chan struct{})

	p := NewTaskProcessor("buy", q, func(ctx context.Context, task interface{}) (func(), error) {
		close(started)
		<-release
		return nil, nil
	}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	q.Push("slow-task")
	<-started

	stopped := make(chan struct{})
	go func() {
		p.StopAndDrain()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("StopAndDrain returned before the in-flight task finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-stopped
}

func TestMonitorTaskProcessor_ProcessesDedupedTasks(t *testing.T) {
	q := NewMonitorTaskQueue()
	var mu sync.Mutex
	var seen []string

	p := NewMonitorTaskProcessor("monitor", q, func(ctx context.Context, task MonitorTask) error {
		mu.Lock()
		seen = append(seen, task.DedupeKey)
		mu.Unlock()
		return nil
	}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	q.ScheduleLatest("SEAT_REFRESH:LONG", "v1")
	q.ScheduleLatest("SEAT_REFRESH:LONG", "v2")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, time.Millisecond)
}
