package queue

import (
	"context"
	"sync"

	"hkwarrant/internal/core"
)

// TaskHandler processes a single popped task. release, if non-nil, is
// called exactly once after the handler returns, on success or error,
// so a pooled signal object goes back to its pool. A handler that
// panics returns no release func, so nothing is released for it.
type TaskHandler func(ctx context.Context, task interface{}) (release func(), err error)

// GateFunc reports whether the processor may pop and run tasks right
// now. While it reports false, a drain stops and leaves the remaining
// tasks queued; draining resumes at the processor's next wake-up, not
// when the gate reopens (spec §4.10, day lifecycle gating).
type GateFunc func() bool

// TaskProcessor cooperatively drains a single FIFOQueue one task at a
// time on its own goroutine, so buy's risk checks can never block sell
// execution and vice versa (spec §4.10).
type TaskProcessor struct {
	name    string
	logger  core.ILogger
	queue   *FIFOQueue
	handle  TaskHandler
	gate    GateFunc

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewTaskProcessor(name string, queue *FIFOQueue, handle TaskHandler, gate GateFunc, logger core.ILogger) *TaskProcessor {
	if gate == nil {
		gate = func() bool { return true }
	}
	p := &TaskProcessor{
		name:   name,
		logger: logger.WithField("component", "task_processor").WithField("queue", name),
		queue:  queue,
		handle: handle,
		gate:   gate,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	queue.OnTaskAdded(p.wakeUp)
	return p
}

// Start launches the processor's goroutine. ctx cancellation stops the
// loop without draining; use StopAndDrain for a graceful shutdown.
func (p *TaskProcessor) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *TaskProcessor) wakeUp() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *TaskProcessor) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			p.drainOnce(ctx)
			return
		case <-ctx.Done():
			return
		case <-p.wake:
			p.drainOnce(ctx)
		}
	}
}

// drainOnce processes tasks one at a time while the queue is non-empty
// and the gate is open, stopping (without losing remaining tasks) the
// moment the gate closes so a retriggered wake-up resumes it later.
func (p *TaskProcessor) drainOnce(ctx context.Context) {
	for !p.queue.IsEmpty() {
		if !p.gate() {
			return
		}
		task, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.runTask(ctx, task)
	}
}

func (p *TaskProcessor) runTask(ctx context.Context, task interface{}) {
	var release func()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task processor recovered from panic", "queue", p.name, "panic", r)
		}
		if release != nil {
			release()
		}
	}()

	var err error
	release, err = p.handle(ctx, task)
	if err != nil {
		p.logger.Error("task handler failed", "queue", p.name, "error", err)
	}
}

// StopAndDrain signals the processor to stop accepting new wake-ups
// after finishing whatever task is currently in flight, and blocks
// until it has exited.
func (p *TaskProcessor) StopAndDrain() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}

// MonitorTaskHandler processes a single deduplicated monitor task.
type MonitorTaskHandler func(ctx context.Context, task MonitorTask) error

// MonitorTaskProcessor is the same cooperative single-task-at-a-time
// loop as TaskProcessor, specialized for the deduplicated
// MonitorTaskQueue.
type MonitorTaskProcessor struct {
	name    string
	logger  core.ILogger
	queue   *MonitorTaskQueue
	handle  MonitorTaskHandler
	gate    GateFunc

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewMonitorTaskProcessor(name string, queue *MonitorTaskQueue, handle MonitorTaskHandler, gate GateFunc, logger core.ILogger) *MonitorTaskProcessor {
	if gate == nil {
		gate = func() bool { return true }
	}
	p := &MonitorTaskProcessor{
		name:   name,
		logger: logger.WithField("component", "monitor_task_processor").WithField("queue", name),
		queue:  queue,
		handle: handle,
		gate:   gate,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	queue.OnTaskAdded(p.wakeUp)
	return p
}

func (p *MonitorTaskProcessor) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *MonitorTaskProcessor) wakeUp() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *MonitorTaskProcessor) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			p.drainOnce(ctx)
			return
		case <-ctx.Done():
			return
		case <-p.wake:
			p.drainOnce(ctx)
		}
	}
}

func (p *MonitorTaskProcessor) drainOnce(ctx context.Context) {
	for !p.queue.IsEmpty() {
		if !p.gate() {
			return
		}
		task, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.runTask(ctx, task)
	}
}

func (p *MonitorTaskProcessor) runTask(ctx context.Context, task MonitorTask) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("monitor task processor recovered from panic", "queue", p.name, "panic", r)
		}
	}()
	if err := p.handle(ctx, task); err != nil {
		p.logger.Error("monitor task handler failed", "queue", p.name, "key", task.DedupeKey, "error", err)
	}
}

// StopAndDrain waits for any in-flight task to finish, then stops the
// processor loop.
func (p *MonitorTaskProcessor) StopAndDrain() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}
