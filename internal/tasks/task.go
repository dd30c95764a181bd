package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/life-stream-dev/argus/internal/metrics"
)

var ErrCancelled = errors.New("task cancelled")

type Status int32

const (
	Pending Status = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

type Kind string

const (
	OneShot Kind = "oneshot"
	Looping Kind = "looping"
)

// Func is the body of a task. A looping task calls it back to back until its
// stop event is set or it returns an error.
type Func func() error

type Task struct {
	id     uuid.UUID
	kind   Kind
	fn     Func
	stop   *Event
	status atomic.Int32
	done   chan struct{}
	err    error
	logger *slog.Logger
}

func newTask(kind Kind, fn Func, logger *slog.Logger) *Task {
	t := &Task{
		id:     uuid.New(),
		kind:   kind,
		fn:     fn,
		done:   make(chan struct{}),
		logger: logger,
	}
	if kind == Looping {
		t.stop = NewEvent()
	}
	return t
}

func (t *Task) ID() uuid.UUID {
	return t.id
}

func (t *Task) Kind() Kind {
	return t.kind
}

func (t *Task) Status() Status {
	return Status(t.status.Load())
}

// Done is closed when the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err is the task's failure, ErrCancelled, or nil. It is only meaningful once Done is closed.
func (t *Task) Err() error {
	if !t.IsDone() {
		return nil
	}
	return t.err
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel sets a looping task's stop event and cancels the task if no worker
// has picked it up yet. It reports whether the task ended up cancelled.
func (t *Task) Cancel() bool {
	if t.stop != nil {
		t.stop.Set()
	}
	if t.status.CompareAndSwap(int32(Pending), int32(Cancelled)) {
		t.finish(Cancelled, ErrCancelled)
		return true
	}
	return t.Status() == Cancelled
}

func (t *Task) finish(status Status, err error) {
	t.err = err
	t.status.Store(int32(status))
	metrics.TasksFinished.WithLabelValues(string(t.kind), status.String()).Inc()
	metrics.TasksAlive.Dec()
	close(t.done)
}

func (t *Task) call() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.fn()
}

func (t *Task) run() {
	if !t.status.CompareAndSwap(int32(Pending), int32(Running)) {
		return
	}

	if t.kind == OneShot {
		if err := t.call(); err != nil {
			t.logger.Error("task failed", "task", t.id, "error", err)
			t.finish(Failed, err)
			return
		}
		t.finish(Completed, nil)
		return
	}

	for !t.stop.IsSet() {
		if err := t.call(); err != nil {
			t.logger.Error("looping task failed", "task", t.id, "error", err)
			t.finish(Failed, err)
			return
		}
	}
	t.finish(Completed, nil)
}
