// Package tasks runs one-shot and looping background work on a lazily
// started, fixed-size worker pool with cooperative cancellation.
package tasks

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/life-stream-dev/argus/internal/errs"
	"github.com/life-stream-dev/argus/internal/metrics"
)

type ReturnWhen int

const (
	AllCompleted ReturnWhen = iota
	FirstException
)

// DefaultWindDown bounds how long WaitOrAbort lets siblings finish after a failure.
const DefaultWindDown = time.Minute

// Pool is owned by the composition root. Workers start on first use and
// restart lazily after Reset.
type Pool struct {
	mu         sync.Mutex
	size       int
	executor   *executor
	hooks      []func(size int)
	alive      map[uuid.UUID]*Task
	isShutdown bool
	logger     *slog.Logger
}

type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

func NewPool(size int, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("task pool can't be created with a size of %d", size)
	}
	p := &Pool{
		size:   size,
		alive:  make(map[uuid.UUID]*Task),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pool) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executor != nil
}

// Size is the worker count the next initialisation will use.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// ActualPoolSize starts the workers if needed and returns their number.
func (p *Pool) ActualPoolSize() int {
	p.mu.Lock()
	exec, created := p.ensureExecutor()
	p.mu.Unlock()
	if created {
		p.runHooks(exec.workers)
	}
	return exec.workers
}

// RegisterPoolInitHook adds fn to the hooks run after every lazy initialisation.
func (p *Pool) RegisterPoolInitHook(fn func(size int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, fn)
}

// ensureExecutor must be called with p.mu held.
func (p *Pool) ensureExecutor() (*executor, bool) {
	if p.executor != nil {
		return p.executor, false
	}
	p.executor = newExecutor(p.size)
	p.logger.Debug("task pool initialized", "workers", p.size)
	return p.executor, true
}

func (p *Pool) runHooks(size int) {
	p.mu.Lock()
	hooks := slices.Clone(p.hooks)
	p.mu.Unlock()
	for _, hook := range hooks {
		hook(size)
	}
}

// pruneLocked drops finished tasks from the alive set; p.mu must be held.
func (p *Pool) pruneLocked() {
	for id, t := range p.alive {
		if t.IsDone() {
			delete(p.alive, id)
		}
	}
}

// Submit schedules fn and returns immediately.
func (p *Pool) Submit(looping bool, fn Func) (uuid.UUID, *Task, error) {
	kind := OneShot
	if looping {
		kind = Looping
	}
	t := newTask(kind, fn, p.logger)

	p.mu.Lock()
	if p.isShutdown {
		p.mu.Unlock()
		return uuid.Nil, nil, errs.New(errs.ErrPoolShutdown,
			"The worker pool has been shutdown and can no longer accept new requests.")
	}
	exec, created := p.ensureExecutor()
	p.pruneLocked()
	p.alive[t.id] = t
	metrics.TasksSubmitted.WithLabelValues(string(kind)).Inc()
	metrics.TasksAlive.Inc()
	exec.submit(t)
	p.mu.Unlock()

	if created {
		p.runHooks(exec.workers)
	}
	return t.id, t, nil
}

// StopAllRunningTasks signals every unfinished task without waiting.
func (p *Pool) StopAllRunningTasks() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.alive {
		if !t.IsDone() {
			t.Cancel()
		}
	}
}

func (p *Pool) TotalAliveTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	return len(p.alive)
}

func (p *Pool) aliveTasks() []*Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := make([]*Task, 0, len(p.alive))
	for _, t := range p.alive {
		list = append(list, t)
	}
	return list
}

// Shutdown rejects new submissions. With a positive timeout it waits that long
// for tracked tasks and for the workers; otherwise it returns at once and the
// workers exit after draining their queue.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.mu.Lock()
	if p.isShutdown {
		p.mu.Unlock()
		return
	}
	p.isShutdown = true
	exec := p.executor
	p.mu.Unlock()

	wait := timeout > 0
	if wait {
		_ = p.AwaitTermination(timeout)
	}
	if exec != nil {
		exec.shutdown(wait)
	}
}

// AwaitTermination waits for every tracked task, ignoring failures, then
// forgets them. It fails unless Shutdown was called first.
func (p *Pool) AwaitTermination(timeout time.Duration) error {
	p.mu.Lock()
	if !p.isShutdown {
		p.mu.Unlock()
		return errs.New(errs.ErrNotShutDown,
			"The workers pool has not been shutdown, please call Shutdown() first.")
	}
	p.mu.Unlock()

	_ = WaitTasks(p.aliveTasks(), timeout, AllCompleted, false)

	p.mu.Lock()
	p.alive = make(map[uuid.UUID]*Task)
	p.mu.Unlock()
	return nil
}

// Reset shuts the pool down and returns it to the uninitialised state. A size
// below 1 keeps the current size.
func (p *Pool) Reset(size int, timeout time.Duration) {
	p.Shutdown(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.executor = nil
	if size >= 1 {
		p.size = size
	}
	p.isShutdown = false
}

// WaitTasks blocks until returnWhen is satisfied or timeout (zero or negative
// means none) elapses. Timing out is not an error and never cancels tasks.
// With raiseOnError the first failed task's error is returned.
func WaitTasks(tasks []*Task, timeout time.Duration, returnWhen ReturnWhen, raiseOnError bool) error {
	if !(returnWhen == FirstException && anyFailed(tasks)) {
		waitFor(tasks, timeout, returnWhen)
	}
	if raiseOnError {
		for _, t := range tasks {
			if t.IsDone() && t.Status() == Failed {
				return t.Err()
			}
		}
	}
	return nil
}

func anyFailed(tasks []*Task) bool {
	for _, t := range tasks {
		if t.IsDone() && t.Status() == Failed {
			return true
		}
	}
	return false
}

func waitFor(tasks []*Task, timeout time.Duration, returnWhen ReturnWhen) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	quit := make(chan struct{})
	defer close(quit)
	finished := make(chan *Task, len(tasks))
	pending := 0
	for _, t := range tasks {
		if t.IsDone() {
			continue
		}
		pending++
		go func(t *Task) {
			select {
			case <-t.Done():
				finished <- t
			case <-quit:
			}
		}(t)
	}

	for pending > 0 {
		select {
		case t := <-finished:
			pending--
			if returnWhen == FirstException && t.Status() == Failed {
				return
			}
		case <-expired:
			return
		}
	}
}

// WaitOrAbort waits until every task finishes or one fails. On failure it sets
// killSwitch, if given, gives the siblings up to timeout to wind down, and
// then returns the original failure.
func WaitOrAbort(tasks []*Task, timeout time.Duration, killSwitch *Event) error {
	err := WaitTasks(tasks, 0, FirstException, true)
	if err != nil && killSwitch != nil {
		killSwitch.Set()
		_ = WaitTasks(tasks, timeout, AllCompleted, false)
	}
	return err
}
