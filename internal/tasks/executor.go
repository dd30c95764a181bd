package tasks

import "sync"

// executor is a fixed set of workers draining an unbounded queue, so
// submission never blocks on task completion.
type executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Task
	closed  bool
	workers int
	wg      sync.WaitGroup
}

func newExecutor(workers int) *executor {
	e := &executor{workers: workers}
	e.cond = sync.NewCond(&e.mu)
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.work()
	}
	return e
}

func (e *executor) submit(t *Task) {
	e.mu.Lock()
	e.queue = append(e.queue, t)
	e.mu.Unlock()
	e.cond.Signal()
}

func (e *executor) next() (*Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) == 0 && !e.closed {
		e.cond.Wait()
	}
	if len(e.queue) == 0 {
		return nil, false
	}
	t := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return t, true
}

func (e *executor) work() {
	defer e.wg.Done()
	for {
		t, ok := e.next()
		if !ok {
			return
		}
		t.run()
	}
}

// shutdown lets the workers drain what is queued and exit.
func (e *executor) shutdown(wait bool) {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
	if wait {
		e.wg.Wait()
	}
}
