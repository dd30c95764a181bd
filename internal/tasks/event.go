package tasks

import (
	"context"
	"sync"
)

// Event is a one-way signal: once set it stays set. Looping tasks use it as
// their stop flag and callers use it as a kill switch for sibling tasks.
type Event struct {
	once sync.Once
	ch   chan struct{}
}

func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

func (e *Event) Set() {
	e.once.Do(func() { close(e.ch) })
}

func (e *Event) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the event is set.
func (e *Event) Done() <-chan struct{} {
	return e.ch
}

func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
