// Package uithread confines native window operations to one OS thread.
package uithread

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/1broseidon/deskportal/internal/platform"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("ui loop stopped")

// Dispatcher marshals work onto the UI-affine thread.
type Dispatcher interface {
	// Call runs fn on the UI thread and returns its error.
	Call(fn func() error) error
	// Post queues fn on the UI thread without waiting.
	Post(fn func())
}

type task struct {
	fn   func() error
	done chan error
}

// Loop runs queued work on a goroutine locked to its OS thread. When a
// pumper is supplied it is drained between tasks.
type Loop struct {
	tasks        chan task
	stopped      chan struct{}
	pumper       platform.Pumper
	pumpInterval time.Duration
}

var _ Dispatcher = (*Loop)(nil)

// New returns a loop; pumper may be nil.
func New(pumper platform.Pumper) *Loop {
	return &Loop{
		tasks:        make(chan task, 64),
		stopped:      make(chan struct{}),
		pumper:       pumper,
		pumpInterval: 15 * time.Millisecond,
	}
}

// Run executes tasks until ctx is cancelled. It must be called exactly once.
func (l *Loop) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.stopped)

	var pump <-chan time.Time
	if l.pumper != nil {
		ticker := time.NewTicker(l.pumpInterval)
		defer ticker.Stop()
		pump = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		case t := <-l.tasks:
			t.run()
		case <-pump:
			l.pumper.Pump()
		}
	}
}

// drain fails every task still queued so no caller blocks forever.
func (l *Loop) drain() {
	for {
		select {
		case t := <-l.tasks:
			if t.done != nil {
				t.done <- ErrStopped
			}
		default:
			return
		}
	}
}

func (t task) run() {
	err := t.fn()
	if t.done != nil {
		t.done <- err
	}
}

func (l *Loop) Call(fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case l.tasks <- t:
	case <-l.stopped:
		return ErrStopped
	}
	select {
	case err := <-t.done:
		return err
	case <-l.stopped:
		select {
		case err := <-t.done:
			return err
		default:
			return ErrStopped
		}
	}
}

func (l *Loop) Post(fn func()) {
	t := task{fn: func() error { fn(); return nil }}
	select {
	case l.tasks <- t:
	case <-l.stopped:
	}
}

// Inline runs work on the calling goroutine. Tests and single-threaded
// callers use it in place of a Loop.
type Inline struct{}

var _ Dispatcher = Inline{}

func (Inline) Call(fn func() error) error { return fn() }

func (Inline) Post(fn func()) { fn() }
