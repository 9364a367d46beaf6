package shell

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/deskportal/internal/clock"
	"github.com/1broseidon/deskportal/internal/platform"
)

// ErrShellNotReady is returned when every attach attempt failed to resolve
// the icon view.
var ErrShellNotReady = errors.New("desktop shell not ready")

var errIconViewMissing = errors.New("icon view not found")

// Options tunes the attach retry loop.
type Options struct {
	Attempts   int
	RetryDelay time.Duration
	SpawnWait  time.Duration
	// SpawnTimeout bounds the spawn message round trip.
	SpawnTimeout time.Duration
}

// DefaultOptions returns 5 attempts, 2s apart, with a 100ms spawn wait.
func DefaultOptions() Options {
	return Options{
		Attempts:     5,
		RetryDelay:   2 * time.Second,
		SpawnWait:    100 * time.Millisecond,
		SpawnTimeout: time.Second,
	}
}

// Attachment owns the startup retry loop and the resolved topology.
type Attachment struct {
	locator *Locator
	native  platform.Native
	clock   clock.Clock
	opts    Options
	logger  *slog.Logger

	mu       sync.RWMutex
	topology Topology
	attached bool
}

// NewAttachment creates an attachment; clk and logger may be nil.
func NewAttachment(native platform.Native, clk clock.Clock, opts Options, logger *slog.Logger) *Attachment {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.SpawnWait < 0 {
		opts.SpawnWait = def.SpawnWait
	}
	if opts.SpawnTimeout <= 0 {
		opts.SpawnTimeout = def.SpawnTimeout
	}
	return &Attachment{
		locator: NewLocator(native),
		native:  native,
		clock:   clk,
		opts:    opts,
		logger:  logger,
	}
}

// Attach resolves the shell topology, retrying with a fixed delay. Calling
// it again after success re-resolves from scratch.
func (a *Attachment) Attach() (Topology, error) {
	var lastErr error
	for attempt := 1; attempt <= a.opts.Attempts; attempt++ {
		topo, err := a.attempt()
		if err == nil {
			a.store(topo)
			a.logger.Info("attached to desktop shell",
				"attempt", attempt,
				"root", fmt.Sprintf("%#x", uint64(topo.Root)),
				"icon_view", fmt.Sprintf("%#x", uint64(topo.IconView)),
				"worker", fmt.Sprintf("%#x", uint64(topo.Worker)))
			return topo, nil
		}
		lastErr = err
		a.logger.Warn("shell attach attempt failed", "attempt", attempt, "of", a.opts.Attempts, "error", err)
		if attempt < a.opts.Attempts {
			a.clock.Sleep(a.opts.RetryDelay)
		}
	}

	a.mu.Lock()
	a.topology = Topology{}
	a.attached = false
	a.mu.Unlock()
	return Topology{}, fmt.Errorf("%w after %d attempts: %w", ErrShellNotReady, a.opts.Attempts, lastErr)
}

// Resolve makes a single attach attempt without retry delays. It suits
// periodic callers that will simply try again on their next pass. A
// failure leaves the previous topology in place.
func (a *Attachment) Resolve() (Topology, error) {
	topo, err := a.attempt()
	if err != nil {
		return Topology{}, fmt.Errorf("%w: %w", ErrShellNotReady, err)
	}
	a.store(topo)
	a.logger.Info("re-attached to desktop shell",
		"root", fmt.Sprintf("%#x", uint64(topo.Root)),
		"icon_view", fmt.Sprintf("%#x", uint64(topo.IconView)))
	return topo, nil
}

func (a *Attachment) store(topo Topology) {
	a.mu.Lock()
	a.topology = topo
	a.attached = true
	a.mu.Unlock()
}

func (a *Attachment) attempt() (Topology, error) {
	root, err := a.locator.Root()
	if err != nil {
		return Topology{}, err
	}
	iconView, err := a.locator.IconView(root)
	if err != nil {
		return Topology{}, err
	}
	worker, err := a.locator.Worker()
	if err != nil {
		return Topology{}, err
	}

	if worker == 0 && a.locator.HasWorkerClass() {
		if err := a.native.RequestWorker(root, a.opts.SpawnTimeout); err != nil {
			return Topology{}, fmt.Errorf("failed to request worker: %w", err)
		}
		a.clock.Sleep(a.opts.SpawnWait)
		if iconView == 0 {
			if iconView, err = a.locator.IconView(root); err != nil {
				return Topology{}, err
			}
		}
		if worker, err = a.locator.Worker(); err != nil {
			return Topology{}, err
		}
	}

	if iconView == 0 {
		return Topology{}, errIconViewMissing
	}
	return Topology{Root: root, IconView: iconView, Worker: worker}, nil
}

// Topology returns the last resolved topology.
func (a *Attachment) Topology() Topology {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.topology
}

// Attached reports whether the last Attach succeeded.
func (a *Attachment) Attached() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.attached
}

// IconView returns the reparent target, or zero when not attached.
func (a *Attachment) IconView() platform.Handle {
	return a.Topology().IconView
}
