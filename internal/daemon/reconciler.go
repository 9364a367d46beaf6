package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/1broseidon/deskportal/internal/uithread"
)

// Pass is one unit of periodic correction work. Passes run on the UI loop.
type Pass struct {
	Name string
	Run  func()
}

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Reconciler periodically checks for drift between the portals and the
// desktop shell and corrects it.
type Reconciler struct {
	interval time.Duration
	passes   []Pass
	ui       uithread.Dispatcher
	logger   *slog.Logger
	reset    chan time.Duration
}

// NewReconciler creates a reconciler running passes on ui.
func NewReconciler(cfg ReconcilerConfig, ui uithread.Dispatcher, passes ...Pass) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		interval: interval,
		passes:   passes,
		ui:       ui,
		logger:   logger,
		reset:    make(chan time.Duration, 1),
	}
}

// SetInterval changes the tick interval of a running reconciler. It never
// blocks; a pending change that Run has not picked up yet is replaced.
func (r *Reconciler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	for {
		select {
		case r.reset <- d:
			return
		default:
		}
		select {
		case <-r.reset:
		default:
		}
	}
}

// Run starts the reconciliation loop. Blocks until context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case d := <-r.reset:
			if d != r.interval {
				r.interval = d
				ticker.Reset(d)
				r.logger.Info("reconciler interval changed", "interval", d)
			}
		case <-ticker.C:
			r.ui.Post(r.reconcile)
		}
	}
}

// reconcile performs a single reconciliation pass.
func (r *Reconciler) reconcile() {
	for _, pass := range r.passes {
		r.runPass(pass)
	}
}

func (r *Reconciler) runPass(pass Pass) {
	// Recover from panics to prevent crashing the daemon
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("reconciler panic recovered", "pass", pass.Name, "error", err)
		}
	}()
	pass.Run()
}

// ReconcileNow runs every pass immediately on the UI loop and waits for it.
func (r *Reconciler) ReconcileNow() {
	_ = r.ui.Call(func() error {
		r.reconcile()
		return nil
	})
}
