package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/1broseidon/deskportal/internal/clock"
	"github.com/1broseidon/deskportal/internal/config"
	"github.com/1broseidon/deskportal/internal/ipc"
	"github.com/1broseidon/deskportal/internal/platform"
	"github.com/1broseidon/deskportal/internal/runtimepath"
	"github.com/1broseidon/deskportal/internal/uithread"
)

// RunOptions configures a daemon run.
type RunOptions struct {
	// Loaded is the config the daemon starts with.
	Loaded     *config.LoadResult
	ConfigPath string
	SocketPath string
	Logger     *slog.Logger
	// HandleSignals installs SIGHUP/SIGINT/SIGTERM handling.
	HandleSignals bool
}

// OpenBackend returns the native backend selected by name, and the
// launcher that starts app processes for it.
func OpenBackend(name config.Backend, clk clock.Clock) (platform.Native, platform.Launcher, error) {
	switch name {
	case config.BackendMemory:
		mem := platform.NewMemory(clk)
		mem.InstallShell(platform.ShellIconViewUnderRoot, platform.Point{})
		return mem, mem.Launcher(), nil
	case config.BackendX11:
		if runtime.GOOS != "linux" {
			return nil, nil, fmt.Errorf("backend %q is only available on linux", name)
		}
	case config.BackendWin32:
		if runtime.GOOS != "windows" {
			return nil, nil, fmt.Errorf("backend %q is only available on windows", name)
		}
	case config.BackendAuto, "":
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", name)
	}
	native, err := platform.NewNativeBackend()
	if err != nil {
		return nil, nil, err
	}
	return native, platform.ExecLauncher{}, nil
}

// Run starts the daemon and blocks until ctx is cancelled, a signal asks
// it to stop, or a client sends SHUTDOWN. It returns an error wrapping
// shell.ErrShellNotReady when the desktop shell could not be found.
func Run(ctx context.Context, opts RunOptions) error {
	if opts.Loaded == nil {
		return errors.New("daemon needs a loaded config")
	}
	cfg := opts.Loaded.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clk := clock.Real{}
	native, launcher, err := OpenBackend(cfg.Backend, clk)
	if err != nil {
		return err
	}
	if c, ok := native.(platform.Closer); ok {
		defer c.Close()
	}

	var pumper platform.Pumper
	if p, ok := native.(platform.Pumper); ok {
		pumper = p
	}
	loop := uithread.New(pumper)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr, err := NewManager(ManagerOptions{
		Config:     cfg,
		ConfigPath: opts.ConfigPath,
		Native:     native,
		Launcher:   launcher,
		UI:         loop,
		Clock:      clk,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	mgr.SetShutdownFunc(cancel)

	if err := loop.Call(mgr.Start); err != nil {
		return err
	}
	logger.Info("deskportal daemon started", "backend", cfg.Backend, "pid", os.Getpid())

	removePID := writePIDFile(logger)
	defer removePID()

	server, err := ipc.NewServer(opts.SocketPath, mgr, logger.With("component", "ipc"))
	if err != nil {
		_ = loop.Call(func() error { mgr.Stop(); return nil })
		return err
	}
	if err := server.Start(); err != nil {
		_ = loop.Call(func() error { mgr.Stop(); return nil })
		return err
	}

	go mgr.PumpEvents(ctx)

	rec := NewReconciler(ReconcilerConfig{
		Interval: cfg.ZOrder.Interval,
		Logger:   logger.With("component", "reconciler"),
	}, loop, mgr.Passes()...)
	go rec.Run(ctx)

	reload := func() {
		if err := mgr.Reload(); err != nil {
			logger.Warn("config reload failed", "error", err)
		}
	}

	watched := opts.Loaded.Files
	if opts.ConfigPath != "" {
		watched = append([]string{opts.ConfigPath}, watched...)
	}
	if len(watched) > 0 {
		watcher, err := NewConfigWatcher(watched, reload, logger.With("component", "watcher"))
		if err != nil {
			logger.Warn("config watching disabled", "error", err)
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watching disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg := <-mgr.Reloaded():
				rec.SetInterval(newCfg.ZOrder.Interval)
			}
		}
	}()

	if opts.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(sigCh)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case sig := <-sigCh:
					if sig == syscall.SIGHUP {
						logger.Info("received SIGHUP, reloading config")
						reload()
						continue
					}
					logger.Info("shutting down deskportal daemon", "signal", sig.String())
					cancel()
				}
			}
		}()
	}

	<-ctx.Done()

	server.Stop()
	if err := loop.Call(func() error { mgr.Stop(); return nil }); err != nil {
		logger.Warn("final save skipped", "error", err)
	}
	logger.Info("deskportal daemon stopped")
	return nil
}

func writePIDFile(logger *slog.Logger) func() {
	path, err := runtimepath.PIDPath()
	if err != nil {
		logger.Warn("no pid file", "error", err)
		return func() {}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		logger.Warn("failed to write pid file", "path", path, "error", err)
		return func() {}
	}
	return func() { _ = os.Remove(path) }
}
