package embed

import (
	"fmt"
	"log/slog"

	"github.com/1broseidon/deskportal/internal/clock"
	"github.com/1broseidon/deskportal/internal/platform"
	"github.com/1broseidon/deskportal/internal/portal"
	"github.com/1broseidon/deskportal/internal/uithread"
)

// Deps are the collaborators shared by every embedder of a daemon.
type Deps struct {
	Native     platform.Native
	Launcher   platform.Launcher
	Dispatcher uithread.Dispatcher
	Clock      clock.Clock
	Logger     *slog.Logger
	// Events receives every event; a buffered channel is created when nil.
	Events chan Event
}

// Embedder drives one app portal's foreign window. Every method except
// Events must be called on the UI loop; launch polling and exit watching
// run on their own goroutines and marshal back through the dispatcher.
type Embedder struct {
	id   string
	app  portal.App
	host Host
	cfg  Config

	native   platform.Native
	launcher platform.Launcher
	dispatch uithread.Dispatcher
	clock    clock.Clock
	logger   *slog.Logger
	events   chan Event

	state      State
	status     string
	launching  bool
	generation uint64

	proc       platform.Process
	window     platform.Handle
	origStyle  platform.Style
	origEx     platform.ExStyle
	origBounds platform.Rect
	region     platform.Region
	clipped    platform.Rect
	hidden     bool
}

// New returns a stopped embedder for the app portal id.
func New(id string, app portal.App, host Host, cfg Config, deps Deps) *Embedder {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = uithread.Inline{}
	}
	if deps.Events == nil {
		deps.Events = make(chan Event, 32)
	}
	return &Embedder{
		id:       id,
		app:      app,
		host:     host,
		cfg:      cfg.withDefaults(),
		native:   deps.Native,
		launcher: deps.Launcher,
		dispatch: deps.Dispatcher,
		clock:    deps.Clock,
		logger:   deps.Logger.With("portal", id),
		events:   deps.Events,
		status:   "stopped",
	}
}

// Events returns the channel events are published on.
func (e *Embedder) Events() <-chan Event { return e.events }

// State returns the current lifecycle state.
func (e *Embedder) State() State { return e.state }

// Status returns a human-readable description of the last transition.
func (e *Embedder) Status() string { return e.status }

// Launching reports whether a Start is waiting for the app's window.
func (e *Embedder) Launching() bool { return e.launching }

// PID returns the running process id, or zero.
func (e *Embedder) PID() int {
	if e.proc == nil {
		return 0
	}
	return e.proc.PID()
}

// Window returns the embedded foreign window, or zero.
func (e *Embedder) Window() platform.Handle { return e.window }

// SetApp replaces the executable used by the next Start.
func (e *Embedder) SetApp(app portal.App) { e.app = app }

func (e *Embedder) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("dropping embedder event, host is not draining", "event", fmt.Sprintf("%T", ev))
	}
}

func (e *Embedder) transition(to State, status string) {
	from := e.state
	e.state = to
	e.status = status
	e.emit(StateChanged{ID: e.id, From: from, To: to, Status: status})
}

func (e *Embedder) invalid(op string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, op, e.state)
}

// Start launches the executable and begins polling for its main window.
// The outcome arrives as a StateChanged event.
func (e *Embedder) Start() error {
	if e.state != Stopped || e.launching {
		return e.invalid("start")
	}
	proc, err := e.launcher.Start(e.app.ExecutablePath, e.app.Args)
	if err != nil {
		e.status = err.Error()
		e.emit(StateChanged{ID: e.id, From: Stopped, To: Stopped, Status: e.status})
		return err
	}

	e.generation++
	e.launching = true
	e.proc = proc
	e.status = "launching"
	e.logger.Info("launched app", "path", e.app.ExecutablePath, "pid", proc.PID())

	go e.awaitWindow(e.generation, proc)
	return nil
}

// awaitWindow runs off the UI loop. It only uses read-only window queries.
func (e *Embedder) awaitWindow(gen uint64, proc platform.Process) {
	deadline := e.clock.Now().Add(e.cfg.LaunchTimeout)
	for {
		select {
		case <-proc.Done():
			e.finishLaunch(gen, proc, 0, "process exited before showing a window")
			return
		default:
		}

		if h, ok := e.qualifyingWindow(proc.PID()); ok {
			e.finishLaunch(gen, proc, h, "")
			return
		}
		if !e.clock.Now().Before(deadline) {
			e.finishLaunch(gen, proc, 0, fmt.Sprintf("no window found within %s", e.cfg.LaunchTimeout))
			return
		}
		e.clock.Sleep(e.cfg.PollInterval)
	}
}

func (e *Embedder) qualifyingWindow(pid int) (platform.Handle, bool) {
	h, err := e.native.MainWindowOf(pid)
	if err != nil || h == 0 || !e.native.IsVisible(h) {
		return 0, false
	}
	r, err := e.native.WindowRect(h)
	if err != nil || r.Width < e.cfg.MinWidth || r.Height < e.cfg.MinHeight {
		return 0, false
	}
	return h, true
}

func (e *Embedder) finishLaunch(gen uint64, proc platform.Process, h platform.Handle, failure string) {
	err := e.dispatch.Call(func() error {
		if gen != e.generation || !e.launching {
			return nil
		}
		e.launching = false
		if h == 0 {
			e.abortLaunch(proc, failure)
			return nil
		}
		if err := e.adopt(h); err != nil {
			e.abortLaunch(proc, err.Error())
			return nil
		}
		go e.watchExit(gen, proc)
		e.transition(Running, "running")
		return nil
	})
	if err != nil {
		_ = proc.Kill()
	}
}

func (e *Embedder) abortLaunch(proc platform.Process, status string) {
	e.logger.Warn("app launch failed", "path", e.app.ExecutablePath, "status", status)
	if err := proc.Kill(); err != nil {
		e.logger.Debug("failed to kill abandoned process", "error", err)
	}
	e.proc = nil
	e.transition(Stopped, status)
}

// adopt records the window's original presentation and embeds it.
func (e *Embedder) adopt(h platform.Handle) error {
	style, err := e.native.Style(h)
	if err != nil {
		return fmt.Errorf("failed to read window style: %w", err)
	}
	ex, err := e.native.ExStyle(h)
	if err != nil {
		return fmt.Errorf("failed to read extended style: %w", err)
	}
	bounds, err := e.native.WindowRect(h)
	if err != nil {
		return fmt.Errorf("failed to read window bounds: %w", err)
	}
	e.window = h
	e.origStyle = style
	e.origEx = ex
	e.origBounds = bounds
	if err := e.embed(); err != nil {
		e.window = 0
		return err
	}
	return nil
}

func (e *Embedder) watchExit(gen uint64, proc platform.Process) {
	<-proc.Done()
	e.dispatch.Post(func() { e.processExited(gen) })
}

func (e *Embedder) processExited(gen uint64) {
	if gen != e.generation {
		return
	}
	e.logger.Info("embedded app exited", "state", e.state.String())
	e.release()
	e.transition(Stopped, "process exited")
}

// embed strips decorations, makes the window a sibling of the portal and
// clips it to the portal's content area.
func (e *Embedder) embed() error {
	h := e.window
	style := (e.origStyle &^ (platform.StyleDecorations | platform.StylePopup)) | platform.StyleChild
	if err := e.native.SetStyle(h, style); err != nil {
		return fmt.Errorf("failed to strip decorations: %w", err)
	}
	ex := (e.origEx &^ platform.ExStyleAppWindow) | platform.ExStyleToolWindow
	if err := e.native.SetExStyle(h, ex); err != nil {
		return fmt.Errorf("failed to hide from task switcher: %w", err)
	}
	if err := e.native.SetParent(h, e.host.ParentWindow()); err != nil {
		return fmt.Errorf("failed to reparent app window: %w", err)
	}
	if err := e.place(); err != nil {
		return err
	}
	if e.hidden {
		return e.native.Hide(h)
	}
	return nil
}

func (e *Embedder) contentArea() platform.Rect {
	b := e.host.ScreenBounds()
	return platform.Rect{
		X:      b.X,
		Y:      b.Y + e.cfg.HeaderHeight,
		Width:  b.Width,
		Height: max(b.Height-e.cfg.HeaderHeight, 1),
	}
}

// place positions and clips the window to the content area. When the app
// enforces a larger minimum size the host is asked to grow and the window is
// clipped at that size instead.
func (e *Embedder) place() error {
	content := e.contentArea()
	if err := e.position(content); err != nil {
		return err
	}

	actual, err := e.native.WindowRect(e.window)
	if err != nil {
		return fmt.Errorf("failed to read app window bounds: %w", err)
	}
	if actual.Width > content.Width || actual.Height > content.Height {
		content.Width = max(actual.Width, content.Width)
		content.Height = max(actual.Height, content.Height)
		e.emit(ResizeRequested{ID: e.id, Width: content.Width, Height: content.Height + e.cfg.HeaderHeight})
		if err := e.position(content); err != nil {
			return err
		}
	}
	return e.clip(content)
}

func (e *Embedder) position(content platform.Rect) error {
	parent := e.host.ParentWindow()
	client, err := e.native.ScreenToClient(parent, content.Origin())
	if err != nil {
		return fmt.Errorf("failed to convert app position: %w", err)
	}
	r := platform.Rect{X: client.X, Y: client.Y, Width: content.Width, Height: content.Height}
	if err := e.native.SetPosition(e.window, r, platform.PositionShow|platform.PositionNoActivate|platform.PositionFrameChanged); err != nil {
		return fmt.Errorf("failed to position app window: %w", err)
	}
	return nil
}

// clip installs a fresh region and only then releases the previous one.
func (e *Embedder) clip(content platform.Rect) error {
	region, err := e.native.CreateRectRegion(content.Width, content.Height)
	if err != nil {
		return fmt.Errorf("failed to create clipping region: %w", err)
	}
	if err := e.native.SetWindowRegion(e.window, region); err != nil {
		_ = e.native.DeleteRegion(region)
		return fmt.Errorf("failed to apply clipping region: %w", err)
	}
	if e.region != 0 {
		if err := e.native.DeleteRegion(e.region); err != nil {
			e.logger.Warn("failed to release previous region", "error", err)
		}
	}
	e.region = region
	e.clipped = content
	return nil
}

func (e *Embedder) releaseRegion() {
	if e.region == 0 {
		return
	}
	if e.window != 0 && e.native.IsWindow(e.window) {
		_ = e.native.SetWindowRegion(e.window, 0)
	}
	if err := e.native.DeleteRegion(e.region); err != nil {
		e.logger.Warn("failed to release region", "error", err)
	}
	e.region = 0
	e.clipped = platform.Rect{}
}

// release drops process, window and region state.
func (e *Embedder) release() {
	e.releaseRegion()
	e.proc = nil
	e.window = 0
	e.launching = false
	e.generation++
}

// Stop kills the process and waits briefly for it to exit.
func (e *Embedder) Stop() error {
	if e.state != Running {
		return e.invalid("stop")
	}
	e.terminate()
	e.transition(Stopped, "stopped")
	return nil
}

func (e *Embedder) terminate() {
	proc := e.proc
	e.release()
	if proc == nil {
		return
	}
	if err := proc.Kill(); err != nil {
		e.logger.Warn("failed to kill app", "pid", proc.PID(), "error", err)
	}
	select {
	case <-proc.Done():
	case <-e.clock.After(e.cfg.StopWait):
		e.logger.Warn("app did not exit in time", "pid", proc.PID())
	}
}

// PopOut returns the window to the desktop with its original style and bounds.
func (e *Embedder) PopOut() error {
	if e.state != Running {
		return e.invalid("pop out")
	}
	h := e.window
	// The window keeps its clip until it is really off the host.
	if err := e.native.SetParent(h, 0); err != nil {
		return fmt.Errorf("failed to unparent app window: %w", err)
	}
	e.releaseRegion()
	if err := e.native.SetStyle(h, e.origStyle); err != nil {
		e.logger.Warn("failed to restore style", "error", err)
	}
	if err := e.native.SetExStyle(h, e.origEx); err != nil {
		e.logger.Warn("failed to restore extended style", "error", err)
	}
	if err := e.native.SetPosition(h, e.origBounds, platform.PositionShow|platform.PositionFrameChanged); err != nil {
		e.logger.Warn("failed to restore bounds", "error", err)
	}
	if err := e.native.SetForeground(h); err != nil {
		e.logger.Debug("failed to focus popped out window", "error", err)
	}
	e.transition(PoppedOut, "popped out")
	return nil
}

// PopIn re-embeds a popped out window.
func (e *Embedder) PopIn() error {
	if e.state != PoppedOut {
		return e.invalid("pop in")
	}
	if err := e.embed(); err != nil {
		return err
	}
	e.transition(Running, "running")
	return nil
}

// OnContentResized re-places the window after the host changed size.
func (e *Embedder) OnContentResized() {
	e.track()
}

// OnPortalMoved re-places the window after the host moved.
func (e *Embedder) OnPortalMoved() {
	e.track()
}

func (e *Embedder) track() {
	if e.state != Running || e.hidden {
		return
	}
	if err := e.place(); err != nil {
		e.logger.Warn("failed to track portal geometry", "error", err)
	}
}

// SetHidden hides the embedded window, for a rolled up or hidden portal,
// and re-places it when shown again.
func (e *Embedder) SetHidden(hidden bool) {
	if e.hidden == hidden {
		return
	}
	e.hidden = hidden
	if e.state != Running || e.window == 0 {
		return
	}
	if hidden {
		if err := e.native.Hide(e.window); err != nil {
			e.logger.Warn("failed to hide app window", "error", err)
		}
		return
	}
	e.track()
}

// Hidden reports whether SetHidden(true) is in effect.
func (e *Embedder) Hidden() bool { return e.hidden }

// Reattach re-parents a running window after the portal's own parent
// changed, for example when the desktop shell was restarted.
func (e *Embedder) Reattach() error {
	if e.state != Running {
		return nil
	}
	if !e.native.IsWindow(e.window) {
		e.logger.Warn("embedded window vanished, stopping app")
		e.terminate()
		e.transition(Stopped, "window destroyed")
		return nil
	}
	if err := e.native.SetParent(e.window, e.host.ParentWindow()); err != nil {
		return fmt.Errorf("failed to reparent app window: %w", err)
	}
	if e.hidden {
		return e.native.Hide(e.window)
	}
	return e.place()
}

// ClippedBounds returns the content rectangle the window is clipped to.
func (e *Embedder) ClippedBounds() platform.Rect { return e.clipped }

// Close terminates the app in any state. Used when the portal is removed or
// the daemon shuts down.
func (e *Embedder) Close() {
	if e.state == Stopped && !e.launching {
		return
	}
	from := e.state
	e.terminate()
	if from != Stopped {
		e.transition(Stopped, "closed")
	}
}
