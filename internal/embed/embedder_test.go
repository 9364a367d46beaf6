package embed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/1broseidon/deskportal/internal/clock"
	"github.com/1broseidon/deskportal/internal/platform"
	"github.com/1broseidon/deskportal/internal/portal"
	"github.com/1broseidon/deskportal/internal/uithread"
)

const appPath = "/usr/bin/fake-app"

type fakeHost struct {
	bounds platform.Rect
	parent platform.Handle
}

func (h *fakeHost) ScreenBounds() platform.Rect   { return h.bounds }
func (h *fakeHost) ParentWindow() platform.Handle { return h.parent }

type harness struct {
	mem  *platform.Memory
	clk  *clock.Fake
	loop *uithread.Loop
	host *fakeHost
	emb  *Embedder
}

func newHarness(t *testing.T, script platform.AppScript) *harness {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })

	clk := clock.NewFake(time.Unix(0, 0))
	mem := platform.NewMemory(clk)
	mem.InstallShell(platform.ShellIconViewUnderRoot, platform.Point{})
	mem.Launcher().Register(appPath, script)

	loop := uithread.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	host := &fakeHost{bounds: platform.Rect{X: 100, Y: 100, Width: 400, Height: 300}, parent: mem.IconView()}
	emb := New("p1", portal.App{ExecutablePath: appPath}, host, DefaultConfig(), Deps{
		Native:     mem,
		Launcher:   mem.Launcher(),
		Dispatcher: loop,
		Clock:      clk,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &harness{mem: mem, clk: clk, loop: loop, host: host, emb: emb}
}

func (h *harness) do(t *testing.T, fn func() error) error {
	t.Helper()
	return h.loop.Call(fn)
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	var s State
	_ = h.loop.Call(func() error { s = h.emb.State(); return nil })
	return s
}

// waitFor collects events until a StateChanged to want arrives.
func (h *harness) waitFor(t *testing.T, want State) (StateChanged, []Event) {
	t.Helper()
	var seen []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.emb.Events():
			seen = append(seen, ev)
			if sc, ok := ev.(StateChanged); ok && sc.To == want {
				return sc, seen
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s, saw %v", want, seen)
		}
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.do(t, h.emb.Start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sc, _ := h.waitFor(t, Running); sc.From != Stopped {
		t.Fatalf("transition = %+v", sc)
	}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	if err := h.do(t, h.emb.Stop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func mainWindowScript() platform.AppScript {
	return platform.AppScript{Windows: []platform.ScriptedWindow{{After: 300 * time.Millisecond, Size: platform.Size{Width: 200, Height: 150}}}}
}

func TestStartIgnoresSplashWindow(t *testing.T) {
	h := newHarness(t, platform.AppScript{Windows: []platform.ScriptedWindow{
		{After: 200 * time.Millisecond, Size: platform.Size{Width: 40, Height: 40}},
		{After: 2 * time.Second, Size: platform.Size{Width: 200, Height: 150}},
	}})
	begin := h.clk.Now()

	h.start(t)

	if took := h.clk.Now().Sub(begin); took > 3*time.Second {
		t.Fatalf("launch took %v of fake time", took)
	}
	var win platform.Handle
	_ = h.do(t, func() error { win = h.emb.Window(); return nil })
	main, err := h.mem.MainWindowOf(4001)
	if err != nil || win != main {
		t.Fatalf("embedded %#x, main window %#x (%v)", win, main, err)
	}

	style, _ := h.mem.Style(win)
	if style&platform.StyleChild == 0 || style&platform.StyleCaption != 0 {
		t.Fatalf("style = %#x, want child without caption", style)
	}
	ex, _ := h.mem.ExStyle(win)
	if ex&platform.ExStyleToolWindow == 0 {
		t.Fatalf("ex style = %#x, want tool window", ex)
	}
	parent, _ := h.mem.Parent(win)
	if parent != h.host.parent {
		t.Fatalf("parent = %#x, want portal parent %#x", parent, h.host.parent)
	}
	rect, _ := h.mem.WindowRect(win)
	want := platform.Rect{X: 100, Y: 132, Width: 400, Height: 268}
	if rect != want {
		t.Fatalf("rect = %+v, want %+v", rect, want)
	}
	if _, clip, ok := h.mem.RegionOf(win); !ok || clip.Width != 400 || clip.Height != 268 {
		t.Fatalf("clip = %+v, %v", clip, ok)
	}

	h.stop(t)
}

func TestStartTimesOutWithoutQualifyingWindow(t *testing.T) {
	h := newHarness(t, platform.AppScript{Windows: []platform.ScriptedWindow{
		{After: 100 * time.Millisecond, Size: platform.Size{Width: 40, Height: 40}},
	}})

	if err := h.do(t, h.emb.Start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sc, _ := h.waitFor(t, Stopped)
	if !strings.Contains(sc.Status, "no window found") {
		t.Fatalf("status = %q", sc.Status)
	}
	if h.clk.Now().Sub(time.Unix(0, 0)) < 10*time.Second {
		t.Fatalf("gave up before the launch timeout: %v", h.clk.Now())
	}
	proc, ok := h.mem.Launcher().Process(4001)
	if !ok {
		t.Fatalf("process not found")
	}
	select {
	case <-proc.Done():
	default:
		t.Fatalf("abandoned process should be killed")
	}
	if h.state(t) != Stopped {
		t.Fatalf("state = %s", h.state(t))
	}
}

func TestStartAbortsWhenProcessExits(t *testing.T) {
	h := newHarness(t, platform.AppScript{ExitAfter: 500 * time.Millisecond})

	if err := h.do(t, h.emb.Start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sc, _ := h.waitFor(t, Stopped)
	if !strings.Contains(sc.Status, "exited") {
		t.Fatalf("status = %q", sc.Status)
	}
}

func TestStartUnknownExecutable(t *testing.T) {
	h := newHarness(t, mainWindowScript())
	h.emb.SetApp(portal.App{ExecutablePath: "/missing"})

	if err := h.do(t, h.emb.Start); err == nil {
		t.Fatalf("expected launch error")
	}
	if h.state(t) != Stopped {
		t.Fatalf("state = %s", h.state(t))
	}
}

func TestIllegalTransitionsAreRejected(t *testing.T) {
	h := newHarness(t, mainWindowScript())

	for name, op := range map[string]func() error{
		"pop out": h.emb.PopOut,
		"pop in":  h.emb.PopIn,
		"stop":    h.emb.Stop,
	} {
		if err := h.do(t, op); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s from stopped = %v, want ErrInvalidTransition", name, err)
		}
	}
	if h.state(t) != Stopped {
		t.Fatalf("state changed to %s", h.state(t))
	}

	h.start(t)
	if err := h.do(t, h.emb.Start); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start from running = %v", err)
	}
	if err := h.do(t, h.emb.PopIn); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pop in from running = %v", err)
	}
	if h.state(t) != Running {
		t.Fatalf("state = %s", h.state(t))
	}

	if err := h.do(t, h.emb.PopOut); err != nil {
		t.Fatalf("PopOut: %v", err)
	}
	if err := h.do(t, h.emb.Stop); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("stop from popped out = %v", err)
	}
	if err := h.do(t, h.emb.PopIn); err != nil {
		t.Fatalf("PopIn: %v", err)
	}
	h.stop(t)
}

func TestResizesKeepExactlyOneRegion(t *testing.T) {
	h := newHarness(t, mainWindowScript())
	h.start(t)

	sizes := []platform.Rect{
		{X: 100, Y: 100, Width: 500, Height: 400},
		{X: 120, Y: 80, Width: 300, Height: 200},
		{X: 0, Y: 0, Width: 640, Height: 480},
		{X: 10, Y: 10, Width: 640, Height: 480},
	}
	for _, b := range sizes {
		var clipped platform.Rect
		_ = h.do(t, func() error {
			h.host.bounds = b
			h.emb.OnContentResized()
			clipped = h.emb.ClippedBounds()
			return nil
		})
		want := platform.Rect{X: b.X, Y: b.Y + 32, Width: b.Width, Height: b.Height - 32}
		if clipped != want {
			t.Fatalf("clipped = %+v, want %+v", clipped, want)
		}
		if live := h.mem.LiveRegions(); live != 1 {
			t.Fatalf("live regions = %d after resize to %+v", live, b)
		}
	}
	_ = h.do(t, func() error {
		h.host.bounds.X += 50
		h.emb.OnPortalMoved()
		return nil
	})
	if h.mem.LiveRegions() != 1 || h.mem.DoubleFrees() != 0 {
		t.Fatalf("live = %d, double frees = %d", h.mem.LiveRegions(), h.mem.DoubleFrees())
	}

	h.stop(t)
	if h.mem.LiveRegions() != 0 || h.mem.DoubleFrees() != 0 {
		t.Fatalf("after stop: live = %d, double frees = %d", h.mem.LiveRegions(), h.mem.DoubleFrees())
	}
}

func TestMinimumSizeRequestsHostResize(t *testing.T) {
	script := mainWindowScript()
	script.MinSize = platform.Size{Width: 500, Height: 400}
	h := newHarness(t, script)

	if err := h.do(t, h.emb.Start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, seen := h.waitFor(t, Running)

	var req *ResizeRequested
	for _, ev := range seen {
		if r, ok := ev.(ResizeRequested); ok {
			req = &r
		}
	}
	if req == nil {
		t.Fatalf("expected a resize request, saw %v", seen)
	}
	if req.Width != 500 || req.Height != 432 || req.ID != "p1" {
		t.Fatalf("resize request = %+v", *req)
	}

	var win platform.Handle
	_ = h.do(t, func() error { win = h.emb.Window(); return nil })
	if _, clip, _ := h.mem.RegionOf(win); clip.Width != 500 || clip.Height != 400 {
		t.Fatalf("clip = %+v, want the enforced minimum", clip)
	}
	if h.mem.LiveRegions() != 1 {
		t.Fatalf("live regions = %d", h.mem.LiveRegions())
	}
	h.stop(t)
}

func TestPopOutThenPopInRestoresClippedBounds(t *testing.T) {
	h := newHarness(t, mainWindowScript())
	h.start(t)

	var win platform.Handle
	_ = h.do(t, func() error { win = h.emb.Window(); return nil })
	before, _ := h.mem.WindowRect(win)
	_, clipBefore, _ := h.mem.RegionOf(win)

	if err := h.do(t, h.emb.PopOut); err != nil {
		t.Fatalf("PopOut: %v", err)
	}
	if h.state(t) != PoppedOut {
		t.Fatalf("state = %s", h.state(t))
	}
	parent, _ := h.mem.Parent(win)
	style, _ := h.mem.Style(win)
	rect, _ := h.mem.WindowRect(win)
	if parent != 0 || style&platform.StyleCaption == 0 {
		t.Fatalf("popped out parent = %#x style = %#x", parent, style)
	}
	if rect != (platform.Rect{X: 100, Y: 100, Width: 200, Height: 150}) {
		t.Fatalf("popped out rect = %+v, want original bounds", rect)
	}
	if h.mem.LiveRegions() != 0 {
		t.Fatalf("region should be released on pop out")
	}

	if err := h.do(t, h.emb.PopIn); err != nil {
		t.Fatalf("PopIn: %v", err)
	}
	after, _ := h.mem.WindowRect(win)
	_, clipAfter, _ := h.mem.RegionOf(win)
	style, _ = h.mem.Style(win)
	if after != before || clipAfter != clipBefore {
		t.Fatalf("bounds %+v/%+v, want %+v/%+v", after, clipAfter, before, clipBefore)
	}
	if style&platform.StyleCaption != 0 || style&platform.StyleChild == 0 {
		t.Fatalf("style not re-stripped: %#x", style)
	}
	h.stop(t)
}

func TestFailedPopOutKeepsWindowClipped(t *testing.T) {
	h := newHarness(t, mainWindowScript())
	h.start(t)

	var win platform.Handle
	var clipped platform.Rect
	_ = h.do(t, func() error { win, clipped = h.emb.Window(), h.emb.ClippedBounds(); return nil })
	region, rect, live := h.mem.RegionOf(win)
	if !live {
		t.Fatal("running window has no live region")
	}

	h.mem.Fail("SetParent", errors.New("access denied"))
	if err := h.do(t, h.emb.PopOut); err == nil {
		t.Fatal("PopOut succeeded with a failing unparent")
	}
	h.mem.Fail("SetParent", nil)

	if h.state(t) != Running {
		t.Fatalf("state = %s, want running", h.state(t))
	}
	gotRegion, gotRect, gotLive := h.mem.RegionOf(win)
	if gotRegion != region || gotRect != rect || !gotLive || h.mem.LiveRegions() != 1 {
		t.Fatalf("region %v %+v live=%v (total %d), want %v %+v", gotRegion, gotRect, gotLive, h.mem.LiveRegions(), region, rect)
	}
	var after platform.Rect
	_ = h.do(t, func() error { after = h.emb.ClippedBounds(); return nil })
	if after != clipped {
		t.Fatalf("clipped bounds = %+v, want %+v", after, clipped)
	}

	if err := h.do(t, h.emb.PopOut); err != nil {
		t.Fatalf("PopOut after recovery: %v", err)
	}
	if h.mem.LiveRegions() != 0 || h.mem.DoubleFrees() != 0 {
		t.Fatalf("live regions = %d, double frees = %d", h.mem.LiveRegions(), h.mem.DoubleFrees())
	}
	h.stop(t)
}

func TestExternalExitForcesStopped(t *testing.T) {
	h := newHarness(t, mainWindowScript())
	h.start(t)
	if err := h.do(t, h.emb.PopOut); err != nil {
		t.Fatalf("PopOut: %v", err)
	}

	proc, _ := h.mem.Launcher().Process(4001)
	proc.Exit()

	sc, _ := h.waitFor(t, Stopped)
	if sc.From != PoppedOut || sc.Status != "process exited" {
		t.Fatalf("transition = %+v", sc)
	}
	_ = h.do(t, func() error {
		if h.emb.Window() != 0 || h.emb.PID() != 0 {
			t.Errorf("process fields not cleared")
		}
		return nil
	})
}

func TestStaleExitIsIgnoredAfterRestart(t *testing.T) {
	h := newHarness(t, mainWindowScript())
	h.start(t)
	h.stop(t)
	h.start(t)

	// Give the first watcher's stale notification a chance to run.
	_ = h.do(t, func() error { return nil })
	_ = h.do(t, func() error { return nil })

	if h.state(t) != Running {
		t.Fatalf("state = %s, stale exit must not stop the new process", h.state(t))
	}
	var pid int
	_ = h.do(t, func() error { pid = h.emb.PID(); return nil })
	if pid != 4002 {
		t.Fatalf("pid = %d, want second launch", pid)
	}
	h.stop(t)
}

func TestCloseStopsInAnyState(t *testing.T) {
	h := newHarness(t, mainWindowScript())
	h.start(t)
	_ = h.do(t, h.emb.PopOut)

	_ = h.do(t, func() error { h.emb.Close(); return nil })
	if h.state(t) != Stopped || h.mem.LiveRegions() != 0 {
		t.Fatalf("state = %s live = %d", h.state(t), h.mem.LiveRegions())
	}
}

func TestHiddenWindowIgnoresGeometryUntilShown(t *testing.T) {
	h := newHarness(t, mainWindowScript())
	h.start(t)

	var win platform.Handle
	_ = h.do(t, func() error {
		win = h.emb.Window()
		h.emb.SetHidden(true)
		h.host.bounds = platform.Rect{X: 300, Y: 300, Width: 500, Height: 400}
		h.emb.OnPortalMoved()
		return nil
	})
	var hidden bool
	_ = h.do(t, func() error { hidden = h.emb.Hidden(); return nil })
	if !hidden || h.mem.IsVisible(win) {
		t.Fatalf("hidden = %v, visible = %v", hidden, h.mem.IsVisible(win))
	}

	var clipped platform.Rect
	_ = h.do(t, func() error {
		h.emb.SetHidden(false)
		clipped = h.emb.ClippedBounds()
		return nil
	})
	if !h.mem.IsVisible(win) || clipped != (platform.Rect{X: 300, Y: 332, Width: 500, Height: 368}) {
		t.Fatalf("after show: visible = %v, clipped = %+v", h.mem.IsVisible(win), clipped)
	}
	h.stop(t)
}
