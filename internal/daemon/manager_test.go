package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/1broseidon/deskportal/internal/clock"
	"github.com/1broseidon/deskportal/internal/config"
	"github.com/1broseidon/deskportal/internal/fileops"
	"github.com/1broseidon/deskportal/internal/ipc"
	"github.com/1broseidon/deskportal/internal/layout"
	"github.com/1broseidon/deskportal/internal/platform"
	"github.com/1broseidon/deskportal/internal/shell"
	"github.com/1broseidon/deskportal/internal/uithread"
)

const appPath = "/usr/bin/fake-editor"

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type harness struct {
	mem    *platform.Memory
	clk    *clock.Fake
	loop   *uithread.Loop
	mgr    *Manager
	cfg    *config.Config
	dir    string
	layout string
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Attach.Attempts = 2
	cfg.Attach.RetryDelay = time.Second
	cfg.Layout.AutosaveDelay = 0
	return cfg
}

func renameMover() *fileops.Mover {
	return &fileops.Mover{Layers: []fileops.Layer{{
		Name: "rename",
		Move: func(_ context.Context, src, dst string) error { return os.Rename(src, dst) },
	}}}
}

func startLoop(t *testing.T) *uithread.Loop {
	t.Helper()
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
	return loop
}

func newHarness(t *testing.T, shellLayout platform.ShellLayout) *harness {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })

	dir := t.TempDir()
	clk := clock.NewFake(time.Unix(0, 0))
	mem := platform.NewMemory(clk)
	mem.InstallShell(shellLayout, platform.Point{})
	mem.Launcher().Register(appPath, platform.AppScript{Windows: []platform.ScriptedWindow{
		{After: 200 * time.Millisecond, Size: platform.Size{Width: 300, Height: 200}},
	}})

	h := &harness{
		mem:    mem,
		clk:    clk,
		loop:   startLoop(t),
		cfg:    testConfig(),
		dir:    dir,
		layout: filepath.Join(dir, "layout.json"),
	}
	h.mgr = h.newManager(t)
	return h
}

func (h *harness) newManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(ManagerOptions{
		Config:      h.cfg,
		LayoutPath:  h.layout,
		ProfilesDir: filepath.Join(h.dir, "profiles"),
		Native:      h.mem,
		Launcher:    h.mem.Launcher(),
		UI:          h.loop,
		Clock:       h.clk,
		Mover:       renameMover(),
		Logger:      quiet(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func (h *harness) start(t *testing.T, mgr *Manager) {
	t.Helper()
	if err := h.loop.Call(mgr.Start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.loop.Call(func() error { mgr.Stop(); return nil }) })
}

func (h *harness) readLayout(t *testing.T) *layout.Config {
	t.Helper()
	cfg, err := layout.NewStore(h.layout, 0).Read()
	if err != nil {
		t.Fatalf("read layout: %v", err)
	}
	return cfg
}

func (h *harness) folder(t *testing.T, title string) ipc.PortalInfo {
	t.Helper()
	info, err := h.mgr.CreatePortal(ipc.CreatePortalPayload{
		Type: "folder", Title: title, X: 100, Y: 80, Width: 300, Height: 200, FolderPath: h.dir,
	})
	if err != nil {
		t.Fatalf("CreatePortal: %v", err)
	}
	return info
}

func TestManager_CreatePersistRestore(t *testing.T) {
	h := newHarness(t, platform.ShellIconViewUnderRoot)
	h.start(t, h.mgr)

	info := h.folder(t, "Inbox")
	if info.ID == "" || !info.Attached {
		t.Fatalf("unexpected portal info: %+v", info)
	}

	saved := h.readLayout(t)
	if len(saved.Portals) != 1 || saved.Portals[0].ID != info.ID || saved.Portals[0].FolderPath != h.dir {
		t.Fatalf("saved layout = %+v", saved)
	}

	again := h.newManager(t)
	if err := h.loop.Call(again.Start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	portals := again.ListPortals()
	if len(portals) != 1 {
		t.Fatalf("restored %d portals", len(portals))
	}
	if portals[0].ID != info.ID || portals[0].Title != "Inbox" || !portals[0].Attached {
		t.Fatalf("restored portal = %+v", portals[0])
	}
	_ = h.loop.Call(func() error { again.closeAll(); return nil })
}

func TestManager_StartFailsWithoutShell(t *testing.T) {
	h := newHarness(t, platform.ShellAbsent)

	err := h.loop.Call(h.mgr.Start)
	if !errors.Is(err, shell.ErrShellNotReady) {
		t.Fatalf("Start error = %v, want ErrShellNotReady", err)
	}
	if sleeps := h.clk.Sleeps(); len(sleeps) != 1 || sleeps[0] != time.Second {
		t.Fatalf("retry sleeps = %v", sleeps)
	}
	if _, err := os.Stat(h.layout); !os.IsNotExist(err) {
		t.Fatalf("layout file written without attachment: %v", err)
	}
}

func TestManager_VisibilityAndRollUp(t *testing.T) {
	h := newHarness(t, platform.ShellIconViewUnderRoot)
	h.start(t, h.mgr)
	info := h.folder(t, "Docs")

	p, err := h.mgr.registry.Lookup(info.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if err := h.mgr.SetRolledUp(info.ID, true); err != nil {
		t.Fatalf("SetRolledUp: %v", err)
	}
	r, err := h.mem.WindowRect(p.Window())
	if err != nil {
		t.Fatalf("WindowRect: %v", err)
	}
	if r.Height != h.cfg.Embed.HeaderHeight {
		t.Fatalf("rolled up height = %d, want %d", r.Height, h.cfg.Embed.HeaderHeight)
	}

	if err := h.mgr.SetPortalsVisible(false); err != nil {
		t.Fatalf("SetPortalsVisible: %v", err)
	}
	if h.mem.IsVisible(p.Window()) {
		t.Fatal("portal still visible after hiding portals")
	}
	// Moving a hidden portal keeps it hidden.
	if err := h.mgr.MovePortal(ipc.MovePortalPayload{ID: info.ID, X: 300, Y: 300}); err != nil {
		t.Fatalf("MovePortal: %v", err)
	}
	if h.mem.IsVisible(p.Window()) {
		t.Fatal("moved portal became visible")
	}

	saved := h.readLayout(t)
	if saved.PortalsVisible || !saved.Portals[0].RolledUp || saved.Portals[0].X != 300 {
		t.Fatalf("saved layout = %+v", saved)
	}
	if status := h.mgr.Status(); status.PortalsVisible || status.PortalCount != 1 || !status.Attached {
		t.Fatalf("status = %+v", status)
	}
}

func TestManager_RemoveRefusedUntilShutdown(t *testing.T) {
	h := newHarness(t, platform.ShellIconViewUnderRoot)
	h.start(t, h.mgr)
	first := h.folder(t, "A")
	h.folder(t, "B")

	second := h.newManager(t)
	if err := h.loop.Call(second.Start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := second.RemovePortal(first.ID); err != nil {
		t.Fatalf("RemovePortal: %v", err)
	}
	if err := second.SaveLayout(); !errors.Is(err, layout.ErrSaveRefused) {
		t.Fatalf("SaveLayout = %v, want refusal", err)
	}
	if got := len(h.readLayout(t).Portals); got != 2 {
		t.Fatalf("layout has %d portals before shutdown, want 2", got)
	}

	_ = h.loop.Call(func() error { second.Stop(); return nil })
	if got := len(h.readLayout(t).Portals); got != 1 {
		t.Fatalf("layout has %d portals after shutdown, want 1", got)
	}
}

func TestManager_DropFilesMovesIntoFolder(t *testing.T) {
	h := newHarness(t, platform.ShellIconViewUnderRoot)
	h.start(t, h.mgr)
	info := h.folder(t, "Target")

	src := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(src, []byte("hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	handled, err := h.mgr.DropFiles(info.ID, []string{src})
	if err != nil || !handled {
		t.Fatalf("DropFiles = %v, %v", handled, err)
	}
	if _, err := os.Stat(filepath.Join(h.dir, "note.txt")); err != nil {
		t.Fatalf("file not moved: %v", err)
	}

	if _, err := h.mgr.DropFiles("missing", []string{src}); err == nil {
		t.Fatal("expected unknown portal error")
	}
}

func (h *harness) appState(t *testing.T, id string) ipc.PortalInfo {
	t.Helper()
	for _, p := range h.mgr.ListPortals() {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("portal %s not listed", id)
	return ipc.PortalInfo{}
}

func (h *harness) waitState(t *testing.T, id, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.appState(t, id).AppState == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("app %s never reached %s, last %+v", id, want, h.appState(t, id))
}

func TestManager_AppLifecycle(t *testing.T) {
	h := newHarness(t, platform.ShellIconViewUnderRoot)
	h.start(t, h.mgr)

	info, err := h.mgr.CreatePortal(ipc.CreatePortalPayload{
		Type: "app", Title: "Editor", X: 50, Y: 50, Width: 500, Height: 400, ExecutablePath: appPath, Start: true,
	})
	if err != nil {
		t.Fatalf("CreatePortal: %v", err)
	}
	h.waitState(t, info.ID, "running")
	if status := h.mgr.Status(); status.RunningApps != 1 {
		t.Fatalf("running apps = %d", status.RunningApps)
	}

	if err := h.mgr.AppPopOut(info.ID); err != nil {
		t.Fatalf("AppPopOut: %v", err)
	}
	h.waitState(t, info.ID, "popped_out")
	if err := h.mgr.AppPopIn(info.ID); err != nil {
		t.Fatalf("AppPopIn: %v", err)
	}
	h.waitState(t, info.ID, "running")

	if err := h.mgr.AppStop(info.ID); err != nil {
		t.Fatalf("AppStop: %v", err)
	}
	h.waitState(t, info.ID, "stopped")

	folder := h.folder(t, "Files")
	if err := h.mgr.AppStart(folder.ID); err == nil {
		t.Fatal("expected error starting a folder portal")
	}
}

func TestManager_ProfileSaveLoad(t *testing.T) {
	h := newHarness(t, platform.ShellIconViewUnderRoot)
	h.start(t, h.mgr)
	a := h.folder(t, "A")
	h.folder(t, "B")

	if err := h.mgr.ProfileSave("work"); err != nil {
		t.Fatalf("ProfileSave: %v", err)
	}
	if err := h.mgr.RemovePortal(a.ID); err != nil {
		t.Fatalf("RemovePortal: %v", err)
	}
	if err := h.mgr.ProfileLoad("work"); err != nil {
		t.Fatalf("ProfileLoad: %v", err)
	}

	portals := h.mgr.ListPortals()
	if len(portals) != 2 || portals[0].Title != "A" || portals[1].Title != "B" {
		t.Fatalf("portals after profile load = %+v", portals)
	}
	if got := len(h.readLayout(t).Portals); got != 2 {
		t.Fatalf("layout has %d portals, want 2", got)
	}
	if err := h.mgr.ProfileLoad("missing"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestManager_ShellResync(t *testing.T) {
	h := newHarness(t, platform.ShellIconViewUnderRoot)
	h.start(t, h.mgr)
	info := h.folder(t, "Desk")
	p, _ := h.mgr.registry.Lookup(info.ID)

	oldIcon := h.mem.IconView()
	oldRoot, _ := h.mem.Parent(oldIcon)
	if err := h.mem.DestroyWindow(oldIcon); err != nil {
		t.Fatalf("DestroyWindow: %v", err)
	}
	if err := h.mem.DestroyWindow(oldRoot); err != nil {
		t.Fatalf("DestroyWindow: %v", err)
	}
	h.mem.InstallShell(platform.ShellIconViewUnderRoot, platform.Point{})
	newIcon := h.mem.IconView()

	rec := NewReconciler(ReconcilerConfig{Logger: quiet()}, h.loop, h.mgr.Passes()...)
	rec.ReconcileNow()

	parent, err := h.mem.Parent(p.Window())
	if err != nil {
		t.Fatalf("Parent: %v", err)
	}
	if parent != newIcon {
		t.Fatalf("portal parent = %#x, want new icon view %#x", parent, newIcon)
	}
	if !p.Attached() {
		t.Fatal("portal not re-attached")
	}
}

func TestManager_ShellResyncDoesNotWaitOnRetries(t *testing.T) {
	h := newHarness(t, platform.ShellIconViewUnderRoot)
	h.start(t, h.mgr)
	info := h.folder(t, "Desk")
	p, _ := h.mgr.registry.Lookup(info.ID)

	oldIcon := h.mem.IconView()
	oldRoot, _ := h.mem.Parent(oldIcon)
	if err := h.mem.DestroyWindow(oldIcon); err != nil {
		t.Fatalf("DestroyWindow: %v", err)
	}
	if err := h.mem.DestroyWindow(oldRoot); err != nil {
		t.Fatalf("DestroyWindow: %v", err)
	}

	rec := NewReconciler(ReconcilerConfig{Logger: quiet()}, h.loop, h.mgr.Passes()...)
	before := len(h.clk.Sleeps())
	for i := 0; i < 3; i++ {
		rec.ReconcileNow()
	}
	for _, d := range h.clk.Sleeps()[before:] {
		if d >= h.cfg.Attach.RetryDelay {
			t.Fatalf("resync pass slept %v on the UI loop", d)
		}
	}

	h.mem.InstallShell(platform.ShellIconViewUnderRoot, platform.Point{})
	rec.ReconcileNow()
	if parent, _ := h.mem.Parent(p.Window()); parent != h.mem.IconView() {
		t.Fatalf("portal parent = %#x, want new icon view %#x", parent, h.mem.IconView())
	}
}

func TestManager_ZOrderPausesWhileInteracting(t *testing.T) {
	h := newHarness(t, platform.ShellIconViewUnderRoot)
	h.cfg.ZOrder.Enabled = true
	h.start(t, h.mgr)
	info := h.folder(t, "Z")

	rec := NewReconciler(ReconcilerConfig{Logger: quiet()}, h.loop, h.mgr.Passes()...)
	rec.ReconcileNow()
	if got := h.mem.Calls("ZOrderBottom"); got != 1 {
		t.Fatalf("ZOrderBottom calls = %d, want 1", got)
	}

	if err := h.mgr.SetInteracting(info.ID, true); err != nil {
		t.Fatalf("SetInteracting: %v", err)
	}
	rec.ReconcileNow()
	if got := h.mem.Calls("ZOrderBottom"); got != 1 {
		t.Fatalf("z-order enforced while interacting: %d calls", got)
	}
}
