package portal

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/1broseidon/deskportal/internal/platform"
)

type fixedTarget platform.Handle

func (f fixedTarget) IconView() platform.Handle { return platform.Handle(f) }

func newFixture(t *testing.T, layout platform.ShellLayout) (*platform.Memory, *Registry, *Reparenter) {
	t.Helper()
	mem := platform.NewMemory(nil)
	mem.InstallShell(layout, platform.Point{X: 0, Y: 20})
	reg := NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return mem, reg, NewReparenter(mem, fixedTarget(mem.IconView()), reg, 28, logger)
}

func TestAttachRewritesStyles(t *testing.T) {
	mem, reg, rp := newFixture(t, platform.ShellIconViewUnderRoot)
	p := NewFolder(Header{Title: "Downloads"}, Folder{Path: "/tmp"})

	if err := rp.Attach(p, platform.Point{X: 300, Y: 200}, platform.Size{Width: 320, Height: 240}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	style, _ := mem.Style(p.Window())
	if style&platform.StyleChild == 0 || style&platform.StylePopup != 0 {
		t.Fatalf("style = %#x, want child set and popup cleared", style)
	}
	ex, _ := mem.ExStyle(p.Window())
	if ex&platform.ExStyleToolWindow == 0 || ex&platform.ExStyleNoActivate == 0 {
		t.Fatalf("ex style = %#x, want tool window and no-activate", ex)
	}
	parent, _ := mem.Parent(p.Window())
	if parent != mem.IconView() {
		t.Fatalf("parent = %#x, want icon view %#x", parent, mem.IconView())
	}
	rect, _ := mem.WindowRect(p.Window())
	if rect != (platform.Rect{X: 300, Y: 200, Width: 320, Height: 240}) {
		t.Fatalf("screen rect = %+v", rect)
	}
	if !mem.IsVisible(p.Window()) || mem.Calls("ZOrderBottom") != 0 {
		t.Fatalf("expected shown without z-order change")
	}
	if !p.Attached() || p.ID == "" || reg.Count() != 1 {
		t.Fatalf("attached=%v id=%q count=%d", p.Attached(), p.ID, reg.Count())
	}
}

func TestAttachWithoutIconViewStillRegisters(t *testing.T) {
	mem, reg, _ := newFixture(t, platform.ShellRootOnly)
	rp := NewReparenter(mem, fixedTarget(0), reg, 28, nil)
	p := NewURL(Header{Title: "Links"}, URL{})

	err := rp.Attach(p, platform.Point{X: 10, Y: 10}, platform.Size{Width: 200, Height: 100})
	if !errors.Is(err, ErrNotAttached) {
		t.Fatalf("Attach err = %v, want ErrNotAttached", err)
	}
	if p.Attached() {
		t.Fatalf("portal must not be marked attached")
	}
	if _, err := reg.Lookup(p.ID); err != nil {
		t.Fatalf("portal should still be registered: %v", err)
	}
	if !mem.IsVisible(p.Window()) {
		t.Fatalf("degraded portal should be shown as top-level")
	}
}

func TestAttachFailureRollsBack(t *testing.T) {
	mem, reg, rp := newFixture(t, platform.ShellIconViewUnderRoot)
	p := NewFolder(Header{Title: "Docs"}, Folder{Path: "/docs"})
	mem.Fail("SetExStyle", errors.New("access denied"))

	err := rp.Attach(p, platform.Point{X: 50, Y: 60}, platform.Size{Width: 200, Height: 100})
	if !errors.Is(err, ErrNotAttached) {
		t.Fatalf("Attach err = %v, want ErrNotAttached", err)
	}

	parent, _ := mem.Parent(p.Window())
	if parent != 0 {
		t.Fatalf("parent = %#x, want top-level after rollback", parent)
	}
	style, _ := mem.Style(p.Window())
	if style&platform.StyleChild != 0 || style&platform.StylePopup == 0 {
		t.Fatalf("style = %#x, want original popup style", style)
	}
	rect, _ := mem.WindowRect(p.Window())
	if rect.X != 50 || rect.Y != 60 {
		t.Fatalf("rect = %+v, want top-level at screen position", rect)
	}
	if reg.Count() != 1 {
		t.Fatalf("portal must stay registered")
	}
}

func TestAttachKeepsPreassignedID(t *testing.T) {
	_, reg, rp := newFixture(t, platform.ShellIconViewUnderRoot)
	p := NewFolder(Header{Title: "Saved"}, Folder{Path: "/saved"})
	if err := reg.AssignID(p, "a1"); err != nil {
		t.Fatalf("AssignID: %v", err)
	}
	if err := rp.Attach(p, platform.Point{}, platform.Size{Width: 100, Height: 100}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if p.ID != "a1" {
		t.Fatalf("id = %q, want a1", p.ID)
	}
	if err := reg.AssignID(p, "other"); err == nil {
		t.Fatalf("expected AssignID to refuse overwriting an id")
	}
}

func TestRolledUpPortalCollapsesToHeader(t *testing.T) {
	mem, _, rp := newFixture(t, platform.ShellIconViewUnderRoot)
	p := NewFolder(Header{Title: "Rolled", RolledUp: true}, Folder{})
	if err := rp.Attach(p, platform.Point{X: 5, Y: 25}, platform.Size{Width: 300, Height: 300}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	rect, _ := mem.WindowRect(p.Window())
	if rect.Height != 28 {
		t.Fatalf("height = %d, want header height", rect.Height)
	}

	p.RolledUp = false
	if err := rp.Place(p, p.Bounds); err != nil {
		t.Fatalf("Place: %v", err)
	}
	rect, _ = mem.WindowRect(p.Window())
	if rect != (platform.Rect{X: 5, Y: 25, Width: 300, Height: 300}) {
		t.Fatalf("rect = %+v after unroll", rect)
	}
}
