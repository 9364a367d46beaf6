//go:build linux

package platform

import (
	"fmt"
	"sync"
	"time"

	"github.com/1broseidon/deskportal/internal/x11"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
)

// LinuxBackend maps the Native contract onto X11. The desktop window
// (_NET_WM_WINDOW_TYPE_DESKTOP) plays the icon view, the root window plays
// the shell root, and there is no worker container (ShellClasses.Worker is
// empty). Style bits are emulated
// with Motif hints, EWMH state and the ICCCM input hint; regions are applied
// with the SHAPE extension.
type LinuxBackend struct {
	conn *x11.Connection

	mu         sync.Mutex
	parents    map[Handle]Handle
	regions    map[Region]Size
	nextRegion Region
}

var (
	_ Native        = (*LinuxBackend)(nil)
	_ Pumper        = (*LinuxBackend)(nil)
	_ Closer        = (*LinuxBackend)(nil)
	_ DisplayLister = (*LinuxBackend)(nil)
)

// NewLinuxBackend creates a Linux platform backend from an existing X11 connection.
func NewLinuxBackend(conn *x11.Connection) *LinuxBackend {
	return &LinuxBackend{
		conn:       conn,
		parents:    make(map[Handle]Handle),
		regions:    make(map[Region]Size),
		nextRegion: 1,
	}
}

// NewNativeBackend opens the default display.
func NewNativeBackend() (Native, error) {
	conn, err := x11.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}
	return NewLinuxBackend(conn), nil
}

func xwin(h Handle) xproto.Window { return xproto.Window(h) }

func (b *LinuxBackend) Close() error {
	b.conn.Close()
	return nil
}

func (b *LinuxBackend) Pump() {
	b.conn.DrainEvents()
}

func (b *LinuxBackend) ShellClasses() ShellClasses {
	return ShellClasses{Root: x11.ClassRoot, IconView: x11.ClassDesktop}
}

func (b *LinuxBackend) FindWindow(class string) (Handle, error) {
	win, ok := b.conn.FindTopLevel(class)
	if !ok {
		return 0, ErrNotFound
	}
	return Handle(win), nil
}

func (b *LinuxBackend) FindChild(parent Handle, class string) (Handle, error) {
	if parent == 0 {
		return b.FindWindow(class)
	}
	win, ok := b.conn.FindDescendant(xwin(parent), class)
	if !ok {
		return 0, ErrNotFound
	}
	return Handle(win), nil
}

func (b *LinuxBackend) TopLevelWindows() ([]Handle, error) {
	clients, err := ewmh.ClientListGet(b.conn.XUtil)
	if err != nil {
		return nil, fmt.Errorf("failed to read client list: %w", err)
	}
	out := make([]Handle, 0, len(clients))
	for _, c := range clients {
		out = append(out, Handle(c))
	}
	return out, nil
}

func (b *LinuxBackend) ClassName(h Handle) (string, error) {
	win := xwin(h)
	switch {
	case win == b.conn.Root:
		return x11.ClassRoot, nil
	case !b.conn.Exists(win):
		return "", fmt.Errorf("%w: %#x", ErrInvalidWindow, uint64(h))
	case b.conn.IsDesktopWindow(win):
		return x11.ClassDesktop, nil
	}
	return b.conn.WindowClass(win), nil
}

// RequestWorker is a no-op: X11 desktops have no lazily created container.
func (b *LinuxBackend) RequestWorker(Handle, time.Duration) error {
	return nil
}

func (b *LinuxBackend) CreateWindow(spec WindowSpec) (Handle, error) {
	r := spec.Bounds
	win, err := b.conn.CreateWindow(b.conn.Root, spec.Title, r.X, r.Y, r.Width, r.Height, spec.Background)
	if err != nil {
		return 0, err
	}
	return Handle(win), nil
}

func (b *LinuxBackend) DestroyWindow(h Handle) error {
	b.mu.Lock()
	delete(b.parents, h)
	b.mu.Unlock()
	return b.conn.DestroyWindow(xwin(h))
}

func (b *LinuxBackend) IsWindow(h Handle) bool {
	return h != 0 && b.conn.Exists(xwin(h))
}

func (b *LinuxBackend) IsVisible(h Handle) bool {
	return b.conn.IsViewable(xwin(h))
}

func (b *LinuxBackend) isEmbedded(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.parents[h]
	return ok
}

func (b *LinuxBackend) Style(h Handle) (Style, error) {
	win := xwin(h)
	if !b.conn.Exists(win) {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidWindow, uint64(h))
	}
	var s Style
	if b.isEmbedded(h) {
		s |= StyleChild
	} else {
		s |= StylePopup
	}
	if b.conn.Decorated(win) {
		s |= StyleDecorations
	}
	if b.conn.IsViewable(win) {
		s |= StyleVisible
	}
	return s, nil
}

func (b *LinuxBackend) SetStyle(h Handle, s Style) error {
	win := xwin(h)
	if err := b.conn.SetDecorated(win, s&StyleCaption != 0); err != nil {
		return err
	}
	if s&StyleVisible != 0 {
		return b.conn.Map(win)
	}
	return nil
}

func (b *LinuxBackend) ExStyle(h Handle) (ExStyle, error) {
	win := xwin(h)
	if !b.conn.Exists(win) {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidWindow, uint64(h))
	}
	var s ExStyle
	if b.conn.SkipsTaskbar(win) {
		s |= ExStyleToolWindow
	} else {
		s |= ExStyleAppWindow
	}
	if !b.conn.AcceptsFocus(win) {
		s |= ExStyleNoActivate
	}
	return s, nil
}

func (b *LinuxBackend) SetExStyle(h Handle, s ExStyle) error {
	win := xwin(h)
	if err := b.conn.SetSkipTaskbar(win, s&ExStyleToolWindow != 0); err != nil {
		return err
	}
	return b.conn.SetAcceptsFocus(win, s&ExStyleNoActivate == 0)
}

func (b *LinuxBackend) Parent(h Handle) (Handle, error) {
	if !b.conn.Exists(xwin(h)) {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidWindow, uint64(h))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parents[h], nil
}

func (b *LinuxBackend) SetParent(child, parent Handle) error {
	win := xwin(child)
	geom, err := b.conn.RootGeometry(win)
	if err != nil {
		return err
	}
	target := b.conn.Root
	x, y := geom.X, geom.Y
	if parent != 0 && xwin(parent) != b.conn.Root {
		target = xwin(parent)
		if x, y, err = b.conn.TranslateFromRoot(target, geom.X, geom.Y); err != nil {
			return err
		}
	}

	mapped := b.conn.IsViewable(win)
	if mapped {
		_ = b.conn.Unmap(win)
	}
	if err := b.conn.Reparent(win, target, x, y); err != nil {
		return err
	}
	if mapped {
		_ = b.conn.Map(win)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if target == b.conn.Root {
		delete(b.parents, child)
	} else {
		b.parents[child] = parent
	}
	return nil
}

func (b *LinuxBackend) ScreenToClient(parent Handle, p Point) (Point, error) {
	if parent == 0 || xwin(parent) == b.conn.Root {
		return p, nil
	}
	x, y, err := b.conn.TranslateFromRoot(xwin(parent), p.X, p.Y)
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y}, nil
}

func (b *LinuxBackend) WindowRect(h Handle) (Rect, error) {
	g, err := b.conn.RootGeometry(xwin(h))
	if err != nil {
		return Rect{}, err
	}
	return Rect{X: g.X, Y: g.Y, Width: g.Width, Height: g.Height}, nil
}

func (b *LinuxBackend) SetPosition(h Handle, r Rect, flags PositionFlags) error {
	lower := flags&PositionBottom != 0 && flags&PositionNoZOrder == 0
	if err := b.conn.Configure(xwin(h), r.X, r.Y, r.Width, r.Height, lower); err != nil {
		return err
	}
	if flags&PositionShow != 0 {
		return b.conn.Map(xwin(h))
	}
	return nil
}

func (b *LinuxBackend) Show(h Handle) error { return b.conn.Map(xwin(h)) }

func (b *LinuxBackend) Hide(h Handle) error { return b.conn.Unmap(xwin(h)) }

func (b *LinuxBackend) SetForeground(h Handle) error { return b.conn.FocusWindow(xwin(h)) }

func (b *LinuxBackend) CreateRectRegion(width, height int) (Region, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.nextRegion
	b.nextRegion++
	b.regions[r] = Size{Width: width, Height: height}
	return r, nil
}

func (b *LinuxBackend) SetWindowRegion(h Handle, r Region) error {
	if r == 0 {
		return b.conn.ClearShape(xwin(h))
	}
	b.mu.Lock()
	size, ok := b.regions[r]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("region %d is not live", r)
	}
	return b.conn.ShapeBounding(xwin(h), size.Width, size.Height)
}

func (b *LinuxBackend) DeleteRegion(r Region) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.regions[r]; !ok {
		return fmt.Errorf("region %d is not live", r)
	}
	delete(b.regions, r)
	return nil
}

func (b *LinuxBackend) MainWindowOf(pid int) (Handle, error) {
	win, ok := b.conn.MainWindowOf(pid)
	if !ok {
		return 0, ErrNotFound
	}
	return Handle(win), nil
}

func (b *LinuxBackend) Displays() ([]Rect, error) {
	monitors, err := b.conn.GetMonitors()
	if err != nil {
		return nil, err
	}
	out := make([]Rect, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, Rect{X: m.X, Y: m.Y, Width: m.Width, Height: m.Height})
	}
	return out, nil
}
