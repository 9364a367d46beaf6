package platform

import (
	"errors"
	"time"
)

// Handle is a platform-neutral native window handle. Zero means "no window".
type Handle uint64

// Region is an owned clipping region resource. Zero means "no region".
type Region uint64

// Rect describes a rectangular region in screen or client coordinates.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Point is a position in screen or client coordinates.
type Point struct {
	X int
	Y int
}

// Size is a width/height pair in physical pixels.
type Size struct {
	Width  int
	Height int
}

// Origin returns the top-left corner of r.
func (r Rect) Origin() Point { return Point{X: r.X, Y: r.Y} }

// Size returns the dimensions of r.
func (r Rect) Size() Size { return Size{Width: r.Width, Height: r.Height} }

// Style holds window style bits. Values follow the Win32 WS_* layout; other
// backends translate them to their own window hints.
type Style uint32

const (
	StyleMaximizeBox Style = 0x00010000
	StyleMinimizeBox Style = 0x00020000
	StyleThickFrame  Style = 0x00040000
	StyleSysMenu     Style = 0x00080000
	StyleCaption     Style = 0x00C00000
	StyleVisible     Style = 0x10000000
	StyleChild       Style = 0x40000000
	StylePopup       Style = 0x80000000

	// StyleDecorations is every bit the embedder strips from a foreign window.
	StyleDecorations = StyleCaption | StyleThickFrame | StyleMinimizeBox | StyleMaximizeBox | StyleSysMenu
)

// ExStyle holds extended window style bits (Win32 WS_EX_* layout).
type ExStyle uint32

const (
	ExStyleToolWindow ExStyle = 0x00000080
	ExStyleAppWindow  ExStyle = 0x00040000
	ExStyleNoActivate ExStyle = 0x08000000
)

// PositionFlags controls SetPosition behaviour.
type PositionFlags uint32

const (
	PositionShow PositionFlags = 1 << iota
	PositionNoZOrder
	PositionNoActivate
	PositionFrameChanged
	PositionBottom
)

// ShellClasses names the window classes the desktop shell uses for its
// hidden containers on a given backend. An empty Worker means the shell has
// no lazily created secondary container.
type ShellClasses struct {
	Root     string
	Worker   string
	IconView string
}

// WindowSpec describes a window this process creates for itself.
type WindowSpec struct {
	Title      string
	Bounds     Rect
	Background uint32
}

var (
	// ErrNotFound is returned by lookups that matched no window.
	ErrNotFound = errors.New("window not found")
	// ErrInvalidWindow is returned when a handle no longer names a live window.
	ErrInvalidWindow = errors.New("invalid window handle")
)

// Native is the windowing-system boundary consumed by deskportal. All calls
// except the read-only queries used by launch polling must be made from the
// UI loop.
type Native interface {
	ShellClasses() ShellClasses

	// FindWindow returns the first top-level window of class.
	FindWindow(class string) (Handle, error)
	// FindChild returns the first descendant of parent with class.
	FindChild(parent Handle, class string) (Handle, error)
	// TopLevelWindows enumerates top-level windows.
	TopLevelWindows() ([]Handle, error)
	ClassName(h Handle) (string, error)
	// RequestWorker asks the shell to create its secondary container lazily.
	RequestWorker(root Handle, timeout time.Duration) error

	CreateWindow(spec WindowSpec) (Handle, error)
	DestroyWindow(h Handle) error
	IsWindow(h Handle) bool
	IsVisible(h Handle) bool

	Style(h Handle) (Style, error)
	SetStyle(h Handle, s Style) error
	ExStyle(h Handle) (ExStyle, error)
	SetExStyle(h Handle, s ExStyle) error
	// Parent returns zero for top-level windows.
	Parent(h Handle) (Handle, error)
	// SetParent with a zero parent makes child top-level again.
	SetParent(child, parent Handle) error

	ScreenToClient(parent Handle, p Point) (Point, error)
	// WindowRect returns the window's bounds in screen coordinates.
	WindowRect(h Handle) (Rect, error)
	// SetPosition moves/resizes h; coordinates are relative to its parent.
	SetPosition(h Handle, r Rect, flags PositionFlags) error
	Show(h Handle) error
	Hide(h Handle) error
	SetForeground(h Handle) error

	// CreateRectRegion allocates a region covering (0,0)-(width,height).
	// The caller owns the returned region and must DeleteRegion it.
	CreateRectRegion(width, height int) (Region, error)
	// SetWindowRegion clips h to r. The caller keeps ownership of r.
	// A zero region removes clipping.
	SetWindowRegion(h Handle, r Region) error
	DeleteRegion(r Region) error

	// MainWindowOf returns the main top-level window of pid, or ErrNotFound.
	MainWindowOf(pid int) (Handle, error)
}

// Pumper is implemented by backends whose UI thread must drain a native
// message queue.
type Pumper interface {
	Pump()
}

// Closer is implemented by backends holding a display connection.
type Closer interface {
	Close() error
}

// ContainsPoint reports whether (x, y) lies inside r.
func ContainsPoint(r Rect, x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// DisplayLister is implemented by backends that can enumerate monitors.
type DisplayLister interface {
	Displays() ([]Rect, error)
}

// OnAnyDisplay reports whether the top-left corner of r lies on one of displays.
// An empty display list accepts every rectangle.
func OnAnyDisplay(r Rect, displays []Rect) bool {
	if len(displays) == 0 {
		return true
	}
	for _, d := range displays {
		if ContainsPoint(d, r.X, r.Y) {
			return true
		}
	}
	return false
}
