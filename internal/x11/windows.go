package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/motif"
	"github.com/BurntSushi/xgbutil/xwindow"
)

// Geometry is a window rectangle in root coordinates.
type Geometry struct {
	X, Y          int
	Width, Height int
}

// RootGeometry returns the rectangle of win translated to root coordinates.
func (c *Connection) RootGeometry(win xproto.Window) (Geometry, error) {
	conn := c.XUtil.Conn()
	geom, err := xproto.GetGeometry(conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return Geometry{}, fmt.Errorf("failed to get geometry of %d: %w", win, err)
	}
	if win == c.Root {
		return Geometry{Width: int(geom.Width), Height: int(geom.Height)}, nil
	}
	tr, err := xproto.TranslateCoordinates(conn, win, c.Root, 0, 0).Reply()
	if err != nil {
		return Geometry{}, fmt.Errorf("failed to translate coordinates of %d: %w", win, err)
	}
	return Geometry{X: int(tr.DstX), Y: int(tr.DstY), Width: int(geom.Width), Height: int(geom.Height)}, nil
}

// TranslateFromRoot converts root coordinates into coordinates relative to win.
func (c *Connection) TranslateFromRoot(win xproto.Window, x, y int) (int, int, error) {
	tr, err := xproto.TranslateCoordinates(c.XUtil.Conn(), c.Root, win, int16(x), int16(y)).Reply()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to translate coordinates into %d: %w", win, err)
	}
	return int(tr.DstX), int(tr.DstY), nil
}

// IsViewable reports whether win is mapped and all its ancestors are too.
func (c *Connection) IsViewable(win xproto.Window) bool {
	attrs, err := xproto.GetWindowAttributes(c.XUtil.Conn(), win).Reply()
	if err != nil {
		return false
	}
	return attrs.MapState == xproto.MapStateViewable
}

// Exists reports whether win is still a live window.
func (c *Connection) Exists(win xproto.Window) bool {
	_, err := xproto.GetWindowAttributes(c.XUtil.Conn(), win).Reply()
	return err == nil
}

// Reparent moves win under parent at (x, y) relative to the new parent.
func (c *Connection) Reparent(win, parent xproto.Window, x, y int) error {
	if err := xproto.ReparentWindowChecked(c.XUtil.Conn(), win, parent, int16(x), int16(y)).Check(); err != nil {
		return fmt.Errorf("failed to reparent %d under %d: %w", win, parent, err)
	}
	return nil
}

// Configure moves and resizes win relative to its parent. When lower is set
// the window is also restacked below its siblings.
func (c *Connection) Configure(win xproto.Window, x, y, width, height int, lower bool) error {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	mask := uint16(xproto.ConfigWindowX | xproto.ConfigWindowY | xproto.ConfigWindowWidth | xproto.ConfigWindowHeight)
	values := []uint32{uint32(int32(x)), uint32(int32(y)), uint32(width), uint32(height)}
	if lower {
		mask |= xproto.ConfigWindowStackMode
		values = append(values, xproto.StackModeBelow)
	}
	if err := xproto.ConfigureWindowChecked(c.XUtil.Conn(), win, mask, values).Check(); err != nil {
		return fmt.Errorf("failed to configure window %d: %w", win, err)
	}
	return nil
}

// Map makes win visible.
func (c *Connection) Map(win xproto.Window) error {
	if err := xproto.MapWindowChecked(c.XUtil.Conn(), win).Check(); err != nil {
		return fmt.Errorf("failed to map window %d: %w", win, err)
	}
	return nil
}

// Unmap hides win.
func (c *Connection) Unmap(win xproto.Window) error {
	if err := xproto.UnmapWindowChecked(c.XUtil.Conn(), win).Check(); err != nil {
		return fmt.Errorf("failed to unmap window %d: %w", win, err)
	}
	return nil
}

// Decorated reports whether the window manager may decorate win. Windows
// without Motif hints are decorated.
func (c *Connection) Decorated(win xproto.Window) bool {
	hints, err := motif.WmHintsGet(c.XUtil, win)
	if err != nil || hints.Flags&motif.HintDecorations == 0 {
		return true
	}
	return hints.Decoration != motif.DecorationNone
}

// SetDecorated toggles window manager decorations through Motif hints.
func (c *Connection) SetDecorated(win xproto.Window, decorated bool) error {
	hints, err := motif.WmHintsGet(c.XUtil, win)
	if err != nil {
		hints = &motif.Hints{}
	}
	hints.Flags |= motif.HintDecorations
	if decorated {
		hints.Decoration = motif.DecorationAll
	} else {
		hints.Decoration = motif.DecorationNone
	}
	if err := motif.WmHintsSet(c.XUtil, win, hints); err != nil {
		return fmt.Errorf("failed to set motif hints on %d: %w", win, err)
	}
	return nil
}

// SkipsTaskbar reports whether win carries _NET_WM_STATE_SKIP_TASKBAR.
func (c *Connection) SkipsTaskbar(win xproto.Window) bool {
	states, err := ewmh.WmStateGet(c.XUtil, win)
	if err != nil {
		return false
	}
	for _, s := range states {
		if s == "_NET_WM_STATE_SKIP_TASKBAR" {
			return true
		}
	}
	return false
}

// SetSkipTaskbar adds or removes the skip-taskbar and skip-pager states.
func (c *Connection) SetSkipTaskbar(win xproto.Window, skip bool) error {
	states, _ := ewmh.WmStateGet(c.XUtil, win)
	kept := states[:0]
	for _, s := range states {
		if s != "_NET_WM_STATE_SKIP_TASKBAR" && s != "_NET_WM_STATE_SKIP_PAGER" {
			kept = append(kept, s)
		}
	}
	if skip {
		kept = append(kept, "_NET_WM_STATE_SKIP_TASKBAR", "_NET_WM_STATE_SKIP_PAGER")
	}
	if err := ewmh.WmStateSet(c.XUtil, win, kept); err != nil {
		return fmt.Errorf("failed to set window state on %d: %w", win, err)
	}
	return nil
}

// AcceptsFocus reports the ICCCM input hint of win.
func (c *Connection) AcceptsFocus(win xproto.Window) bool {
	hints, err := icccm.WmHintsGet(c.XUtil, win)
	if err != nil || hints.Flags&icccm.HintInput == 0 {
		return true
	}
	return hints.Input != 0
}

// SetAcceptsFocus writes the ICCCM input hint of win.
func (c *Connection) SetAcceptsFocus(win xproto.Window, accept bool) error {
	hints, err := icccm.WmHintsGet(c.XUtil, win)
	if err != nil {
		hints = &icccm.Hints{}
	}
	hints.Flags |= icccm.HintInput
	hints.Input = 0
	if accept {
		hints.Input = 1
	}
	if err := icccm.WmHintsSet(c.XUtil, win, hints); err != nil {
		return fmt.Errorf("failed to set WM_HINTS on %d: %w", win, err)
	}
	return nil
}

// ShapeBounding clips win to the (0,0)-(width,height) rectangle.
func (c *Connection) ShapeBounding(win xproto.Window, width, height int) error {
	if !c.hasShape {
		return nil
	}
	rects := []xproto.Rectangle{{X: 0, Y: 0, Width: uint16(width), Height: uint16(height)}}
	err := shape.RectanglesChecked(c.XUtil.Conn(), shape.SoSet, shape.SkBounding,
		xproto.ClipOrderingUnsorted, win, 0, 0, rects).Check()
	if err != nil {
		return fmt.Errorf("failed to shape window %d: %w", win, err)
	}
	return nil
}

// ClearShape removes any bounding shape from win.
func (c *Connection) ClearShape(win xproto.Window) error {
	if !c.hasShape {
		return nil
	}
	err := shape.MaskChecked(c.XUtil.Conn(), shape.SoSet, shape.SkBounding, win, 0, 0, xproto.Pixmap(0)).Check()
	if err != nil {
		return fmt.Errorf("failed to clear shape of %d: %w", win, err)
	}
	return nil
}

// CreateWindow creates an unmapped child of parent with a solid background.
func (c *Connection) CreateWindow(parent xproto.Window, title string, x, y, width, height int, background uint32) (xproto.Window, error) {
	win, err := xwindow.Generate(c.XUtil)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate window id: %w", err)
	}
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	err = win.CreateChecked(parent, x, y, width, height, xproto.CwBackPixel, background)
	if err != nil {
		return 0, fmt.Errorf("failed to create window: %w", err)
	}
	if title != "" {
		_ = ewmh.WmNameSet(c.XUtil, win.Id, title)
	}
	return win.Id, nil
}

// DestroyWindow destroys a window created by this connection.
func (c *Connection) DestroyWindow(win xproto.Window) error {
	if err := xproto.DestroyWindowChecked(c.XUtil.Conn(), win).Check(); err != nil {
		return fmt.Errorf("failed to destroy window %d: %w", win, err)
	}
	return nil
}

// IsNormalWindow checks if a window is a normal application window
func (c *Connection) IsNormalWindow(windowID xproto.Window) bool {
	types, err := ewmh.WmWindowTypeGet(c.XUtil, windowID)
	if err != nil {
		return true
	}

	for _, t := range types {
		if t == "_NET_WM_WINDOW_TYPE_NORMAL" {
			return true
		}
		if t == "_NET_WM_WINDOW_TYPE_DESKTOP" ||
			t == "_NET_WM_WINDOW_TYPE_DOCK" ||
			t == "_NET_WM_WINDOW_TYPE_SPLASH" ||
			t == "_NET_WM_WINDOW_TYPE_NOTIFICATION" {
			return false
		}
	}

	return len(types) == 0
}
