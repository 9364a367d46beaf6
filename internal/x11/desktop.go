package x11

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
)

// Pseudo classes resolved by window type rather than WM_CLASS.
const (
	ClassRoot    = "@root"
	ClassDesktop = "@desktop"
)

const maxSearchDepth = 4

// Children returns the direct children of win in stacking order.
func (c *Connection) Children(win xproto.Window) ([]xproto.Window, error) {
	tree, err := xproto.QueryTree(c.XUtil.Conn(), win).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query tree of %d: %w", win, err)
	}
	return tree.Children, nil
}

// ParentOf returns the parent window of win.
func (c *Connection) ParentOf(win xproto.Window) (xproto.Window, error) {
	tree, err := xproto.QueryTree(c.XUtil.Conn(), win).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query tree of %d: %w", win, err)
	}
	return tree.Parent, nil
}

// IsDesktopWindow reports whether win advertises _NET_WM_WINDOW_TYPE_DESKTOP.
func (c *Connection) IsDesktopWindow(win xproto.Window) bool {
	types, err := ewmh.WmWindowTypeGet(c.XUtil, win)
	if err != nil {
		return false
	}
	for _, t := range types {
		if t == "_NET_WM_WINDOW_TYPE_DESKTOP" {
			return true
		}
	}
	return false
}

// WindowClass returns the WM_CLASS class of win, or the empty string.
func (c *Connection) WindowClass(win xproto.Window) string {
	wmClass, err := icccm.WmClassGet(c.XUtil, win)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(wmClass.Class)
}

// MatchesClass reports whether win matches class. Pseudo classes match by
// EWMH window type; anything else compares WM_CLASS case-insensitively.
func (c *Connection) MatchesClass(win xproto.Window, class string) bool {
	switch class {
	case ClassRoot:
		return win == c.Root
	case ClassDesktop:
		return c.IsDesktopWindow(win)
	}
	wmClass, err := icccm.WmClassGet(c.XUtil, win)
	if err != nil {
		return false
	}
	return strings.EqualFold(wmClass.Class, class) || strings.EqualFold(wmClass.Instance, class)
}

// FindDescendant searches below parent breadth-first for a window matching
// class. Window-manager frames put clients a level or two below the root,
// so the search is bounded rather than only looking at direct children.
func (c *Connection) FindDescendant(parent xproto.Window, class string) (xproto.Window, bool) {
	level := []xproto.Window{parent}
	for depth := 0; depth < maxSearchDepth && len(level) > 0; depth++ {
		var next []xproto.Window
		for _, win := range level {
			children, err := c.Children(win)
			if err != nil {
				continue
			}
			for _, child := range children {
				if c.MatchesClass(child, class) {
					return child, true
				}
			}
			next = append(next, children...)
		}
		level = next
	}
	return 0, false
}

// FindTopLevel returns the first managed client (or root child) matching class.
func (c *Connection) FindTopLevel(class string) (xproto.Window, bool) {
	if class == ClassRoot {
		return c.Root, true
	}
	if clients, err := ewmh.ClientListGet(c.XUtil); err == nil {
		for _, win := range clients {
			if c.MatchesClass(win, class) {
				return win, true
			}
		}
	}
	children, err := c.Children(c.Root)
	if err != nil {
		return 0, false
	}
	for _, win := range children {
		if c.MatchesClass(win, class) {
			return win, true
		}
	}
	return 0, false
}

// MainWindowOf returns the newest viewable normal client owned by pid.
func (c *Connection) MainWindowOf(pid int) (xproto.Window, bool) {
	clients, err := ewmh.ClientListGet(c.XUtil)
	if err != nil {
		return 0, false
	}
	for i := len(clients) - 1; i >= 0; i-- {
		win := clients[i]
		p, err := ewmh.WmPidGet(c.XUtil, win)
		if err != nil || int(p) != pid {
			continue
		}
		if !c.IsNormalWindow(win) || !c.IsViewable(win) {
			continue
		}
		return win, true
	}
	return 0, false
}

// FocusWindow activates and raises a window using _NET_ACTIVE_WINDOW.
func (c *Connection) FocusWindow(win xproto.Window) error {
	if err := ewmh.ActiveWindowReq(c.XUtil, win); err != nil {
		return fmt.Errorf("failed to activate window %d: %w", win, err)
	}
	return nil
}
