// Package portal models desktop portals, the registry that owns them, and
// the reparenting protocol that moves their windows onto the desktop.
package portal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/1broseidon/deskportal/internal/platform"
)

// Kind discriminates the portal payload.
type Kind string

const (
	KindFolder Kind = "folder"
	KindApp    Kind = "app"
	KindURL    Kind = "url"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindFolder, KindApp, KindURL:
		return k, nil
	}
	return "", fmt.Errorf("unknown portal type %q (expected folder, app or url)", s)
}

// TitleAlign is the horizontal alignment of the header title.
type TitleAlign string

const (
	AlignLeft   TitleAlign = "left"
	AlignCenter TitleAlign = "center"
	AlignRight  TitleAlign = "right"
)

// Normalize maps unknown or empty values to AlignLeft.
func (a TitleAlign) Normalize() TitleAlign {
	switch a {
	case AlignCenter, AlignRight:
		return a
	}
	return AlignLeft
}

// Style is the visual style persisted with a portal.
type Style struct {
	HeaderColor     string
	BackgroundColor string
	TitleAlign      TitleAlign
}

// Header is the state shared by every portal kind.
type Header struct {
	ID       string
	Title    string
	Bounds   platform.Rect
	RolledUp bool
	Style    Style
}

// Folder is the payload of a folder portal.
type Folder struct {
	Path     string
	SortMode string
}

// App is the payload of an app portal.
type App struct {
	ExecutablePath string
	Args           []string
}

// Bookmark is a named link shown by a URL portal.
type Bookmark struct {
	Name string
	URL  string
}

// URL is the payload of a URL portal.
type URL struct {
	Bookmarks []Bookmark
}

// DropHandler receives dropped file paths and reports whether it handled them.
type DropHandler func(paths []string) bool

// Portal is a tagged union: exactly the payload matching Kind is set.
type Portal struct {
	Header
	Kind Kind

	Folder *Folder
	App    *App
	URL    *URL

	window      platform.Handle
	attached    bool
	interacting bool
	onDrop      DropHandler
}

// NewFolder returns a folder portal.
func NewFolder(h Header, f Folder) *Portal {
	return &Portal{Header: h, Kind: KindFolder, Folder: &f}
}

// NewApp returns an app portal.
func NewApp(h Header, a App) *Portal {
	return &Portal{Header: h, Kind: KindApp, App: &a}
}

// NewURL returns a URL portal.
func NewURL(h Header, u URL) *Portal {
	return &Portal{Header: h, Kind: KindURL, URL: &u}
}

// Validate checks that the payload matches the kind tag.
func (p *Portal) Validate() error {
	switch p.Kind {
	case KindFolder:
		if p.Folder == nil {
			return fmt.Errorf("folder portal %q has no folder payload", p.ID)
		}
	case KindApp:
		if p.App == nil || p.App.ExecutablePath == "" {
			return fmt.Errorf("app portal %q has no executable", p.ID)
		}
	case KindURL:
		if p.URL == nil {
			return fmt.Errorf("url portal %q has no bookmark payload", p.ID)
		}
	default:
		return fmt.Errorf("portal %q has unknown kind %q", p.ID, p.Kind)
	}
	if p.Bounds.Width <= 0 || p.Bounds.Height <= 0 {
		return fmt.Errorf("portal %q has empty bounds %dx%d", p.ID, p.Bounds.Width, p.Bounds.Height)
	}
	return nil
}

// Window returns the native window, or zero before it is created.
func (p *Portal) Window() platform.Handle { return p.window }

// Attached reports whether the window is parented to the icon view.
func (p *Portal) Attached() bool { return p.attached }

// Interacting reports whether the user is dragging or resizing the portal.
func (p *Portal) Interacting() bool { return p.interacting }

// SetInteracting records active user interaction.
func (p *Portal) SetInteracting(v bool) { p.interacting = v }

// SetDropHandler installs the callback invoked by Drop.
func (p *Portal) SetDropHandler(h DropHandler) { p.onDrop = h }

// Drop hands paths to the registered handler.
func (p *Portal) Drop(paths []string) bool {
	if p.onDrop == nil || len(paths) == 0 {
		return false
	}
	return p.onDrop(paths)
}

// WindowBounds returns the on-screen rectangle, collapsed to the header
// when the portal is rolled up.
func (p *Portal) WindowBounds(headerHeight int) platform.Rect {
	r := p.Bounds
	if p.RolledUp && headerHeight > 0 && headerHeight < r.Height {
		r.Height = headerHeight
	}
	return r
}

// Destroy releases the native window. The portal may not be reattached.
func (p *Portal) Destroy(native platform.Native) error {
	if p.window == 0 {
		return nil
	}
	h := p.window
	p.window = 0
	p.attached = false
	if !native.IsWindow(h) {
		return nil
	}
	if err := native.DestroyWindow(h); err != nil {
		return fmt.Errorf("failed to destroy window of portal %s: %w", p.ID, err)
	}
	return nil
}

// ParseColor parses "#RRGGBB" (or "RRGGBB") into 0xRRGGBB.
func ParseColor(s string) (uint32, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
