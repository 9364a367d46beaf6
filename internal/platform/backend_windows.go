//go:build windows

package platform

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procFindWindowW              = user32.NewProc("FindWindowW")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procEnumChildWindows         = user32.NewProc("EnumChildWindows")
	procGetClassNameW            = user32.NewProc("GetClassNameW")
	procSendMessageTimeoutW      = user32.NewProc("SendMessageTimeoutW")
	procGetWindowLongW           = user32.NewProc("GetWindowLongW")
	procSetWindowLongW           = user32.NewProc("SetWindowLongW")
	procGetAncestor              = user32.NewProc("GetAncestor")
	procSetParent                = user32.NewProc("SetParent")
	procScreenToClient           = user32.NewProc("ScreenToClient")
	procGetWindowRect            = user32.NewProc("GetWindowRect")
	procSetWindowPos             = user32.NewProc("SetWindowPos")
	procShowWindow               = user32.NewProc("ShowWindow")
	procIsWindow                 = user32.NewProc("IsWindow")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procSetForegroundWindow      = user32.NewProc("SetForegroundWindow")
	procGetDesktopWindow         = user32.NewProc("GetDesktopWindow")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procGetWindow                = user32.NewProc("GetWindow")
	procSetWindowRgn             = user32.NewProc("SetWindowRgn")
	procRegisterClassExW         = user32.NewProc("RegisterClassExW")
	procCreateWindowExW          = user32.NewProc("CreateWindowExW")
	procDestroyWindow            = user32.NewProc("DestroyWindow")
	procDefWindowProcW           = user32.NewProc("DefWindowProcW")
	procPeekMessageW             = user32.NewProc("PeekMessageW")
	procTranslateMessage         = user32.NewProc("TranslateMessage")
	procDispatchMessageW         = user32.NewProc("DispatchMessageW")
	procGetSystemMetrics         = user32.NewProc("GetSystemMetrics")

	procCreateRectRgn    = gdi32.NewProc("CreateRectRgn")
	procCombineRgn       = gdi32.NewProc("CombineRgn")
	procDeleteObject     = gdi32.NewProc("DeleteObject")
	procCreateSolidBrush = gdi32.NewProc("CreateSolidBrush")
)

const (
	msgSpawnWorker = 0x052C
	smtoNormal     = 0x0000

	gwlStyle   int32 = -16
	gwlExStyle int32 = -20

	gaParent = 1
	gwOwner  = 4

	swHide = 0
	swShow = 5

	swpNoZOrder      = 0x0004
	swpNoActivate    = 0x0010
	swpFrameChanged  = 0x0020
	swpShowWindow    = 0x0040
	hwndBottom       = 1
	rgnCopy          = 5
	pmRemove         = 0x0001
	smXVirtualScreen = 76

	portalClassName = "DeskportalWindow"
)

type winRect struct {
	Left, Top, Right, Bottom int32
}

type winPoint struct {
	X, Y int32
}

type winMsg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      winPoint
}

type wndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       windows.Handle
	Cursor     windows.Handle
	Background windows.Handle
	MenuName   *uint16
	ClassName  *uint16
	IconSm     windows.Handle
}

// Enumeration callbacks are process-wide; NewCallback slots are never freed.
var (
	enumMu       sync.Mutex
	enumFound    []Handle
	enumCallback = windows.NewCallback(func(hwnd, _ uintptr) uintptr {
		enumFound = append(enumFound, Handle(hwnd))
		return 1
	})
	wndProc = windows.NewCallback(func(hwnd, msg, wparam, lparam uintptr) uintptr {
		r, _, _ := procDefWindowProcW.Call(hwnd, msg, wparam, lparam)
		return r
	})
	registerOnce sync.Once
	registerErr  error
)

// WindowsBackend drives the Win32 shell (Progman / WorkerW / SHELLDLL_DefView).
type WindowsBackend struct{}

var (
	_ Native        = WindowsBackend{}
	_ Pumper        = WindowsBackend{}
	_ DisplayLister = WindowsBackend{}
)

// NewNativeBackend returns the Win32 backend.
func NewNativeBackend() (Native, error) {
	return WindowsBackend{}, nil
}

func utf16(s string) *uint16 {
	p, _ := windows.UTF16PtrFromString(s)
	return p
}

func invalid(h Handle) error {
	return fmt.Errorf("%w: %#x", ErrInvalidWindow, uint64(h))
}

func (WindowsBackend) ShellClasses() ShellClasses {
	return ShellClasses{Root: "Progman", Worker: "WorkerW", IconView: "SHELLDLL_DefView"}
}

func (WindowsBackend) FindWindow(class string) (Handle, error) {
	r, _, _ := procFindWindowW.Call(uintptr(unsafe.Pointer(utf16(class))), 0)
	if r == 0 {
		return 0, ErrNotFound
	}
	return Handle(r), nil
}

func enumerate(parent Handle) []Handle {
	enumMu.Lock()
	defer enumMu.Unlock()
	enumFound = nil
	if parent == 0 {
		procEnumWindows.Call(enumCallback, 0)
	} else {
		procEnumChildWindows.Call(uintptr(parent), enumCallback, 0)
	}
	out := enumFound
	enumFound = nil
	return out
}

func (b WindowsBackend) FindChild(parent Handle, class string) (Handle, error) {
	for _, h := range enumerate(parent) {
		if name, err := b.ClassName(h); err == nil && name == class {
			return h, nil
		}
	}
	return 0, ErrNotFound
}

func (WindowsBackend) TopLevelWindows() ([]Handle, error) {
	return enumerate(0), nil
}

func (WindowsBackend) ClassName(h Handle) (string, error) {
	buf := make([]uint16, 256)
	n, _, err := procGetClassNameW.Call(uintptr(h), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return "", fmt.Errorf("failed to get class name of %#x: %w", uint64(h), err)
	}
	return windows.UTF16ToString(buf[:n]), nil
}

func (WindowsBackend) RequestWorker(root Handle, timeout time.Duration) error {
	var result uintptr
	r, _, err := procSendMessageTimeoutW.Call(uintptr(root), msgSpawnWorker, 0, 0, smtoNormal,
		uintptr(timeout.Milliseconds()), uintptr(unsafe.Pointer(&result)))
	if r == 0 {
		return fmt.Errorf("failed to request worker from %#x: %w", uint64(root), err)
	}
	return nil
}

func desktopWindow() Handle {
	r, _, _ := procGetDesktopWindow.Call()
	return Handle(r)
}

func registerPortalClass() error {
	registerOnce.Do(func() {
		brush, _, _ := procCreateSolidBrush.Call(0x00202020)
		wc := wndClassEx{
			WndProc:    wndProc,
			ClassName:  utf16(portalClassName),
			Background: windows.Handle(brush),
		}
		wc.Size = uint32(unsafe.Sizeof(wc))
		if r, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); r == 0 {
			registerErr = fmt.Errorf("failed to register window class: %w", err)
		}
	})
	return registerErr
}

func (WindowsBackend) CreateWindow(spec WindowSpec) (Handle, error) {
	if err := registerPortalClass(); err != nil {
		return 0, err
	}
	r := spec.Bounds
	h, _, err := procCreateWindowExW.Call(
		uintptr(ExStyleToolWindow),
		uintptr(unsafe.Pointer(utf16(portalClassName))),
		uintptr(unsafe.Pointer(utf16(spec.Title))),
		uintptr(StylePopup),
		uintptr(r.X), uintptr(r.Y), uintptr(r.Width), uintptr(r.Height),
		0, 0, 0, 0)
	if h == 0 {
		return 0, fmt.Errorf("failed to create window: %w", err)
	}
	return Handle(h), nil
}

func (WindowsBackend) DestroyWindow(h Handle) error {
	if r, _, err := procDestroyWindow.Call(uintptr(h)); r == 0 {
		return fmt.Errorf("failed to destroy window %#x: %w", uint64(h), err)
	}
	return nil
}

func (WindowsBackend) IsWindow(h Handle) bool {
	r, _, _ := procIsWindow.Call(uintptr(h))
	return r != 0
}

func (WindowsBackend) IsVisible(h Handle) bool {
	r, _, _ := procIsWindowVisible.Call(uintptr(h))
	return r != 0
}

func (b WindowsBackend) getLong(h Handle, index int32) (uint32, error) {
	if !b.IsWindow(h) {
		return 0, invalid(h)
	}
	r, _, _ := procGetWindowLongW.Call(uintptr(h), uintptr(index))
	return uint32(r), nil
}

func (b WindowsBackend) setLong(h Handle, index int32, v uint32) error {
	if !b.IsWindow(h) {
		return invalid(h)
	}
	procSetWindowLongW.Call(uintptr(h), uintptr(index), uintptr(v))
	return nil
}

func (b WindowsBackend) Style(h Handle) (Style, error) {
	v, err := b.getLong(h, gwlStyle)
	return Style(v), err
}

func (b WindowsBackend) SetStyle(h Handle, s Style) error {
	return b.setLong(h, gwlStyle, uint32(s))
}

func (b WindowsBackend) ExStyle(h Handle) (ExStyle, error) {
	v, err := b.getLong(h, gwlExStyle)
	return ExStyle(v), err
}

func (b WindowsBackend) SetExStyle(h Handle, s ExStyle) error {
	return b.setLong(h, gwlExStyle, uint32(s))
}

func (b WindowsBackend) Parent(h Handle) (Handle, error) {
	if !b.IsWindow(h) {
		return 0, invalid(h)
	}
	r, _, _ := procGetAncestor.Call(uintptr(h), gaParent)
	if Handle(r) == desktopWindow() {
		return 0, nil
	}
	return Handle(r), nil
}

func (b WindowsBackend) SetParent(child, parent Handle) error {
	if !b.IsWindow(child) {
		return invalid(child)
	}
	if r, _, err := procSetParent.Call(uintptr(child), uintptr(parent)); r == 0 && err != windows.ERROR_SUCCESS {
		return fmt.Errorf("failed to reparent %#x: %w", uint64(child), err)
	}
	return nil
}

func (WindowsBackend) ScreenToClient(parent Handle, p Point) (Point, error) {
	if parent == 0 {
		return p, nil
	}
	pt := winPoint{X: int32(p.X), Y: int32(p.Y)}
	if r, _, err := procScreenToClient.Call(uintptr(parent), uintptr(unsafe.Pointer(&pt))); r == 0 {
		return Point{}, fmt.Errorf("failed to convert point for %#x: %w", uint64(parent), err)
	}
	return Point{X: int(pt.X), Y: int(pt.Y)}, nil
}

func (WindowsBackend) WindowRect(h Handle) (Rect, error) {
	var r winRect
	if ok, _, err := procGetWindowRect.Call(uintptr(h), uintptr(unsafe.Pointer(&r))); ok == 0 {
		return Rect{}, fmt.Errorf("failed to get window rect of %#x: %w", uint64(h), err)
	}
	return Rect{X: int(r.Left), Y: int(r.Top), Width: int(r.Right - r.Left), Height: int(r.Bottom - r.Top)}, nil
}

func (WindowsBackend) SetPosition(h Handle, r Rect, flags PositionFlags) error {
	var swp uintptr
	var after uintptr
	if flags&PositionShow != 0 {
		swp |= swpShowWindow
	}
	if flags&PositionNoZOrder != 0 {
		swp |= swpNoZOrder
	} else if flags&PositionBottom != 0 {
		after = hwndBottom
	}
	if flags&PositionNoActivate != 0 {
		swp |= swpNoActivate
	}
	if flags&PositionFrameChanged != 0 {
		swp |= swpFrameChanged
	}
	ok, _, err := procSetWindowPos.Call(uintptr(h), after, uintptr(r.X), uintptr(r.Y),
		uintptr(r.Width), uintptr(r.Height), swp)
	if ok == 0 {
		return fmt.Errorf("failed to position window %#x: %w", uint64(h), err)
	}
	return nil
}

func (b WindowsBackend) Show(h Handle) error {
	if !b.IsWindow(h) {
		return invalid(h)
	}
	procShowWindow.Call(uintptr(h), swShow)
	return nil
}

func (b WindowsBackend) Hide(h Handle) error {
	if !b.IsWindow(h) {
		return invalid(h)
	}
	procShowWindow.Call(uintptr(h), swHide)
	return nil
}

func (WindowsBackend) SetForeground(h Handle) error {
	if r, _, _ := procSetForegroundWindow.Call(uintptr(h)); r == 0 {
		return fmt.Errorf("failed to bring %#x to the foreground", uint64(h))
	}
	return nil
}

func (WindowsBackend) CreateRectRegion(width, height int) (Region, error) {
	r, _, err := procCreateRectRgn.Call(0, 0, uintptr(width), uintptr(height))
	if r == 0 {
		return 0, fmt.Errorf("failed to create region: %w", err)
	}
	return Region(r), nil
}

// SetWindowRegion hands the system a copy of r, since SetWindowRgn takes
// ownership of the region it is given.
func (b WindowsBackend) SetWindowRegion(h Handle, r Region) error {
	var applied uintptr
	if r != 0 {
		dup, err := b.CreateRectRegion(0, 0)
		if err != nil {
			return err
		}
		if res, _, _ := procCombineRgn.Call(uintptr(dup), uintptr(r), 0, rgnCopy); res == 0 {
			procDeleteObject.Call(uintptr(dup))
			return fmt.Errorf("failed to copy region %d", r)
		}
		applied = uintptr(dup)
	}
	if ok, _, err := procSetWindowRgn.Call(uintptr(h), applied, 1); ok == 0 {
		if applied != 0 {
			procDeleteObject.Call(applied)
		}
		return fmt.Errorf("failed to set region of %#x: %w", uint64(h), err)
	}
	return nil
}

func (WindowsBackend) DeleteRegion(r Region) error {
	if ok, _, _ := procDeleteObject.Call(uintptr(r)); ok == 0 {
		return fmt.Errorf("failed to delete region %d", r)
	}
	return nil
}

func (b WindowsBackend) MainWindowOf(pid int) (Handle, error) {
	for _, h := range enumerate(0) {
		var owner uint32
		procGetWindowThreadProcessId.Call(uintptr(h), uintptr(unsafe.Pointer(&owner)))
		if int(owner) != pid || !b.IsVisible(h) {
			continue
		}
		if o, _, _ := procGetWindow.Call(uintptr(h), gwOwner); o != 0 {
			continue
		}
		return h, nil
	}
	return 0, ErrNotFound
}

func (WindowsBackend) Pump() {
	var msg winMsg
	for i := 0; i < 256; i++ {
		r, _, _ := procPeekMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0, pmRemove)
		if r == 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

// Displays reports the virtual screen as a single rectangle.
func (WindowsBackend) Displays() ([]Rect, error) {
	metric := func(i uintptr) int {
		r, _, _ := procGetSystemMetrics.Call(i)
		return int(int32(r))
	}
	return []Rect{{
		X:      metric(smXVirtualScreen),
		Y:      metric(smXVirtualScreen + 1),
		Width:  metric(smXVirtualScreen + 2),
		Height: metric(smXVirtualScreen + 3),
	}}, nil
}
