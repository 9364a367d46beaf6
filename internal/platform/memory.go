package platform

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/1broseidon/deskportal/internal/clock"
)

// Memory shell classes mirror the Win32 shell so attachment logic exercises
// the same discovery paths.
const (
	MemoryRootClass     = "Progman"
	MemoryWorkerClass   = "WorkerW"
	MemoryIconViewClass = "SHELLDLL_DefView"
	MemoryPortalClass   = "DeskportalWindow"
)

// ShellLayout selects where the in-memory shell hosts its icon view.
type ShellLayout int

const (
	// ShellAbsent creates no shell windows at all.
	ShellAbsent ShellLayout = iota
	// ShellIconViewUnderRoot hosts the icon view directly below the root.
	ShellIconViewUnderRoot
	// ShellIconViewUnderWorker hosts it below a worker created on request.
	ShellIconViewUnderWorker
	// ShellRootOnly creates the root container but never an icon view.
	ShellRootOnly
)

type memWindow struct {
	handle  Handle
	class   string
	title   string
	parent  Handle
	style   Style
	exStyle ExStyle
	bounds  Rect // screen coordinates
	visible bool
	region  Region
	pid     int
	minSize Size
}

// Memory is an in-process window system. It backs tests and the daemon's
// headless "memory" backend.
type Memory struct {
	mu sync.Mutex

	clock   clock.Clock
	next    Handle
	windows map[Handle]*memWindow
	order   []Handle

	regions     map[Region]Rect
	nextRegion  Region
	doubleFrees int

	root        Handle
	iconView    Handle
	layout      ShellLayout
	iconOrigin  Point
	workerDelay int // RequestWorker calls before the worker appears

	failures map[string]error
	calls    map[string]int

	launcher *MemoryLauncher
}

var _ Native = (*Memory)(nil)

// NewMemory returns an empty in-memory window system.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real{}
	}
	m := &Memory{
		clock:      clk,
		next:       0x1000,
		windows:    make(map[Handle]*memWindow),
		regions:    make(map[Region]Rect),
		nextRegion: 1,
		failures:   make(map[string]error),
		calls:      make(map[string]int),
	}
	m.launcher = &MemoryLauncher{mem: m, scripts: make(map[string]AppScript), nextPID: 4000}
	return m
}

// InstallShell creates shell windows according to layout. The icon view is
// placed at origin in screen coordinates.
func (m *Memory) InstallShell(layout ShellLayout, origin Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layout = layout
	m.iconOrigin = origin
	if layout == ShellAbsent {
		return
	}
	m.root = m.addLocked(&memWindow{class: MemoryRootClass, style: StylePopup | StyleVisible, visible: true,
		bounds: Rect{Width: 1920, Height: 1080}})
	if layout == ShellIconViewUnderRoot {
		m.iconView = m.addLocked(&memWindow{class: MemoryIconViewClass, parent: m.root, style: StyleChild | StyleVisible,
			visible: true, bounds: Rect{X: origin.X, Y: origin.Y, Width: 1920, Height: 1080}})
	}
}

// DelayWorker makes RequestWorker succeed only after n calls.
func (m *Memory) DelayWorker(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workerDelay = n
}

// Fail makes the named operation return err until cleared with a nil error.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// LiveRegions returns the number of allocated, not yet deleted regions.
func (m *Memory) LiveRegions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}

// DoubleFrees counts DeleteRegion calls on regions that were not live.
func (m *Memory) DoubleFrees() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doubleFrees
}

// RegionOf returns the region currently applied to h and its rectangle.
func (m *Memory) RegionOf(h Handle) (Region, Rect, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[h]
	if !ok || w.region == 0 {
		return 0, Rect{}, false
	}
	r, live := m.regions[w.region]
	return w.region, r, live
}

// IconView returns the icon view handle installed by InstallShell, if any.
func (m *Memory) IconView() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iconView
}

// AddTopLevel adds a foreign top-level window and returns its handle.
func (m *Memory) AddTopLevel(class string, bounds Rect, pid int) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(&memWindow{class: class, style: StylePopup | StyleCaption | StyleSysMenu | StyleVisible,
		exStyle: ExStyleAppWindow, bounds: bounds, visible: true, pid: pid})
}

// Launcher returns the scripted process launcher bound to this window system.
func (m *Memory) Launcher() *MemoryLauncher {
	return m.launcher
}

func (m *Memory) addLocked(w *memWindow) Handle {
	m.next++
	w.handle = m.next
	m.windows[w.handle] = w
	m.order = append(m.order, w.handle)
	return w.handle
}

func (m *Memory) enter(op string) error {
	m.calls[op]++
	return m.failures[op]
}

func (m *Memory) window(h Handle) (*memWindow, error) {
	w, ok := m.windows[h]
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidWindow, uint64(h))
	}
	return w, nil
}

func (m *Memory) ShellClasses() ShellClasses {
	return ShellClasses{Root: MemoryRootClass, Worker: MemoryWorkerClass, IconView: MemoryIconViewClass}
}

func (m *Memory) FindWindow(class string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindWindow"); err != nil {
		return 0, err
	}
	for _, h := range m.order {
		w := m.windows[h]
		if w != nil && w.parent == 0 && strings.EqualFold(w.class, class) {
			return h, nil
		}
	}
	return 0, ErrNotFound
}

func (m *Memory) FindChild(parent Handle, class string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindChild"); err != nil {
		return 0, err
	}
	for _, h := range m.order {
		w := m.windows[h]
		if w == nil || !strings.EqualFold(w.class, class) {
			continue
		}
		if parent == 0 && w.parent == 0 {
			return h, nil
		}
		if parent != 0 && m.isDescendantLocked(h, parent) {
			return h, nil
		}
	}
	return 0, ErrNotFound
}

func (m *Memory) isDescendantLocked(h, ancestor Handle) bool {
	for depth := 0; depth < 64; depth++ {
		w := m.windows[h]
		if w == nil || w.parent == 0 {
			return false
		}
		if w.parent == ancestor {
			return true
		}
		h = w.parent
	}
	return false
}

func (m *Memory) TopLevelWindows() ([]Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("TopLevelWindows"); err != nil {
		return nil, err
	}
	var out []Handle
	for _, h := range m.order {
		if w := m.windows[h]; w != nil && w.parent == 0 {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) ClassName(h Handle) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.window(h)
	if err != nil {
		return "", err
	}
	return w.class, nil
}

func (m *Memory) RequestWorker(root Handle, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RequestWorker"); err != nil {
		return err
	}
	if _, err := m.window(root); err != nil {
		return err
	}
	if m.workerDelay > 0 {
		m.workerDelay--
		return nil
	}
	for _, h := range m.order {
		if w := m.windows[h]; w != nil && w.class == MemoryWorkerClass {
			return nil
		}
	}
	worker := m.addLocked(&memWindow{class: MemoryWorkerClass, style: StylePopup | StyleVisible, visible: true,
		bounds: Rect{Width: 1920, Height: 1080}})
	if m.layout == ShellIconViewUnderWorker && m.iconView == 0 {
		m.iconView = m.addLocked(&memWindow{class: MemoryIconViewClass, parent: worker, style: StyleChild | StyleVisible,
			visible: true, bounds: Rect{X: m.iconOrigin.X, Y: m.iconOrigin.Y, Width: 1920, Height: 1080}})
	}
	return nil
}

func (m *Memory) CreateWindow(spec WindowSpec) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateWindow"); err != nil {
		return 0, err
	}
	return m.addLocked(&memWindow{class: MemoryPortalClass, title: spec.Title, style: StylePopup,
		bounds: spec.Bounds}), nil
}

func (m *Memory) DestroyWindow(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.window(h); err != nil {
		return err
	}
	delete(m.windows, h)
	for i, o := range m.order {
		if o == h {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) IsWindow(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.windows[h]
	return ok
}

func (m *Memory) IsVisible(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[h]
	return ok && w.visible
}

func (m *Memory) Style(h Handle) (Style, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.window(h)
	if err != nil {
		return 0, err
	}
	return w.style, nil
}

func (m *Memory) SetStyle(h Handle, s Style) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetStyle"); err != nil {
		return err
	}
	w, err := m.window(h)
	if err != nil {
		return err
	}
	w.style = s
	w.visible = s&StyleVisible != 0
	return nil
}

func (m *Memory) ExStyle(h Handle) (ExStyle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.window(h)
	if err != nil {
		return 0, err
	}
	return w.exStyle, nil
}

func (m *Memory) SetExStyle(h Handle, s ExStyle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetExStyle"); err != nil {
		return err
	}
	w, err := m.window(h)
	if err != nil {
		return err
	}
	w.exStyle = s
	return nil
}

func (m *Memory) Parent(h Handle) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.window(h)
	if err != nil {
		return 0, err
	}
	return w.parent, nil
}

func (m *Memory) SetParent(child, parent Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetParent"); err != nil {
		return err
	}
	w, err := m.window(child)
	if err != nil {
		return err
	}
	if parent != 0 {
		if _, err := m.window(parent); err != nil {
			return err
		}
	}
	w.parent = parent
	return nil
}

func (m *Memory) originLocked(h Handle) Point {
	if h == 0 {
		return Point{}
	}
	if w, ok := m.windows[h]; ok {
		return w.bounds.Origin()
	}
	return Point{}
}

func (m *Memory) ScreenToClient(parent Handle, p Point) (Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ScreenToClient"); err != nil {
		return Point{}, err
	}
	if parent != 0 {
		if _, err := m.window(parent); err != nil {
			return Point{}, err
		}
	}
	o := m.originLocked(parent)
	return Point{X: p.X - o.X, Y: p.Y - o.Y}, nil
}

func (m *Memory) WindowRect(h Handle) (Rect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.window(h)
	if err != nil {
		return Rect{}, err
	}
	return w.bounds, nil
}

func (m *Memory) SetPosition(h Handle, r Rect, flags PositionFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetPosition"); err != nil {
		return err
	}
	w, err := m.window(h)
	if err != nil {
		return err
	}
	o := m.originLocked(w.parent)
	width, height := r.Width, r.Height
	if width < w.minSize.Width {
		width = w.minSize.Width
	}
	if height < w.minSize.Height {
		height = w.minSize.Height
	}
	w.bounds = Rect{X: r.X + o.X, Y: r.Y + o.Y, Width: width, Height: height}
	if flags&PositionShow != 0 {
		w.visible = true
		w.style |= StyleVisible
	}
	if flags&PositionBottom != 0 && flags&PositionNoZOrder == 0 {
		m.calls["ZOrderBottom"]++
	}
	return nil
}

func (m *Memory) Show(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.window(h)
	if err != nil {
		return err
	}
	w.visible = true
	w.style |= StyleVisible
	return nil
}

func (m *Memory) Hide(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.window(h)
	if err != nil {
		return err
	}
	w.visible = false
	w.style &^= StyleVisible
	return nil
}

func (m *Memory) SetForeground(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.window(h)
	return err
}

func (m *Memory) CreateRectRegion(width, height int) (Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateRectRegion"); err != nil {
		return 0, err
	}
	r := m.nextRegion
	m.nextRegion++
	m.regions[r] = Rect{Width: width, Height: height}
	return r, nil
}

func (m *Memory) SetWindowRegion(h Handle, r Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetWindowRegion"); err != nil {
		return err
	}
	w, err := m.window(h)
	if err != nil {
		return err
	}
	if r != 0 {
		if _, ok := m.regions[r]; !ok {
			return fmt.Errorf("region %d is not live", r)
		}
	}
	w.region = r
	return nil
}

func (m *Memory) DeleteRegion(r Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[r]; !ok {
		m.doubleFrees++
		return fmt.Errorf("region %d is not live", r)
	}
	delete(m.regions, r)
	for _, w := range m.windows {
		if w.region == r {
			w.region = 0
		}
	}
	return nil
}

func (m *Memory) MainWindowOf(pid int) (Handle, error) {
	m.launcher.materialize(pid)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MainWindowOf"); err != nil {
		return 0, err
	}
	var candidates []*memWindow
	for _, h := range m.order {
		if w := m.windows[h]; w != nil && w.pid == pid && w.parent == 0 && w.visible {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return 0, ErrNotFound
	}
	// The most recently created visible window wins, like a splash that is
	// replaced by the real main window.
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].handle > candidates[j].handle })
	return candidates[0].handle, nil
}

// Displays reports a single 1920x1080 monitor at the origin.
func (m *Memory) Displays() ([]Rect, error) {
	return []Rect{{Width: 1920, Height: 1080}}, nil
}
