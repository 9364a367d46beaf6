package daemon

import (
	"errors"
	"fmt"
	"strings"

	"github.com/1broseidon/deskportal/internal/config"
	"github.com/1broseidon/deskportal/internal/embed"
	"github.com/1broseidon/deskportal/internal/ipc"
	"github.com/1broseidon/deskportal/internal/layout"
	"github.com/1broseidon/deskportal/internal/platform"
	"github.com/1broseidon/deskportal/internal/portal"
)

const (
	defaultPortalWidth  = 320
	defaultPortalHeight = 240
)

// Status reports the attachment and portal counts.
func (m *Manager) Status() ipc.StatusData {
	var status ipc.StatusData
	_ = m.ui.Call(func() error {
		topo := m.attachment.Topology()
		running := 0
		for _, app := range m.apps {
			if app.State() != embed.Stopped {
				running++
			}
		}
		status = ipc.StatusData{
			Attached:       m.attachment.Attached(),
			RootWindow:     uint64(topo.Root),
			IconView:       uint64(topo.IconView),
			WorkerWindow:   uint64(topo.Worker),
			PortalCount:    m.registry.Count(),
			RunningApps:    running,
			PortalsVisible: m.visible,
			LayoutPath:     m.guard.Store().Path,
		}
		return nil
	})
	return status
}

func (m *Manager) info(p *portal.Portal) ipc.PortalInfo {
	info := ipc.PortalInfo{
		ID:       p.ID,
		Type:     string(p.Kind),
		Title:    p.Title,
		X:        p.Bounds.X,
		Y:        p.Bounds.Y,
		Width:    p.Bounds.Width,
		Height:   p.Bounds.Height,
		RolledUp: p.RolledUp,
		Attached: p.Attached(),
	}
	switch p.Kind {
	case portal.KindFolder:
		info.FolderPath = p.Folder.Path
	case portal.KindApp:
		info.ExecutablePath = p.App.ExecutablePath
		info.Args = append([]string(nil), p.App.Args...)
		if app, ok := m.apps[p.ID]; ok {
			info.AppState = app.State().String()
			info.AppStatus = app.Status()
			if app.Launching() {
				info.AppStatus = "launching"
			}
			info.PID = app.PID()
		}
	case portal.KindURL:
		info.Bookmarks = len(p.URL.Bookmarks)
	}
	return info
}

// ListPortals enumerates portals in creation order.
func (m *Manager) ListPortals() []ipc.PortalInfo {
	var out []ipc.PortalInfo
	_ = m.ui.Call(func() error {
		for _, p := range m.registry.All() {
			out = append(out, m.info(p))
		}
		return nil
	})
	return out
}

func portalFromRequest(req ipc.CreatePortalPayload) (*portal.Portal, error) {
	kind, err := portal.ParseKind(req.Type)
	if err != nil {
		return nil, err
	}
	width, height := req.Width, req.Height
	if width <= 0 {
		width = defaultPortalWidth
	}
	if height <= 0 {
		height = defaultPortalHeight
	}
	h := portal.Header{
		Title:  strings.TrimSpace(req.Title),
		Bounds: platform.Rect{X: req.X, Y: req.Y, Width: width, Height: height},
		Style:  portal.Style{TitleAlign: portal.AlignLeft},
	}
	switch kind {
	case portal.KindFolder:
		if req.FolderPath == "" {
			return nil, errors.New("folder portals need a folder path")
		}
		if h.Title == "" {
			h.Title = req.FolderPath
		}
		return portal.NewFolder(h, portal.Folder{Path: req.FolderPath, SortMode: req.SortMode}), nil
	case portal.KindApp:
		if req.ExecutablePath == "" {
			return nil, errors.New("app portals need an executable path")
		}
		if h.Title == "" {
			h.Title = req.ExecutablePath
		}
		return portal.NewApp(h, portal.App{ExecutablePath: req.ExecutablePath, Args: req.Args}), nil
	default:
		bookmarks := make([]portal.Bookmark, 0, len(req.Bookmarks))
		for _, b := range req.Bookmarks {
			bookmarks = append(bookmarks, portal.Bookmark{Name: b.Name, URL: b.URL})
		}
		if h.Title == "" {
			h.Title = "Links"
		}
		return portal.NewURL(h, portal.URL{Bookmarks: bookmarks}), nil
	}
}

// CreatePortal builds, attaches and registers a new portal. A portal that
// could only be shown as a normal window is still created.
func (m *Manager) CreatePortal(req ipc.CreatePortalPayload) (ipc.PortalInfo, error) {
	p, err := portalFromRequest(req)
	if err != nil {
		return ipc.PortalInfo{}, err
	}
	var info ipc.PortalInfo
	err = m.ui.Call(func() error {
		if err := m.registry.AssignID(p, req.ID); err != nil {
			return err
		}
		if err := m.addPortal(p); err != nil {
			return err
		}
		if req.Start && p.Kind == portal.KindApp {
			if err := m.apps[p.ID].Start(); err != nil {
				m.logger.Warn("app did not start", "portal", p.ID, "error", err)
			}
		}
		m.scheduleSave()
		info = m.info(p)
		return nil
	})
	return info, err
}

// RemovePortal stops the portal's app, destroys its window and forgets it.
func (m *Manager) RemovePortal(id string) error {
	return m.ui.Call(func() error {
		if err := m.removePortal(id); err != nil {
			return err
		}
		m.scheduleSave()
		return nil
	})
}

// MovePortal moves and optionally resizes a portal. Embedded apps follow.
func (m *Manager) MovePortal(req ipc.MovePortalPayload) error {
	return m.ui.Call(func() error {
		p, err := m.lookup(req.ID)
		if err != nil {
			return err
		}
		bounds := p.Bounds
		bounds.X, bounds.Y = req.X, req.Y
		if req.Width > 0 {
			bounds.Width = req.Width
		}
		if req.Height > 0 {
			bounds.Height = req.Height
		}
		resized := bounds.Width != p.Bounds.Width || bounds.Height != p.Bounds.Height
		if err := m.place(p, bounds); err != nil {
			return err
		}
		if app, ok := m.apps[p.ID]; ok {
			if resized {
				app.OnContentResized()
			} else {
				app.OnPortalMoved()
			}
		}
		m.scheduleSave()
		return nil
	})
}

// SetRolledUp collapses a portal to its header or expands it again.
func (m *Manager) SetRolledUp(id string, rolledUp bool) error {
	return m.ui.Call(func() error {
		p, err := m.lookup(id)
		if err != nil {
			return err
		}
		if p.RolledUp == rolledUp {
			return nil
		}
		p.RolledUp = rolledUp
		if err := m.place(p, p.Bounds); err != nil {
			return err
		}
		if app, ok := m.apps[id]; ok {
			app.SetHidden(rolledUp || !m.visible)
		}
		m.scheduleSave()
		return nil
	})
}

// SetInteracting marks a portal as being dragged or resized, which pauses
// z-order enforcement.
func (m *Manager) SetInteracting(id string, interacting bool) error {
	return m.ui.Call(func() error {
		p, err := m.lookup(id)
		if err != nil {
			return err
		}
		p.SetInteracting(interacting)
		return nil
	})
}

// SetPortalsVisible shows or hides every portal and persists the choice.
func (m *Manager) SetPortalsVisible(visible bool) error {
	return m.ui.Call(func() error {
		if m.visible == visible {
			return nil
		}
		m.visible = visible
		m.applyVisibility()
		m.scheduleSave()
		return nil
	})
}

// AppStart launches the app of an app portal and embeds its window.
func (m *Manager) AppStart(id string) error {
	return m.ui.Call(func() error {
		app, err := m.app(id)
		if err != nil {
			return err
		}
		return app.Start()
	})
}

func (m *Manager) AppStop(id string) error {
	return m.ui.Call(func() error {
		app, err := m.app(id)
		if err != nil {
			return err
		}
		return app.Stop()
	})
}

func (m *Manager) AppPopOut(id string) error {
	return m.ui.Call(func() error {
		app, err := m.app(id)
		if err != nil {
			return err
		}
		return app.PopOut()
	})
}

func (m *Manager) AppPopIn(id string) error {
	return m.ui.Call(func() error {
		app, err := m.app(id)
		if err != nil {
			return err
		}
		return app.PopIn()
	})
}

// DropFiles delivers paths to a portal's drop handler. The move itself runs
// off the UI loop.
func (m *Manager) DropFiles(id string, paths []string) (bool, error) {
	var p *portal.Portal
	err := m.ui.Call(func() error {
		var err error
		p, err = m.lookup(id)
		return err
	})
	if err != nil {
		return false, err
	}
	return p.Drop(paths), nil
}

// SaveLayout writes the layout now. Guard refusals are returned.
func (m *Manager) SaveLayout() error {
	return m.ui.Call(m.save)
}

// ProfileSave snapshots the current portals under name.
func (m *Manager) ProfileSave(name string) error {
	return m.ui.Call(func() error {
		cfg := layout.Default()
		cfg.PortalsVisible = m.visible
		for _, p := range m.registry.All() {
			cfg.Portals = append(cfg.Portals, layout.RecordOf(p))
		}
		if err := m.profiles.Save(name, cfg); err != nil {
			return err
		}
		m.logger.Info("saved profile", "profile", name, "portals", len(cfg.Portals))
		return nil
	})
}

// ProfileLoad replaces every portal with the profile's and saves the result
// as the current layout.
func (m *Manager) ProfileLoad(name string) error {
	cfg, err := m.profiles.Read(name)
	if err != nil {
		return err
	}
	return m.ui.Call(func() error {
		done := m.guard.BeginLoad()
		m.closeAll()
		done()

		m.guard.Restore(cfg, m.build)
		m.visible = cfg.PortalsVisible
		m.applyVisibility()
		m.logger.Info("loaded profile", "profile", name, "portals", m.registry.Count())
		return m.save()
	})
}

// Reload re-reads the config file. Embedding settings apply to app portals
// created afterwards.
func (m *Manager) Reload() error {
	var (
		cfg *config.Config
		err error
	)
	if m.configPath != "" {
		var res *config.LoadResult
		if res, err = config.LoadFromPath(m.configPath); err == nil {
			cfg = res.Config
		}
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	err = m.ui.Call(func() error {
		m.cfg = cfg
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case <-m.reloaded:
	default:
	}
	select {
	case m.reloaded <- cfg:
	default:
	}
	m.logger.Info("config reloaded", "zorder", cfg.ZOrder.Enabled, "autosave_delay", cfg.Layout.AutosaveDelay)
	return nil
}

// Shutdown runs the callback installed with SetShutdownFunc.
func (m *Manager) Shutdown() {
	m.shutdownMu.Lock()
	fn := m.shutdownFn
	m.shutdownMu.Unlock()
	if fn != nil {
		fn()
	}
}
