package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/deskportal/internal/clock"
	"github.com/1broseidon/deskportal/internal/config"
	"github.com/1broseidon/deskportal/internal/embed"
	"github.com/1broseidon/deskportal/internal/fileops"
	"github.com/1broseidon/deskportal/internal/ipc"
	"github.com/1broseidon/deskportal/internal/layout"
	"github.com/1broseidon/deskportal/internal/platform"
	"github.com/1broseidon/deskportal/internal/portal"
	"github.com/1broseidon/deskportal/internal/shell"
	"github.com/1broseidon/deskportal/internal/uithread"
)

// ManagerOptions wires a Manager to its collaborators.
type ManagerOptions struct {
	Config *config.Config
	// ConfigPath is re-read by Reload; empty uses the default location.
	ConfigPath  string
	LayoutPath  string
	ProfilesDir string

	Native   platform.Native
	Launcher platform.Launcher
	UI       uithread.Dispatcher
	Clock    clock.Clock
	Mover    *fileops.Mover
	Logger   *slog.Logger
}

// Manager owns every portal of a running daemon. Its state is confined to
// the UI loop; the exported controller methods marshal onto it.
type Manager struct {
	native   platform.Native
	launcher platform.Launcher
	ui       uithread.Dispatcher
	clock    clock.Clock
	mover    *fileops.Mover
	logger   *slog.Logger

	configPath string
	cfg        *config.Config

	attachment *shell.Attachment
	registry   *portal.Registry
	reparenter *portal.Reparenter
	guard      *layout.Guard
	profiles   *layout.Profiles

	apps      map[string]*embed.Embedder
	events    chan embed.Event
	visible   bool
	shellLost bool
	saveTimer *time.Timer
	started   time.Time

	reloaded   chan *config.Config
	shutdownMu sync.Mutex
	shutdownFn func()
}

var _ ipc.Controller = (*Manager)(nil)

// NewManager builds a manager. Start must run before the controller
// methods are used.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Native == nil {
		return nil, errors.New("native backend is required")
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.UI == nil {
		opts.UI = uithread.Inline{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Launcher == nil {
		opts.Launcher = platform.ExecLauncher{}
	}
	if opts.Mover == nil {
		opts.Mover = fileops.DefaultMover()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LayoutPath == "" {
		p, err := opts.Config.LayoutPath()
		if err != nil {
			return nil, err
		}
		opts.LayoutPath = p
	}
	if opts.ProfilesDir == "" {
		d, err := config.DefaultProfilesDir()
		if err != nil {
			return nil, err
		}
		opts.ProfilesDir = d
	}

	cfg := opts.Config
	m := &Manager{
		native:     opts.Native,
		launcher:   opts.Launcher,
		ui:         opts.UI,
		clock:      opts.Clock,
		mover:      opts.Mover,
		logger:     opts.Logger,
		configPath: opts.ConfigPath,
		cfg:        cfg,
		registry:   portal.NewRegistry(),
		guard:      layout.NewGuard(layout.NewStore(opts.LayoutPath, cfg.Layout.Backups), opts.Logger.With("component", "layout")),
		profiles:   layout.NewProfiles(opts.ProfilesDir),
		apps:       make(map[string]*embed.Embedder),
		events:     make(chan embed.Event, 64),
		visible:    true,
		started:    opts.Clock.Now(),
		reloaded:   make(chan *config.Config, 1),
	}
	m.attachment = shell.NewAttachment(opts.Native, opts.Clock, shell.Options{
		Attempts:   cfg.Attach.Attempts,
		RetryDelay: cfg.Attach.RetryDelay,
		SpawnWait:  cfg.Attach.SpawnWait,
	}, opts.Logger.With("component", "shell"))
	m.reparenter = portal.NewReparenter(opts.Native, m.attachment, m.registry, cfg.Embed.HeaderHeight, opts.Logger.With("component", "portal"))
	return m, nil
}

// Start attaches to the desktop shell and restores the saved layout. It
// must run on the UI loop. Attach exhaustion is returned and is fatal.
func (m *Manager) Start() error {
	if _, err := m.attachment.Attach(); err != nil {
		return err
	}
	m.guard.MarkAttached()

	cfg := m.guard.Load(m.build)
	m.visible = cfg.PortalsVisible
	m.applyVisibility()
	m.logger.Info("layout restored", "portals", m.registry.Count(), "visible", m.visible)
	for _, info := range m.registry.Infos() {
		m.logger.Debug("portal restored", "id", info.ID, "kind", info.Kind, "title", info.Title)
	}
	return nil
}

// Events exposes embedder events for the pump.
func (m *Manager) Events() <-chan embed.Event { return m.events }

// Reloaded delivers configs applied by Reload so long-running helpers can
// pick up new intervals.
func (m *Manager) Reloaded() <-chan *config.Config { return m.reloaded }

// SetShutdownFunc installs the callback run by Shutdown.
func (m *Manager) SetShutdownFunc(fn func()) {
	m.shutdownMu.Lock()
	defer m.shutdownMu.Unlock()
	m.shutdownFn = fn
}

func (m *Manager) embedConfig() embed.Config {
	e := m.cfg.Embed
	return embed.Config{
		HeaderHeight:  e.HeaderHeight,
		PollInterval:  e.PollInterval,
		LaunchTimeout: e.LaunchTimeout,
		MinWidth:      e.MinWindowWidth,
		MinHeight:     e.MinWindowHeight,
		StopWait:      e.StopWait,
	}
}

// build reconstructs one portal from the layout file or a profile.
func (m *Manager) build(p *portal.Portal) error {
	if p.ID != "" {
		if _, err := m.registry.Lookup(p.ID); err == nil {
			m.logger.Warn("portal id already live, assigning a new one", "id", p.ID)
			p.ID = ""
		}
	}
	return m.addPortal(p)
}

func (m *Manager) addPortal(p *portal.Portal) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.keepOnScreen(p)
	if p.Kind == portal.KindFolder {
		m.installDropHandler(p)
	}

	err := m.reparenter.Attach(p, p.Bounds.Origin(), p.Bounds.Size())
	if _, ok := m.registry.IDOf(p); !ok {
		return fmt.Errorf("portal %q was not registered: %w", p.Title, err)
	}
	if errors.Is(err, portal.ErrNotAttached) {
		m.logger.Warn("portal shown as a normal window", "portal", p.ID, "title", p.Title, "error", err)
	} else if err != nil {
		return err
	}

	if p.Kind == portal.KindApp {
		app := embed.New(p.ID, *p.App, appHost{m: m, p: p}, m.embedConfig(), embed.Deps{
			Native:     m.native,
			Launcher:   m.launcher,
			Dispatcher: m.ui,
			Clock:      m.clock,
			Logger:     m.logger.With("component", "embed"),
			Events:     m.events,
		})
		app.SetHidden(p.RolledUp || !m.visible)
		m.apps[p.ID] = app
	}
	if !m.visible {
		_ = m.reparenter.SetVisible(p, false)
	}
	return nil
}

// keepOnScreen moves portals saved on a monitor that is gone back onto the
// primary display.
func (m *Manager) keepOnScreen(p *portal.Portal) {
	lister, ok := m.native.(platform.DisplayLister)
	if !ok {
		return
	}
	displays, err := lister.Displays()
	if err != nil || platform.OnAnyDisplay(p.Bounds, displays) {
		return
	}
	primary := displays[0]
	m.logger.Info("portal is off screen, moving it to the primary display",
		"portal", p.ID, "x", p.Bounds.X, "y", p.Bounds.Y)
	p.Bounds.X = primary.X + 50
	p.Bounds.Y = primary.Y + 50
}

func (m *Manager) installDropHandler(p *portal.Portal) {
	dir := p.Folder.Path
	logger := m.logger.With("portal", p.ID)
	mover := m.mover
	p.SetDropHandler(func(paths []string) bool {
		moved, err := mover.MoveAll(context.Background(), paths, dir)
		if err != nil {
			logger.Warn("failed to move dropped files", "folder", dir, "moved", moved, "error", err)
		} else {
			logger.Info("moved dropped files", "folder", dir, "count", moved)
		}
		return moved > 0
	})
}

func (m *Manager) lookup(id string) (*portal.Portal, error) {
	return m.registry.Lookup(id)
}

func (m *Manager) app(id string) (*embed.Embedder, error) {
	p, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if p.Kind != portal.KindApp {
		return nil, fmt.Errorf("portal %s is a %s portal, not an app portal", id, p.Kind)
	}
	app, ok := m.apps[id]
	if !ok {
		return nil, fmt.Errorf("app portal %s has no embedder", id)
	}
	return app, nil
}

// place moves p and keeps it hidden while portals are hidden.
func (m *Manager) place(p *portal.Portal, bounds platform.Rect) error {
	if err := m.reparenter.Place(p, bounds); err != nil {
		return err
	}
	if !m.visible {
		return m.reparenter.SetVisible(p, false)
	}
	return nil
}

func (m *Manager) applyVisibility() {
	for _, p := range m.registry.All() {
		if err := m.reparenter.SetVisible(p, m.visible); err != nil {
			m.logger.Warn("failed to change portal visibility", "portal", p.ID, "error", err)
		}
		if app, ok := m.apps[p.ID]; ok {
			app.SetHidden(p.RolledUp || !m.visible)
		}
	}
}

func (m *Manager) removePortal(id string) error {
	p, err := m.registry.Remove(id)
	if err != nil {
		return err
	}
	if app, ok := m.apps[id]; ok {
		app.Close()
		delete(m.apps, id)
	}
	return p.Destroy(m.native)
}

func (m *Manager) closeAll() {
	for _, p := range m.registry.All() {
		if err := m.removePortal(p.ID); err != nil {
			m.logger.Warn("failed to close portal", "portal", p.ID, "error", err)
		}
	}
}

// save persists the layout through the guard. Refusals are logged by the
// guard and returned.
func (m *Manager) save() error {
	if m.saveTimer != nil {
		m.saveTimer.Stop()
		m.saveTimer = nil
	}
	return m.guard.Save(m.registry.All(), m.visible)
}

// scheduleSave debounces layout saves after portal mutations.
func (m *Manager) scheduleSave() {
	delay := m.cfg.Layout.AutosaveDelay
	if delay <= 0 {
		_ = m.save()
		return
	}
	if m.saveTimer != nil {
		m.saveTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		m.ui.Post(func() {
			if m.saveTimer != t {
				return
			}
			m.saveTimer = nil
			_ = m.save()
		})
	})
	m.saveTimer = t
}

// handleEvent applies one embedder event on the UI loop.
func (m *Manager) handleEvent(ev embed.Event) {
	switch ev := ev.(type) {
	case embed.StateChanged:
		m.logger.Info("app state changed", "portal", ev.ID, "from", ev.From.String(), "to", ev.To.String(), "status", ev.Status)
	case embed.ResizeRequested:
		p, err := m.lookup(ev.ID)
		if err != nil {
			return
		}
		bounds := p.Bounds
		bounds.Width = max(bounds.Width, ev.Width)
		bounds.Height = max(bounds.Height, ev.Height)
		if bounds == p.Bounds {
			return
		}
		m.logger.Info("growing portal to fit app minimum size", "portal", ev.ID, "width", bounds.Width, "height", bounds.Height)
		if err := m.place(p, bounds); err != nil {
			m.logger.Warn("failed to resize portal", "portal", ev.ID, "error", err)
			return
		}
		if app, ok := m.apps[ev.ID]; ok {
			app.OnContentResized()
		}
		m.scheduleSave()
	}
}

// PumpEvents forwards embedder events onto the UI loop until ctx ends.
func (m *Manager) PumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.ui.Post(func() { m.handleEvent(ev) })
		}
	}
}

// Stop performs the final guarded save and closes every portal. It must
// run on the UI loop.
func (m *Manager) Stop() {
	m.guard.BeginShutdown()
	if err := m.save(); err != nil {
		m.logger.Warn("final layout save failed", "error", err)
	}
	m.closeAll()
}

type appHost struct {
	m *Manager
	p *portal.Portal
}

func (h appHost) ScreenBounds() platform.Rect   { return h.p.Bounds }
func (h appHost) ParentWindow() platform.Handle { return h.m.reparenter.Parent(h.p) }
