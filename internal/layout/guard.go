package layout

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/1broseidon/deskportal/internal/portal"
)

// ErrSaveRefused is returned when a save would risk persisting an
// incomplete layout.
var ErrSaveRefused = errors.New("layout save refused")

// Session is the startup and shutdown state the guard checks before saving.
type Session struct {
	Loading      bool
	Attached     bool
	ShuttingDown bool
	// LoadedCount is the number of records read at load time. Portals that
	// failed to come back still count.
	LoadedCount int
	// LoadFailed is set when the layout file existed but could not be read
	// from it or any backup. Only the shutdown save may replace it.
	LoadFailed bool
}

// Builder reconstructs one portal during load. The portal's saved id is
// already installed when it is called.
type Builder func(p *portal.Portal) error

// Guard serializes portal layouts through a Store and refuses saves that
// could drop portals.
type Guard struct {
	store  *Store
	logger *slog.Logger

	mu      sync.Mutex
	session Session
}

// NewGuard returns a guard over store.
func NewGuard(store *Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, logger: logger}
}

// Store returns the underlying layout store.
func (g *Guard) Store() *Store { return g.store }

// Session returns a copy of the session state.
func (g *Guard) Session() Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// MarkAttached records that desktop attachment succeeded this session.
func (g *Guard) MarkAttached() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session.Attached = true
}

// BeginShutdown lifts the count check for the final save.
func (g *Guard) BeginShutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session.ShuttingDown = true
}

func (g *Guard) refusal(live int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.session
	switch {
	case s.Loading:
		return fmt.Errorf("%w: load in progress", ErrSaveRefused)
	case !s.Attached:
		return fmt.Errorf("%w: desktop attachment never succeeded", ErrSaveRefused)
	case !s.ShuttingDown && s.LoadFailed:
		return fmt.Errorf("%w: layout file could not be read at startup", ErrSaveRefused)
	case !s.ShuttingDown && live < s.LoadedCount:
		return fmt.Errorf("%w: %d live portals, %d loaded at startup", ErrSaveRefused, live, s.LoadedCount)
	}
	return nil
}

// Save persists every portal. Missing ids are assigned first so they stay
// stable from now on.
func (g *Guard) Save(portals []*portal.Portal, visible bool) error {
	if err := g.refusal(len(portals)); err != nil {
		g.logger.Warn("skipping layout save", "reason", err)
		return err
	}

	cfg := &Config{Version: CurrentVersion, PortalsVisible: visible, Portals: make([]Record, 0, len(portals))}
	for _, p := range portals {
		portal.EnsureID(p)
		cfg.Portals = append(cfg.Portals, RecordOf(p))
	}
	if err := g.store.Write(cfg); err != nil {
		g.logger.Error("failed to save layout", "path", g.store.Path, "error", err)
		return err
	}
	g.logger.Debug("saved layout", "path", g.store.Path, "portals", len(cfg.Portals))
	return nil
}

// Load reads the layout file and rebuilds every portal through build. A
// read failure is logged and treated as an empty layout that later saves
// may not overwrite until shutdown.
func (g *Guard) Load(build Builder) *Config {
	cfg, err := g.store.Read()
	if err != nil {
		g.logger.Error("failed to load layout, starting empty", "path", g.store.Path, "error", err)
		g.mu.Lock()
		g.session.LoadFailed = true
		g.mu.Unlock()
		return Default()
	}
	g.Restore(cfg, build)
	return cfg
}

// Restore rebuilds cfg's portals and resets the loaded count to its size,
// undecodable records included.
func (g *Guard) Restore(cfg *Config, build Builder) {
	g.mu.Lock()
	g.session.Loading = true
	g.session.LoadedCount = cfg.Loaded()
	g.session.LoadFailed = false
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.session.Loading = false
		g.mu.Unlock()
	}()

	for _, reason := range cfg.Invalid {
		g.logger.Warn("skipping layout record", "error", reason)
	}

	seen := make(map[string]bool, len(cfg.Portals))
	for _, rec := range cfg.Portals {
		if rec.ID != "" && seen[rec.ID] {
			g.logger.Warn("duplicate portal id in layout, assigning a new one", "id", rec.ID)
			rec.ID = ""
		}
		seen[rec.ID] = true

		p, err := rec.Portal()
		if err != nil {
			g.logger.Warn("skipping layout record", "error", err)
			continue
		}
		if err := build(p); err != nil {
			g.logger.Warn("failed to restore portal", "id", p.ID, "title", p.Title, "error", err)
		}
	}
}

// BeginLoad marks a load in progress until the returned func is called.
// It covers work done before Restore, such as closing the current portals.
func (g *Guard) BeginLoad() (done func()) {
	g.mu.Lock()
	g.session.Loading = true
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		g.session.Loading = false
		g.mu.Unlock()
	}
}
