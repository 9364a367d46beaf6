package daemon

import (
	"errors"

	"github.com/1broseidon/deskportal/internal/portal"
)

// Passes returns the reconciler passes of m.
func (m *Manager) Passes() []Pass {
	return []Pass{
		{Name: "shell", Run: m.resyncShell},
		{Name: "zorder", Run: m.enforceZOrder},
	}
}

// resyncShell re-attaches every portal when the icon view disappeared,
// which happens when the desktop shell restarts. Each pass makes one
// attach attempt so the UI loop never waits out a retry delay.
func (m *Manager) resyncShell() {
	iconView := m.attachment.IconView()
	if iconView != 0 && m.native.IsWindow(iconView) {
		return
	}
	if _, err := m.attachment.Resolve(); err != nil {
		if !m.shellLost {
			m.shellLost = true
			m.logger.Warn("desktop shell went away, portals stay as normal windows until it returns", "error", err)
		}
		return
	}
	m.shellLost = false
	m.logger.Info("desktop shell is back, re-attaching portals")

	reattached := 0
	for _, p := range m.registry.All() {
		if p.Window() == 0 {
			continue
		}
		err := m.reparenter.Attach(p, p.Bounds.Origin(), p.Bounds.Size())
		switch {
		case errors.Is(err, portal.ErrNotAttached):
			m.logger.Warn("portal could not be re-attached", "portal", p.ID, "error", err)
		case err != nil:
			m.logger.Warn("portal re-attach failed", "portal", p.ID, "error", err)
		default:
			reattached++
		}
		if !m.visible {
			_ = m.reparenter.SetVisible(p, false)
		}
		if app, ok := m.apps[p.ID]; ok {
			if err := app.Reattach(); err != nil {
				m.logger.Warn("embedded app re-attach failed", "portal", p.ID, "error", err)
			}
		}
	}
	m.logger.Info("portals re-attached", "count", reattached, "of", m.registry.Count())
}

// enforceZOrder keeps attached portals below the desktop icons' siblings.
// It pauses while the user is dragging or resizing a portal.
func (m *Manager) enforceZOrder() {
	if !m.cfg.ZOrder.Enabled || m.registry.AnyInteracting() {
		return
	}
	for _, p := range m.registry.All() {
		if err := m.reparenter.SendToBottom(p); err != nil {
			m.logger.Debug("failed to lower portal", "portal", p.ID, "error", err)
		}
	}
}
