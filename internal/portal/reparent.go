package portal

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/1broseidon/deskportal/internal/platform"
)

// ErrNotAttached is returned when the icon view is unresolved or the
// reparenting sequence failed. The portal is still registered.
var ErrNotAttached = errors.New("portal not attached to desktop")

// Target supplies the current reparent target.
type Target interface {
	IconView() platform.Handle
}

// Reparenter turns portal windows into children of the shell icon view.
type Reparenter struct {
	native       platform.Native
	target       Target
	registry     *Registry
	logger       *slog.Logger
	headerHeight int
}

// NewReparenter returns a reparenter registering portals into registry.
func NewReparenter(native platform.Native, target Target, registry *Registry, headerHeight int, logger *slog.Logger) *Reparenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reparenter{
		native:       native,
		target:       target,
		registry:     registry,
		logger:       logger,
		headerHeight: headerHeight,
	}
}

type savedState struct {
	parent  platform.Handle
	style   platform.Style
	exStyle platform.ExStyle
}

// Attach places p at pos/size as a child of the icon view and registers it.
// Pre-supplied ids must be installed before calling Attach. On failure the
// portal is registered anyway and left as a normal top-level window.
func (r *Reparenter) Attach(p *Portal, pos platform.Point, size platform.Size) error {
	p.Bounds = platform.Rect{X: pos.X, Y: pos.Y, Width: size.Width, Height: size.Height}

	if err := r.ensureWindow(p); err != nil {
		r.register(p)
		return fmt.Errorf("%w: %w", ErrNotAttached, err)
	}

	iconView := platform.Handle(0)
	if r.target != nil {
		iconView = r.target.IconView()
	}
	if iconView == 0 {
		r.register(p)
		r.showTopLevel(p)
		return fmt.Errorf("%w: icon view unresolved", ErrNotAttached)
	}

	saved, err := r.capture(p.window)
	if err != nil {
		r.register(p)
		return fmt.Errorf("%w: %w", ErrNotAttached, err)
	}
	if err := r.reparent(p, iconView); err != nil {
		r.logger.Warn("reparenting failed, portal stays top-level",
			"portal", p.ID, "title", p.Title, "error", err)
		r.rollback(p, saved)
		r.register(p)
		return fmt.Errorf("%w: %w", ErrNotAttached, err)
	}

	p.attached = true
	r.register(p)
	return nil
}

func (r *Reparenter) ensureWindow(p *Portal) error {
	if p.window != 0 && r.native.IsWindow(p.window) {
		return nil
	}
	bg, _ := ParseColor(p.Style.BackgroundColor)
	h, err := r.native.CreateWindow(platform.WindowSpec{
		Title:      p.Title,
		Bounds:     p.WindowBounds(r.headerHeight),
		Background: bg,
	})
	if err != nil {
		return fmt.Errorf("failed to create portal window: %w", err)
	}
	p.window = h
	return nil
}

func (r *Reparenter) capture(h platform.Handle) (savedState, error) {
	parent, err := r.native.Parent(h)
	if err != nil {
		return savedState{}, err
	}
	style, err := r.native.Style(h)
	if err != nil {
		return savedState{}, err
	}
	ex, err := r.native.ExStyle(h)
	if err != nil {
		return savedState{}, err
	}
	return savedState{parent: parent, style: style, exStyle: ex}, nil
}

func (r *Reparenter) reparent(p *Portal, iconView platform.Handle) error {
	h := p.window
	if err := r.native.SetParent(h, iconView); err != nil {
		return fmt.Errorf("failed to reparent: %w", err)
	}

	style, err := r.native.Style(h)
	if err != nil {
		return err
	}
	if err := r.native.SetStyle(h, (style&^platform.StylePopup)|platform.StyleChild); err != nil {
		return fmt.Errorf("failed to set child style: %w", err)
	}

	ex, err := r.native.ExStyle(h)
	if err != nil {
		return err
	}
	if err := r.native.SetExStyle(h, ex|platform.ExStyleToolWindow|platform.ExStyleNoActivate); err != nil {
		return fmt.Errorf("failed to set extended style: %w", err)
	}

	return r.position(p, iconView)
}

func (r *Reparenter) position(p *Portal, parent platform.Handle) error {
	bounds := p.WindowBounds(r.headerHeight)
	client, err := r.native.ScreenToClient(parent, bounds.Origin())
	if err != nil {
		return fmt.Errorf("failed to convert to client coordinates: %w", err)
	}
	rect := platform.Rect{X: client.X, Y: client.Y, Width: bounds.Width, Height: bounds.Height}
	flags := platform.PositionShow | platform.PositionNoZOrder | platform.PositionNoActivate
	if err := r.native.SetPosition(p.window, rect, flags); err != nil {
		return fmt.Errorf("failed to position window: %w", err)
	}
	return nil
}

func (r *Reparenter) rollback(p *Portal, saved savedState) {
	h := p.window
	if err := r.native.SetParent(h, saved.parent); err != nil {
		r.logger.Warn("failed to restore parent", "portal", p.ID, "error", err)
	}
	if err := r.native.SetStyle(h, saved.style); err != nil {
		r.logger.Warn("failed to restore style", "portal", p.ID, "error", err)
	}
	if err := r.native.SetExStyle(h, saved.exStyle); err != nil {
		r.logger.Warn("failed to restore extended style", "portal", p.ID, "error", err)
	}
	r.showTopLevel(p)
}

// showTopLevel shows p as an ordinary window at its screen bounds.
func (r *Reparenter) showTopLevel(p *Portal) {
	b := p.WindowBounds(r.headerHeight)
	if err := r.native.SetPosition(p.window, b, platform.PositionShow|platform.PositionNoActivate); err != nil {
		r.logger.Warn("failed to show portal as top-level window", "portal", p.ID, "error", err)
	}
}

func (r *Reparenter) register(p *Portal) {
	if _, err := r.registry.Add(p); err != nil {
		r.logger.Error("failed to register portal", "portal", p.ID, "error", err)
	}
}

// Place moves p to bounds (screen coordinates), honouring its current parent.
func (r *Reparenter) Place(p *Portal, bounds platform.Rect) error {
	p.Bounds = bounds
	if p.window == 0 {
		return nil
	}
	parent, err := r.native.Parent(p.window)
	if err != nil {
		return err
	}
	return r.position(p, parent)
}

// SetVisible shows or hides the portal window.
func (r *Reparenter) SetVisible(p *Portal, visible bool) error {
	if p.window == 0 {
		return nil
	}
	if visible {
		return r.native.Show(p.window)
	}
	return r.native.Hide(p.window)
}

// Parent returns the window the portal is parented to; embedded apps
// become its siblings.
func (r *Reparenter) Parent(p *Portal) platform.Handle {
	if p.window == 0 {
		return 0
	}
	parent, err := r.native.Parent(p.window)
	if err != nil {
		return 0
	}
	return parent
}

// SendToBottom lowers an attached portal to the bottom of its siblings
// without moving it.
func (r *Reparenter) SendToBottom(p *Portal) error {
	if p.window == 0 || !p.attached {
		return nil
	}
	parent, err := r.native.Parent(p.window)
	if err != nil {
		return err
	}
	bounds := p.WindowBounds(r.headerHeight)
	client, err := r.native.ScreenToClient(parent, bounds.Origin())
	if err != nil {
		return fmt.Errorf("failed to convert to client coordinates: %w", err)
	}
	rect := platform.Rect{X: client.X, Y: client.Y, Width: bounds.Width, Height: bounds.Height}
	return r.native.SetPosition(p.window, rect, platform.PositionBottom|platform.PositionNoActivate)
}
