// Package shell locates the desktop shell's hidden container windows and
// keeps the resolved topology for the rest of the daemon.
package shell

import (
	"errors"
	"fmt"

	"github.com/1broseidon/deskportal/internal/platform"
)

// Topology holds the shell windows portals are attached to. IconView is the
// reparent target; Worker is advisory and only used for z-order placement.
type Topology struct {
	Root     platform.Handle
	IconView platform.Handle
	Worker   platform.Handle
}

// Valid reports whether the topology can host portals.
func (t Topology) Valid() bool {
	return t.IconView != 0
}

// Locator resolves shell windows by class.
type Locator struct {
	native  platform.Native
	classes platform.ShellClasses
}

// NewLocator returns a locator using the backend's shell classes.
func NewLocator(native platform.Native) *Locator {
	return &Locator{native: native, classes: native.ShellClasses()}
}

// Root finds the shell's root container.
func (l *Locator) Root() (platform.Handle, error) {
	h, err := l.native.FindWindow(l.classes.Root)
	if err != nil {
		return 0, fmt.Errorf("failed to find shell root %q: %w", l.classes.Root, err)
	}
	return h, nil
}

// IconView finds the icon view below root, or below any top-level worker
// container. A missing icon view returns (0, nil).
func (l *Locator) IconView(root platform.Handle) (platform.Handle, error) {
	h, err := l.native.FindChild(root, l.classes.IconView)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, platform.ErrNotFound) {
		return 0, fmt.Errorf("failed to search icon view under root: %w", err)
	}
	if l.classes.Worker == "" {
		return 0, nil
	}

	windows, err := l.native.TopLevelWindows()
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate top-level windows: %w", err)
	}
	for _, w := range windows {
		class, err := l.native.ClassName(w)
		if err != nil || class != l.classes.Worker {
			continue
		}
		if iv, err := l.native.FindChild(w, l.classes.IconView); err == nil {
			return iv, nil
		}
	}
	return 0, nil
}

// Worker finds the secondary container. A missing worker returns (0, nil).
func (l *Locator) Worker() (platform.Handle, error) {
	if l.classes.Worker == "" {
		return 0, nil
	}
	h, err := l.native.FindWindow(l.classes.Worker)
	if errors.Is(err, platform.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find worker %q: %w", l.classes.Worker, err)
	}
	return h, nil
}

// HasWorkerClass reports whether the backend's shell uses a worker container.
func (l *Locator) HasWorkerClass() bool {
	return l.classes.Worker != ""
}
