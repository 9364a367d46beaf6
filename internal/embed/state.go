// Package embed launches a foreign process, finds its main window and hosts
// that window clipped inside an app portal.
package embed

import (
	"errors"
	"time"

	"github.com/1broseidon/deskportal/internal/platform"
)

// State is the lifecycle state of an embedded app.
type State int

const (
	Stopped State = iota
	Running
	PoppedOut
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case PoppedOut:
		return "popped_out"
	}
	return "unknown"
}

// ErrInvalidTransition is returned for an operation that is not legal in
// the current state. The embedder is left unchanged.
var ErrInvalidTransition = errors.New("invalid embedder transition")

// Event is emitted by an Embedder to its host.
type Event interface {
	PortalID() string
}

// StateChanged reports a transition, or a failed Start (From == To == Stopped).
type StateChanged struct {
	ID     string
	From   State
	To     State
	Status string
}

func (e StateChanged) PortalID() string { return e.ID }

// ResizeRequested asks the host portal to grow to Width x Height because the
// foreign window refused to shrink to the content area.
type ResizeRequested struct {
	ID     string
	Width  int
	Height int
}

func (e ResizeRequested) PortalID() string { return e.ID }

// Host is the app portal an embedder lives in.
type Host interface {
	// ScreenBounds returns the portal window in screen coordinates.
	ScreenBounds() platform.Rect
	// ParentWindow returns the portal's parent; the foreign window becomes
	// its sibling.
	ParentWindow() platform.Handle
}

// Config tunes window discovery and placement.
type Config struct {
	HeaderHeight  int
	PollInterval  time.Duration
	LaunchTimeout time.Duration
	MinWidth      int
	MinHeight     int
	StopWait      time.Duration
}

// DefaultConfig polls every 100ms for up to 10s for a 50x50 window.
func DefaultConfig() Config {
	return Config{
		HeaderHeight:  32,
		PollInterval:  100 * time.Millisecond,
		LaunchTimeout: 10 * time.Second,
		MinWidth:      50,
		MinHeight:     50,
		StopWait:      2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeaderHeight < 0 {
		c.HeaderHeight = def.HeaderHeight
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = def.LaunchTimeout
	}
	if c.MinWidth <= 0 {
		c.MinWidth = def.MinWidth
	}
	if c.MinHeight <= 0 {
		c.MinHeight = def.MinHeight
	}
	if c.StopWait <= 0 {
		c.StopWait = def.StopWait
	}
	return c
}
