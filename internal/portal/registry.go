package portal

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnknownPortal is returned for lookups of an unregistered id.
var ErrUnknownPortal = errors.New("unknown portal")

// Info is the enumeration view of a portal.
type Info struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  Kind   `json:"type"`
}

// Registry associates portals with their ids in both directions and keeps
// creation order. It is confined to the UI loop and does no locking.
type Registry struct {
	byID  map[string]*Portal
	ids   map[*Portal]string
	order []*Portal
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*Portal),
		ids:  make(map[*Portal]string),
	}
}

// NewID mints a portal identifier.
func NewID() string {
	return uuid.NewString()
}

// EnsureID gives p a fresh id if it has none and returns its id.
func EnsureID(p *Portal) string {
	if p.ID == "" {
		p.ID = NewID()
	}
	return p.ID
}

// AssignID pre-supplies an id before attachment. An id already set on p is
// never overwritten.
func (r *Registry) AssignID(p *Portal, id string) error {
	if id == "" {
		return nil
	}
	if p.ID != "" && p.ID != id {
		return fmt.Errorf("portal already has id %q, refusing %q", p.ID, id)
	}
	if other, ok := r.byID[id]; ok && other != p {
		return fmt.Errorf("portal id %q is already registered", id)
	}
	p.ID = id
	return nil
}

// Add registers p, minting an id only if it has none.
func (r *Registry) Add(p *Portal) (string, error) {
	if existing, ok := r.ids[p]; ok {
		return existing, nil
	}
	id := EnsureID(p)
	if _, taken := r.byID[id]; taken {
		return "", fmt.Errorf("portal id %q is already registered", id)
	}
	r.byID[id] = p
	r.ids[p] = id
	r.order = append(r.order, p)
	return id, nil
}

// Lookup returns the portal with id.
func (r *Registry) Lookup(id string) (*Portal, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPortal, id)
	}
	return p, nil
}

// IDOf returns the registered id of p.
func (r *Registry) IDOf(p *Portal) (string, bool) {
	id, ok := r.ids[p]
	return id, ok
}

// Remove unregisters the portal with id and returns it.
func (r *Registry) Remove(id string) (*Portal, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPortal, id)
	}
	delete(r.byID, id)
	delete(r.ids, p)
	for i, o := range r.order {
		if o == p {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p, nil
}

// All returns portals in registration order.
func (r *Registry) All() []*Portal {
	out := make([]*Portal, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered portals.
func (r *Registry) Count() int { return len(r.order) }

// Infos enumerates id, title and kind of every portal.
func (r *Registry) Infos() []Info {
	out := make([]Info, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, Info{ID: r.ids[p], Title: p.Title, Kind: p.Kind})
	}
	return out
}

// AnyInteracting reports whether any portal is under user interaction.
func (r *Registry) AnyInteracting() bool {
	for _, p := range r.order {
		if p.interacting {
			return true
		}
	}
	return false
}
