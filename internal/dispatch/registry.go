package dispatch

import (
	"sync"
)

// ChangeListener is called when tools are enabled or disabled.
// added carries names that became available, removed names that were
// withdrawn.
type ChangeListener func(added []string, removed []string)

// Registry tracks which tools from the closed set are currently enabled.
// The allowed list can change at runtime via config reload; listeners
// (the MCP server) are notified so clients see tools/list_changed.
type Registry struct {
	mu        sync.RWMutex
	decls     map[string]Decl
	enabled   map[string]bool
	listeners []ChangeListener
}

// NewRegistry builds a registry with the given tools enabled. Names
// outside the closed set are ignored.
func NewRegistry(allowed []string) *Registry {
	r := &Registry{
		decls:   make(map[string]Decl),
		enabled: make(map[string]bool),
	}
	for _, d := range Declarations() {
		r.decls[d.Name] = d
	}
	for _, name := range allowed {
		if _, ok := r.decls[name]; ok {
			r.enabled[name] = true
		}
	}
	return r
}

// OnChange registers a listener for enable/disable events.
func (r *Registry) OnChange(fn ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// SetAllowed replaces the enabled set and notifies listeners of the diff.
func (r *Registry) SetAllowed(allowed []string) {
	next := make(map[string]bool)
	for _, name := range allowed {
		if _, ok := r.decls[name]; ok {
			next[name] = true
		}
	}

	r.mu.Lock()
	var added, removed []string
	for name := range next {
		if !r.enabled[name] {
			added = append(added, name)
		}
	}
	for name := range r.enabled {
		if !next[name] {
			removed = append(removed, name)
		}
	}
	r.enabled = next
	listeners := make([]ChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		return
	}
	for _, fn := range listeners {
		fn(added, removed)
	}
}

// Enabled reports whether a tool is currently callable.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// Known reports whether a name belongs to the closed tool set at all.
func (r *Registry) Known(name string) bool {
	_, ok := r.decls[name]
	return ok
}

// Get returns the declaration for an enabled tool.
func (r *Registry) Get(name string) (Decl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.enabled[name] {
		return Decl{}, false
	}
	return r.decls[name], true
}

// List returns declarations for the enabled tools in declaration order.
func (r *Registry) List() []Decl {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Decl
	for _, d := range Declarations() {
		if r.enabled[d.Name] {
			out = append(out, d)
		}
	}
	return out
}
