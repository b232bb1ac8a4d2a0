package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is the flat name-to-handle map shared by all turns. Mutations
// (register on connect, remove on disconnect) are serialized; reads may
// interleave freely since handles never change after registration.
type Registry struct {
	handles map[string]*Handle
	mu      sync.RWMutex
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
	}
}

// Register adds a handle to the registry. Duplicate names are rejected.
func (r *Registry) Register(h *Handle) error {
	if h == nil {
		return fmt.Errorf("tool handle is required")
	}
	if strings.TrimSpace(h.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if h.Invoke == nil {
		return fmt.Errorf("tool %s has no invoke function", h.Name)
	}
	if h.Category == "" {
		h.Category = CategoryGeneral
	}
	if !IsValidCategory(string(h.Category)) {
		return fmt.Errorf("tool %s has invalid category: %s", h.Name, h.Category)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[h.Name]; exists {
		return fmt.Errorf("tool already registered: %s", h.Name)
	}
	r.handles[h.Name] = h

	log.Debug().Str("tool", h.Name).Str("category", string(h.Category)).Msg("Tool registered")
	return nil
}

// Remove deletes a handle by name. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, name)
}

// Get returns the handle for a name, or nil if not registered
func (r *Registry) Get(name string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[name]
}

// Has reports whether a name is registered
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns all registered tool names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered handles in name order
func (r *Registry) All() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Name < handles[j].Name })
	return handles
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Subset builds the effective tool set for a worker. A nil allow list means
// the full registry. Blocked names are stripped unconditionally; an allow
// list cannot reintroduce them.
func (r *Registry) Subset(allow []string) []*Handle {
	if allow == nil {
		subset := make([]*Handle, 0)
		for _, h := range r.All() {
			if IsBlocked(h.Name) {
				continue
			}
			subset = append(subset, h)
		}
		return subset
	}

	subset := make([]*Handle, 0, len(allow))
	seen := make(map[string]bool, len(allow))
	for _, name := range allow {
		if seen[name] || IsBlocked(name) {
			continue
		}
		seen[name] = true
		if h := r.Get(name); h != nil {
			subset = append(subset, h)
		}
	}
	sort.Slice(subset, func(i, j int) bool { return subset[i].Name < subset[j].Name })
	return subset
}
