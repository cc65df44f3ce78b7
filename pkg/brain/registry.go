package brain

import "sync"

// Registry holds the registered modules and which of them are ready.
type Registry struct {
	mu      sync.RWMutex
	modules map[ModuleID]Module
	ready   map[ModuleID]bool
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[ModuleID]Module),
		ready:   make(map[ModuleID]bool),
	}
}

// Register adds a module and marks it ready. Re-registering replaces it.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.ID()] = m
	r.ready[m.ID()] = true
}

// SetReady changes a registered module's ready state.
func (r *Registry) SetReady(id ModuleID, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[id]; ok {
		r.ready[id] = ready
	}
}

// IsReady reports whether id is registered and ready.
func (r *Registry) IsReady(id ModuleID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready[id]
}

// ReadySet returns the ready modules as a set.
func (r *Registry) ReadySet() map[ModuleID]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ModuleID]bool, len(r.ready))
	for id, ok := range r.ready {
		if ok {
			out[id] = true
		}
	}
	return out
}

// Get retrieves a module by ID.
func (r *Registry) Get(id ModuleID) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// GetAll retrieves multiple modules by ID, skipping unknown ones.
func (r *Registry) GetAll(ids []ModuleID) []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Module, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.modules[id]; ok {
			result = append(result, m)
		}
	}
	return result
}

// All returns registered modules in canonical order.
func (r *Registry) All() []Module {
	return r.GetAll(AllModules())
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
