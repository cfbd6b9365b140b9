// Package keys holds the set of access keys that unlock the public upload and
// video endpoints. Keys are opaque tokens provisioned by a trusted upstream over
// the administrative channel; they live in memory only and a restart clears
// them.
package keys

import "sync"

// Registry is a concurrency-safe set of access keys. The zero value is not
// usable; construct with New.
type Registry struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{keys: make(map[string]struct{})}
}

// Add registers key. When old is non-empty and registered it is retired first,
// in the same critical section, so a rotation is observed atomically.
// Empty keys are ignored.
func (r *Registry) Add(key, old string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old != "" {
		delete(r.keys, old)
	}
	if key == "" {
		return
	}
	r.keys[key] = struct{}{}
}

// Remove deregisters key. Removing an unknown key is a no-op.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	delete(r.keys, key)
	r.mu.Unlock()
}

// Contains reports whether key is currently registered.
func (r *Registry) Contains(key string) bool {
	if key == "" {
		return false
	}
	r.mu.RLock()
	_, ok := r.keys[key]
	r.mu.RUnlock()
	return ok
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}
