// Package registry provides the explicit per-tenant registry that replaces
// process-wide maps keyed by tenant.
package registry

import (
	"sort"
	"sync"

	"github.com/osa030/tunebox/internal/domain/tenant"
)

// Registry maps tenants to lazily created records with thread-safe access.
type Registry[T any] struct {
	mu      sync.RWMutex
	items   map[tenant.ID]*T
	newItem func(tenant.ID) *T
}

// New creates a registry. newItem builds the record for a tenant seen for
// the first time.
func New[T any](newItem func(tenant.ID) *T) *Registry[T] {
	return &Registry[T]{
		items:   make(map[tenant.ID]*T),
		newItem: newItem,
	}
}

// Get returns the record for id, creating it on first access.
func (r *Registry[T]) Get(id tenant.ID) *T {
	r.mu.RLock()
	item, ok := r.items[id]
	r.mu.RUnlock()
	if ok {
		return item
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check after acquiring the write lock
	if item, ok := r.items[id]; ok {
		return item
	}
	item = r.newItem(id)
	r.items[id] = item
	return item
}

// Lookup returns the record for id without creating it.
func (r *Registry[T]) Lookup(id tenant.ID) (*T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	return item, ok
}

// Remove deletes the record for id and reports whether it existed.
func (r *Registry[T]) Remove(id tenant.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[id]
	delete(r.items, id)
	return ok
}

// Replace swaps all records at once.
func (r *Registry[T]) Replace(items map[tenant.ID]*T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[tenant.ID]*T, len(items))
	for id, item := range items {
		r.items[id] = item
	}
}

// IDs returns all known tenant ids in sorted order.
func (r *Registry[T]) IDs() []tenant.ID {
	r.mu.RLock()
	ids := make([]tenant.ID, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of records.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Each calls fn for every record. fn must not call back into the registry.
func (r *Registry[T]) Each(fn func(tenant.ID, *T)) {
	for _, id := range r.IDs() {
		if item, ok := r.Lookup(id); ok {
			fn(id, item)
		}
	}
}
