package indexedstore

import (
	"path/filepath"
	"sort"
	"sync"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
)

// Registry tracks the stores open in a process so a file is never opened
// twice. Stores are keyed by absolute path. A file is reserved for the whole
// of its Open, so concurrent opens of one file never both touch it.
type Registry struct {
	mu      sync.Mutex
	stores  map[string]*IndexedStore
	opening map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		stores:  make(map[string]*IndexedStore),
		opening: make(map[string]struct{}),
	}
}

func registryKey(name string) string {
	if abs, err := filepath.Abs(name); err == nil {
		return abs
	}
	return filepath.Clean(name)
}

// Find returns the open store named name, or nil.
func (r *Registry) Find(name string) *IndexedStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stores[registryKey(name)]
}

// Names returns the names of all open stores, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.stores))
	for _, s := range r.stores {
		names = append(names, s.name)
	}
	sort.Strings(names)
	return names
}

// Stores returns all open stores.
func (r *Registry) Stores() []*IndexedStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	stores := make([]*IndexedStore, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].name < stores[j].name })
	return stores
}

// reserve claims name for an Open in progress. Find does not report reserved
// names.
func (r *Registry) reserve(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(name)
	_, open := r.stores[key]
	_, opening := r.opening[key]
	if open || opening {
		return alreadyOpen(name)
	}
	r.opening[key] = struct{}{}
	return nil
}

func (r *Registry) unreserve(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.opening, registryKey(name))
}

// register turns the reservation for s.name into an open store.
func (r *Registry) register(s *IndexedStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(s.name)
	delete(r.opening, key)
	r.stores[key] = s
}

func (r *Registry) unregister(s *IndexedStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(s.name)
	if r.stores[key] == s {
		delete(r.stores, key)
	}
}

func alreadyOpen(name string) error {
	return flushmanager.Errorf(flushmanager.KeyIndexedStoreAlready, flushmanager.ErrStoreAlreadyOpen, "store %s is already open", name)
}
