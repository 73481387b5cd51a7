package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"upscaler/internal/upscale"
)

// Factory builds the machine for a new session.
type Factory func(sessionID string) *upscale.Machine

// Registry maps session IDs to their upscale machines. Idle sessions expire
// after the TTL and the least recently used are evicted past capacity; either
// way the machine's preview is released.
type Registry struct {
	mu      sync.Mutex
	cache   *expirable.LRU[string, *upscale.Machine]
	factory Factory
}

func NewRegistry(capacity int, ttl time.Duration, factory Factory) *Registry {
	if capacity <= 0 {
		capacity = 1024
	}
	onEvict := func(_ string, m *upscale.Machine) {
		m.Release()
	}
	return &Registry{
		cache:   expirable.NewLRU[string, *upscale.Machine](capacity, onEvict, ttl),
		factory: factory,
	}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like one NewID produced.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// Get returns the machine for id and refreshes its expiry.
func (r *Registry) Get(id string) (*upscale.Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.cache.Get(id)
	if ok {
		r.cache.Add(id, m)
	}
	return m, ok
}

// GetOrCreate returns the machine for id, creating one when absent.
func (r *Registry) GetOrCreate(id string) (*upscale.Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.cache.Get(id); ok {
		r.cache.Add(id, m)
		return m, false
	}
	// An expired entry can still be stored until the purge runs, and Add
	// would overwrite it without the evict callback. Remove fires it.
	r.cache.Remove(id)
	m := r.factory(id)
	r.cache.Add(id, m)
	return m, true
}

// Remove drops a session, releasing its preview.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(id)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}
