// Package locks hands out one exclusive lock per logical entity so that
// within this process at most one reconciliation per entity runs at a time.
package locks

import "sync"

// Registry maps entity keys to locks. Entries are created lazily with an
// insert-if-absent under the registry mutex and never evicted; key
// cardinality is bounded by the number of live entities.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the lock for key is held and returns it; the caller
// must Unlock it when the reconciliation commits or fails. The same key
// always yields the same lock, distinct keys are independent.
func (r *Registry) Acquire(key string) *sync.Mutex {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l
}

// Len reports how many entity locks exist, for monitoring.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
