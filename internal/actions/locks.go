package actions

import "sync"

// entityLocks serializes mutations per platform entity so two rules
// matching the same campaign in the same tick, or an approval applied
// mid-cycle, never interleave read-modify-write calls.
// The map only grows; entity counts per tenant are small enough that
// eviction is not worth the complexity.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for an entity, creating it on first use.
// Keys are tenant-prefixed so tenants never contend with each other.
func (l *entityLocks) get(tenantID, entityID string) *sync.Mutex {
	key := tenantID + ":" + entityID
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}
