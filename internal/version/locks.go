package version

import "sync"

// entityLocks serializes writers per entity id. Version allocation must
// happen inside a per-entity exclusive region, never via a stale
// compare-and-swap, and locking globally would serialize unrelated
// entities.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*refLock)}
}

// acquire blocks until the entity's lock is held and returns the
// release function.
func (l *entityLocks) acquire(id string) func() {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &refLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
