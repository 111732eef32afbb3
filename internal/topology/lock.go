// File: internal/topology/lock.go
package topology

import (
	"sync"
	"sync/atomic"
)

// Lock is the process-wide device-topology lock. It serializes every
// mutation of the attachment graph: resolving devices, creating and
// destroying consumer connections, changing claims, and both topology
// event handlers run under it.
//
// It must never be held across a blocking I/O wait or across
// acquisition of the pool configuration lock. Code that needs either
// drops it through Unlocked and reacquires afterwards; the invariant is
// that the two locks are only ever held together when acquired in the
// order topology then config.
type Lock struct {
	mu   sync.Mutex
	held atomic.Bool
}

// Lock acquires the topology lock.
func (l *Lock) Lock() {
	l.mu.Lock()
	l.held.Store(true)
}

// Unlock releases the topology lock.
func (l *Lock) Unlock() {
	l.held.Store(false)
	l.mu.Unlock()
}

// Unlocked runs fn with the lock temporarily released and reacquires it
// before returning. The caller must hold the lock. This is the scoped
// drop/reacquire helper used around label reads, claim-retry sleeps and
// pool configuration lock acquisition.
func (l *Lock) Unlocked(fn func()) {
	l.Unlock()
	defer l.Lock()
	fn()
}

// AssertHeld panics if no goroutine holds the lock. It is a debugging
// aid with the granularity of the original topology assertions: it
// cannot distinguish which goroutine is the holder.
func (l *Lock) AssertHeld() {
	if !l.held.Load() {
		panic("topology: lock not held")
	}
}
