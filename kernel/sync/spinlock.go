// Package sync provides the spinlock used to serialize access to boot-time
// kernel structures.
package sync

import "sync/atomic"

const (
	// spinsBeforeYield is the number of failed polls after which Acquire
	// invokes yieldFn (if set).
	spinsBeforeYield = 1024
)

var (
	// yieldFn is nil while booting as there is no scheduler to yield to.
	// Tests install runtime.Gosched here.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		// Poll with plain loads until the lock looks free so the cache
		// line is not bounced around by failing CAS attempts.
		for spins := 0; atomic.LoadUint32(&l.state) != 0; spins++ {
			if spins == spinsBeforeYield {
				if yieldFn != nil {
					yieldFn()
				}
				spins = 0
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
