package localexec

import (
	"errors"
	"sync"
)

// ErrTooManyExecutions is returned when a worker's core budget is already
// fully committed, grounded on the source's `too_many_executions` (thrown
// from `ThreadGuard`'s constructor in local_executor.cpp).
var ErrTooManyExecutions = errors.New("localexec: worker busy")

// ThreadGuard is the process-wide admission control for a worker's core
// budget: every concurrently running sandbox holds either one of MaxThreads
// "shared" slots or, for an exclusive execution, all of them at once.
// Grounded on local_executor.cpp's `ThreadGuard`, a mutex plus two static
// counters; the source's constructor/destructor RAII pairing becomes
// Acquire/release here, with release returned as a closure so callers use
// defer the same way the source uses stack unwinding.
type ThreadGuard struct {
	mu         sync.Mutex
	maxThreads int32
	curThreads int32
}

// NewThreadGuard returns a ThreadGuard budgeted for maxThreads concurrent
// shared executions (or exactly one exclusive execution at a time).
func NewThreadGuard(maxThreads int32) *ThreadGuard {
	if maxThreads <= 0 {
		maxThreads = 1
	}
	return &ThreadGuard{maxThreads: maxThreads}
}

// Acquire reserves capacity for one execution, returning a release func to
// call (typically via defer) once it finishes. It fails with
// ErrTooManyExecutions if exclusive is requested while any execution is in
// flight, or if the shared budget is already exhausted.
func (g *ThreadGuard) Acquire(exclusive bool) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if exclusive {
		if g.curThreads != 0 {
			return nil, ErrTooManyExecutions
		}
		g.curThreads = g.maxThreads
		return func() { g.release(true) }, nil
	}

	if g.curThreads >= g.maxThreads {
		return nil, ErrTooManyExecutions
	}
	g.curThreads++
	return func() { g.release(false) }, nil
}

func (g *ThreadGuard) release(exclusive bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if exclusive {
		g.curThreads = 0
		return
	}
	g.curThreads--
}
