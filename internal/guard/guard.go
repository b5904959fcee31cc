// Package guard implements the process-wide gate that admits at most one
// diary synchronization run at a time.
//
// Admission never blocks: a caller that finds the gate taken is refused
// immediately and is expected to report "busy" to its client.
package guard

import (
	"sync"

	"github.com/starford/hibi/internal/apperr"
)

// Guard is a non-queuing exclusive gate. The zero value is ready to use.
type Guard struct {
	mu   sync.Mutex
	busy bool
}

// New returns an idle Guard.
func New() *Guard {
	return &Guard{}
}

// TryAcquire admits the caller if the guard is idle. On admission it returns a
// release function that must be deferred by the caller; calling it more than
// once is a no-op. On refusal it returns (nil, false) without waiting.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return nil, false
	}
	g.busy = true

	var once sync.Once
	return func() {
		once.Do(g.release)
	}, true
}

func (g *Guard) release() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}

// Do runs fn while holding the guard. It returns apperr.ErrBusy if the guard
// is held elsewhere. The guard is released even if fn panics.
func (g *Guard) Do(fn func() error) error {
	release, ok := g.TryAcquire()
	if !ok {
		return apperr.ErrBusy
	}
	defer release()
	return fn()
}

// Busy reports whether a guarded run is in progress.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}
