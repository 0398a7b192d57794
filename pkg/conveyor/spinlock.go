package conveyor

import (
	"runtime"
	"sync/atomic"
)

// Spinlock guards tiny critical sections that many stage workers touch at once, such as the
// mass of a single physical object. The zero value is unlocked.
type Spinlock struct {
	locked atomic.Bool
}

func (s *Spinlock) Lock() {
	for !s.locked.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *Spinlock) TryLock() bool {
	return s.locked.CompareAndSwap(false, true)
}

func (s *Spinlock) Unlock() {
	s.locked.Store(false)
}
