package modules

import (
	"sync"

	"github.com/QYUbit/Expanse/pkg/ids"
)

// Registry holds the live instances of one module kind under small integer ids. Ids of removed
// instances are reused lowest first.
type Registry[T any] struct {
	mu    sync.RWMutex
	items []T
	live  []bool
	count int
	free  *ids.Pool[uint32]
}

func NewRegistry[T any](limit uint32) *Registry[T] {
	if limit == 0 {
		limit = 1
	}
	return &Registry[T]{free: ids.NewPool[uint32](0, limit-1)}
}

func (r *Registry[T]) Add(item T) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.free.Next()
	if !ok {
		return 0, ErrRegistryFull
	}
	if int(id) == len(r.items) {
		r.items = append(r.items, item)
		r.live = append(r.live, true)
	} else {
		r.items[id] = item
		r.live[id] = true
	}
	r.count++
	return id, nil
}

func (r *Registry[T]) Remove(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(id) >= len(r.items) || !r.live[id] {
		return false
	}
	var zero T
	r.items[id] = zero
	r.live[id] = false
	r.count--
	r.free.Release(id)
	return true
}

func (r *Registry[T]) Get(id uint32) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if int(id) >= len(r.items) || !r.live[id] {
		var zero T
		return zero, false
	}
	return r.items[id], true
}

// Size is one past the highest id ever handed out.
func (r *Registry[T]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Len counts live instances.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
