// Package ids holds the small allocation structures behind every registry of live objects:
// an id pool with lowest-first reuse, an index-plus-hash vector, an unordered vector and a
// concurrently iterated id array.
package ids

import (
	"cmp"
	"slices"
)

type Integer interface {
	~int | ~int32 | ~int64 | ~uint16 | ~uint32 | ~uint64
}

// Pool hands out integers in [first, last]. The smallest free value is always returned next.
// Pool is not safe for concurrent use.
type Pool[T Integer] struct {
	first T
	size  uint64
	// number of values issued sequentially from first
	top uint64
	// released values below top, sorted descending: the smallest one sits at the back
	available []T
}

func NewPool[T Integer](first, last T) *Pool[T] {
	if last < first {
		panic("ids: empty pool range")
	}
	return &Pool[T]{first: first, size: uint64(last-first) + 1}
}

// Next returns false when every value of the range is allocated.
func (p *Pool[T]) Next() (T, bool) {
	if n := len(p.available); n > 0 {
		v := p.available[n-1]
		p.available = p.available[:n-1]
		return v, true
	}
	if p.top == p.size {
		return 0, false
	}
	v := p.first + T(p.top)
	p.top++
	return v, true
}

// Release returns v to the pool. Values that are out of range or not allocated are ignored.
func (p *Pool[T]) Release(v T) bool {
	if v < p.first || uint64(v-p.first) >= p.top {
		return false
	}

	pos, found := slices.BinarySearchFunc(p.available, v, descending[T])
	if found {
		return false
	}

	if uint64(v-p.first)+1 != p.top {
		p.available = slices.Insert(p.available, pos, v)
		return true
	}

	p.top--
	for len(p.available) > 0 && uint64(p.available[0]-p.first)+1 == p.top {
		p.available = p.available[1:]
		p.top--
	}
	return true
}

// InUse reports the number of allocated values.
func (p *Pool[T]) InUse() int {
	return int(p.top) - len(p.available)
}

func (p *Pool[T]) Reset() {
	p.top = 0
	p.available = p.available[:0]
}

func descending[T Integer](e, target T) int {
	return cmp.Compare(target, e)
}
