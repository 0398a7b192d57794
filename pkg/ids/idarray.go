package ids

import (
	"sync"
	"sync/atomic"
)

// IdArray is a deduplicated list of ids that many workers drain together within one stage.
// Push and Forget may be called from any goroutine. Begin must not run concurrently with Next.
type IdArray struct {
	mu     sync.Mutex
	ids    []uint32
	gone   []bool
	index  map[uint32]int
	cursor atomic.Int64
}

func NewIdArray() *IdArray {
	return &IdArray{index: make(map[uint32]int)}
}

func (a *IdArray) Push(id uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pos, ok := a.index[id]; ok {
		if !a.gone[pos] {
			return false
		}
		a.gone[pos] = false
		return true
	}
	a.index[id] = len(a.ids)
	a.ids = append(a.ids, id)
	a.gone = append(a.gone, false)
	return true
}

// Begin drops forgotten ids and rewinds the cursor.
func (a *IdArray) Begin() {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := 0
	for i, id := range a.ids {
		if a.gone[i] {
			delete(a.index, id)
			continue
		}
		a.ids[kept] = id
		a.gone[kept] = false
		a.index[id] = kept
		kept++
	}
	a.ids = a.ids[:kept]
	a.gone = a.gone[:kept]
	a.cursor.Store(0)
}

// Next claims the next live id. Every position is handed out to exactly one caller.
func (a *IdArray) Next() (pos int, id uint32, ok bool) {
	for {
		p := int(a.cursor.Add(1) - 1)

		a.mu.Lock()
		if p >= len(a.ids) {
			a.mu.Unlock()
			return 0, 0, false
		}
		id, gone := a.ids[p], a.gone[p]
		a.mu.Unlock()

		if !gone {
			return p, id, true
		}
	}
}

// Forget removes the id at pos; the slot is reclaimed on the next Begin.
func (a *IdArray) Forget(pos int) {
	a.mu.Lock()
	if pos < len(a.gone) {
		a.gone[pos] = true
	}
	a.mu.Unlock()
}

// Len counts ids that have not been forgotten.
func (a *IdArray) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, g := range a.gone {
		if !g {
			n++
		}
	}
	return n
}
