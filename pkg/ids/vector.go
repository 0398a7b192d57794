package ids

// IndexedVector keeps items in a slice plus a key-to-position map. Removal swaps the last item
// into the hole, so iteration order is unspecified.
type IndexedVector[K comparable, T any] struct {
	key   func(T) K
	items []T
	index map[K]int
}

func NewIndexedVector[K comparable, T any](key func(T) K) *IndexedVector[K, T] {
	return &IndexedVector[K, T]{
		key:   key,
		index: make(map[K]int),
	}
}

// Push adds item unless an item with the same key is already stored.
func (v *IndexedVector[K, T]) Push(item T) bool {
	k := v.key(item)
	if _, ok := v.index[k]; ok {
		return false
	}
	v.index[k] = len(v.items)
	v.items = append(v.items, item)
	return true
}

func (v *IndexedVector[K, T]) Has(k K) bool {
	_, ok := v.index[k]
	return ok
}

func (v *IndexedVector[K, T]) Get(k K) (T, bool) {
	pos, ok := v.index[k]
	if !ok {
		var zero T
		return zero, false
	}
	return v.items[pos], true
}

// Pop removes and returns the last item.
func (v *IndexedVector[K, T]) Pop() (T, bool) {
	var zero T
	if len(v.items) == 0 {
		return zero, false
	}
	item := v.items[len(v.items)-1]
	v.items[len(v.items)-1] = zero
	v.items = v.items[:len(v.items)-1]
	delete(v.index, v.key(item))
	return item, true
}

func (v *IndexedVector[K, T]) Remove(k K) (T, bool) {
	pos, ok := v.index[k]
	if !ok {
		var zero T
		return zero, false
	}
	item := v.items[pos]
	v.removeAt(pos)
	return item, true
}

// RemoveIf drops every item matching pred and returns how many were dropped.
func (v *IndexedVector[K, T]) RemoveIf(pred func(T) bool) int {
	removed := 0
	for i := 0; i < len(v.items); {
		if pred(v.items[i]) {
			v.removeAt(i)
			removed++
			continue
		}
		i++
	}
	return removed
}

func (v *IndexedVector[K, T]) removeAt(pos int) {
	var zero T
	last := len(v.items) - 1
	delete(v.index, v.key(v.items[pos]))
	if pos != last {
		v.items[pos] = v.items[last]
		v.index[v.key(v.items[pos])] = pos
	}
	v.items[last] = zero
	v.items = v.items[:last]
}

func (v *IndexedVector[K, T]) Len() int { return len(v.items) }

func (v *IndexedVector[K, T]) At(i int) T { return v.items[i] }

// Items exposes the backing slice. It must not be modified.
func (v *IndexedVector[K, T]) Items() []T { return v.items }

// UnorderedVector is a slice with O(1) removal by swap-with-last.
type UnorderedVector[T comparable] struct {
	items []T
}

func (v *UnorderedVector[T]) Push(item T) {
	v.items = append(v.items, item)
}

// PushUnique adds item only if it is not already present.
func (v *UnorderedVector[T]) PushUnique(item T) bool {
	if v.Has(item) {
		return false
	}
	v.items = append(v.items, item)
	return true
}

func (v *UnorderedVector[T]) Has(item T) bool {
	return v.IndexOf(item) >= 0
}

func (v *UnorderedVector[T]) IndexOf(item T) int {
	for i, it := range v.items {
		if it == item {
			return i
		}
	}
	return -1
}

func (v *UnorderedVector[T]) RemoveAt(i int) {
	var zero T
	last := len(v.items) - 1
	v.items[i] = v.items[last]
	v.items[last] = zero
	v.items = v.items[:last]
}

// Remove drops the first occurrence of item.
func (v *UnorderedVector[T]) Remove(item T) bool {
	i := v.IndexOf(item)
	if i < 0 {
		return false
	}
	v.RemoveAt(i)
	return true
}

func (v *UnorderedVector[T]) RemoveAll(item T) int {
	removed := 0
	for i := 0; i < len(v.items); {
		if v.items[i] == item {
			v.RemoveAt(i)
			removed++
			continue
		}
		i++
	}
	return removed
}

func (v *UnorderedVector[T]) Len() int { return len(v.items) }

func (v *UnorderedVector[T]) At(i int) T { return v.items[i] }

func (v *UnorderedVector[T]) Items() []T { return v.items }

func (v *UnorderedVector[T]) Clear() {
	clear(v.items)
	v.items = v.items[:0]
}
