package arena

type slot[T any] struct {
	generation uint32
	used       bool
	value      T
}

// Arena is a slot map: values live in a flat slice and are addressed by
// generational handles. Freed slots are recycled through a free list.
// No locks; owned by a single goroutine.
type Arena[T any] struct {
	slots    []slot[T]
	freeList []uint32
	live     int
}

func New[T any](capacity int) *Arena[T] {
	return &Arena[T]{
		slots:    make([]slot[T], 0, capacity),
		freeList: make([]uint32, 0, capacity/4),
	}
}

// Insert stores v in a free slot and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	a.live++
	if n := len(a.freeList); n > 0 {
		idx := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		s := &a.slots[idx]
		s.used = true
		s.value = v
		return newHandle(idx, s.generation)
	}
	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot[T]{generation: 1, used: true, value: v})
	return newHandle(idx, 1)
}

// Get returns the value for h, or false if h is zero or stale.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T
	if !a.Alive(h) {
		return zero, false
	}
	return a.slots[h.Index()].value, true
}

func (a *Arena[T]) Alive(h Handle) bool {
	if h.IsZero() {
		return false
	}
	idx := h.Index()
	if int(idx) >= len(a.slots) {
		return false
	}
	s := &a.slots[idx]
	return s.used && s.generation == h.Generation()
}

// Remove frees the slot behind h. Stale handles are ignored.
func (a *Arena[T]) Remove(h Handle) bool {
	if !a.Alive(h) {
		return false
	}
	idx := h.Index()
	s := &a.slots[idx]
	var zero T
	s.value = zero
	s.used = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1 // keep the zero handle unissued after wraparound
	}
	a.freeList = append(a.freeList, idx)
	a.live--
	return true
}

func (a *Arena[T]) Len() int {
	return a.live
}

// Each visits every live value in slot order. Removing the visited handle
// from inside fn is allowed; values inserted during the walk are not visited.
func (a *Arena[T]) Each(fn func(Handle, T)) {
	n := len(a.slots)
	for i := 0; i < n; i++ {
		s := &a.slots[i]
		if !s.used {
			continue
		}
		fn(newHandle(uint32(i), s.generation), s.value)
	}
}

// Clear removes every value and invalidates every outstanding handle.
func (a *Arena[T]) Clear() {
	var zero T
	a.freeList = a.freeList[:0]
	for i := len(a.slots) - 1; i >= 0; i-- {
		s := &a.slots[i]
		if s.used {
			s.used = false
			s.value = zero
			s.generation++
			if s.generation == 0 {
				s.generation = 1
			}
		}
		a.freeList = append(a.freeList, uint32(i))
	}
	a.live = 0
}
