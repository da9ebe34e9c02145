package buffer

type Ring[T any] struct {
	entries []T
	start   int
	count   int
}

func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	return &Ring[T]{
		entries: make([]T, size),
	}
}

// Add stores entry, returning the evicted oldest entry when the ring was full.
func (r *Ring[T]) Add(entry T) (T, bool) {
	var zero T
	if r == nil || len(r.entries) == 0 {
		return zero, false
	}

	if r.count < len(r.entries) {
		index := (r.start + r.count) % len(r.entries)
		r.entries[index] = entry
		r.count++
		return zero, false
	}

	evicted := r.entries[r.start]
	r.entries[r.start] = entry
	r.start = (r.start + 1) % len(r.entries)
	return evicted, true
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// At returns the i-th oldest entry. i must be in [0, Len()).
func (r *Ring[T]) At(i int) T {
	return r.entries[(r.start+i)%len(r.entries)]
}

func (r *Ring[T]) List() []T {
	if r == nil || r.count == 0 {
		return nil
	}

	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.At(i)
	}
	return out
}
