package metrics

// ring is a bounded append-only buffer that drops its oldest element once
// full. Not safe for concurrent use; the collector serialises access.
type ring[T any] struct {
	items []T
	cap   int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{cap: capacity}
}

func (r *ring[T]) append(v T) {
	r.items = append(r.items, v)
	if len(r.items) > r.cap {
		// Shift instead of reallocating; the rings are small and appends
		// dominate once warm.
		copy(r.items, r.items[1:])
		r.items = r.items[:r.cap]
	}
}

func (r *ring[T]) len() int { return len(r.items) }

func (r *ring[T]) last() (T, bool) {
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	return r.items[len(r.items)-1], true
}

// snapshot returns a copy of the buffered elements, oldest first.
func (r *ring[T]) snapshot() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *ring[T]) clear() {
	r.items = nil
}
