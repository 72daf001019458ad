package sequence

// Ring keeps the most recent Cap() values; pushing into a full ring evicts
// the oldest one.
type Ring[T any] struct {
	buf   []T
	start int
	size  int
}

// NewRing panics on a non-positive capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("sequence: ring capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Push(value T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = value
		r.size++
		return
	}
	r.buf[r.start] = value
	r.start = (r.start + 1) % len(r.buf)
}

func (r *Ring[T]) Len() int { return r.size }

func (r *Ring[T]) Cap() int { return len(r.buf) }

// Last returns up to n of the newest values, oldest first.
func (r *Ring[T]) Last(n int) []T {
	if n <= 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	out := make([]T, n)
	offset := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+offset+i)%len(r.buf)]
	}
	return out
}

// All returns every retained value, oldest first.
func (r *Ring[T]) All() []T {
	return r.Last(r.size)
}
