package ptt

// ring is a fixed-capacity circular store with a write cursor. Once full,
// each push overwrites the oldest entry. total counts every push ever made.
type ring[T any] struct {
	buf   []T
	total int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.buf[r.total%len(r.buf)] = v
	r.total++
}

// len returns the number of entries currently stored.
func (r *ring[T]) len() int {
	return min(r.total, len(r.buf))
}

// last returns up to n of the newest entries, oldest first.
func (r *ring[T]) last(n int) []T {
	n = min(n, r.len())
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.total-n+i)%len(r.buf)]
	}
	return out
}

// newest returns the most recent entry.
func (r *ring[T]) newest() (T, bool) {
	var zero T
	if r.total == 0 {
		return zero, false
	}
	return r.buf[(r.total-1)%len(r.buf)], true
}

func (r *ring[T]) reset() {
	clear(r.buf)
	r.total = 0
}
