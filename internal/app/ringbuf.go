package app

// ringBuffer is a fixed-capacity circular buffer. When full, push overwrites
// the oldest element. It is owned by the UI loop and not safe for concurrent use.
type ringBuffer[T any] struct {
	buf   []T
	head  int
	count int
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ringBuffer[T]{buf: make([]T, capacity)}
}

func (r *ringBuffer[T]) push(item T) {
	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = item
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// snapshot returns a copy of all elements, oldest first.
func (r *ringBuffer[T]) snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ringBuffer[T]) len() int {
	return r.count
}
