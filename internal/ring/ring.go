// Package ring implements the fixed-capacity buffers used by waveform
// channels.
package ring

// Trace is a fixed-length sample array written at a wrapping cursor. The
// oldest sample is overwritten once the cursor wraps.
type Trace[T any] struct {
	data []T
	ptr  int
}

func NewTrace[T any](n int) *Trace[T] {
	if n < 1 {
		n = 1
	}
	return &Trace[T]{data: make([]T, n)}
}

// Write stores v at the cursor and advances it. It reports whether the
// cursor wrapped back to zero.
func (r *Trace[T]) Write(v T) (wrapped bool) {
	r.data[r.ptr] = v
	r.ptr++
	if r.ptr == len(r.data) {
		r.ptr = 0
		return true
	}
	return false
}

// Cursor returns the index the next sample will be written to.
func (r *Trace[T]) Cursor() int { return r.ptr }

func (r *Trace[T]) Size() int { return len(r.data) }

// Ordered copies the trace into dst starting at the cursor, so that the
// sample about to be overwritten comes first.
func (r *Trace[T]) Ordered(dst []T) int {
	n := copy(dst, r.data[r.ptr:])
	n += copy(dst[n:], r.data[:r.ptr])
	return n
}

// Reset zeroes the trace in place and rewinds the cursor.
func (r *Trace[T]) Reset() {
	clear(r.data)
	r.ptr = 0
}

// Window is a bounded FIFO of the most recent values. Pushing into a full
// window evicts the oldest value.
type Window[T any] struct {
	data       []T
	head, size int
}

func NewWindow[T any](n int) *Window[T] {
	if n < 1 {
		n = 1
	}
	return &Window[T]{data: make([]T, n)}
}

func (w *Window[T]) Len() int { return w.size }

func (w *Window[T]) Size() int { return len(w.data) }

// Push appends v, evicting the oldest value when full.
func (w *Window[T]) Push(v T) {
	tail := (w.head + w.size) % len(w.data)
	w.data[tail] = v
	if w.size < len(w.data) {
		w.size++
		return
	}
	w.head = (w.head + 1) % len(w.data)
}

// CopyTo copies the window oldest first into dst and returns the number
// of values copied.
func (w *Window[T]) CopyTo(dst []T) int {
	end := w.head + w.size
	if end <= len(w.data) {
		return copy(dst, w.data[w.head:end])
	}
	n := copy(dst, w.data[w.head:])
	n += copy(dst[n:], w.data[:end-len(w.data)])
	return n
}

// Values returns a copy of the window, oldest first.
func (w *Window[T]) Values() []T {
	dst := make([]T, w.size)
	w.CopyTo(dst)
	return dst
}

// Last returns a copy of the newest n values, oldest first.
func (w *Window[T]) Last(n int) []T {
	n = min(n, w.size)
	dst := make([]T, n)
	for i := 0; i < n; i++ {
		dst[i] = w.data[(w.head+w.size-n+i)%len(w.data)]
	}
	return dst
}

// Reset empties the window without releasing its storage.
func (w *Window[T]) Reset() {
	clear(w.data)
	w.head, w.size = 0, 0
}
