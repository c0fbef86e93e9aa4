package transfer

import "sync/atomic"

// cell publishes an immutable value: writers replace the whole value and
// readers always see one complete publication.
type cell[T any] struct {
	p atomic.Pointer[T]
}

func (c *cell[T]) store(v T) {
	c.p.Store(&v)
}

// load returns the latest value and whether one was ever published.
func (c *cell[T]) load() (T, bool) {
	p := c.p.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

func (c *cell[T]) get() T {
	v, _ := c.load()
	return v
}

func (c *cell[T]) clear() {
	c.p.Store(nil)
}
