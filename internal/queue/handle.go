package queue

import (
	"sync"
)

// Handle is the reference-counted lifecycle wrapper around the shared queue.
// The queue is created lazily when the first collector run calls Retain and
// torn down when the last run calls Release; concurrent runs share one queue
// instance and one waiting buffer.
type Handle struct {
	mu      sync.Mutex
	refs    int
	q       *Queue
	factory func() *Queue
}

// NewHandle creates a Handle that builds the queue on first Retain.
func NewHandle(factory func() *Queue) *Handle {
	return &Handle{factory: factory}
}

// Retain increments the run count, creating the queue if this is the first
// active run, and returns the shared instance.
func (h *Handle) Retain() *Queue {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.q == nil {
		h.q = h.factory()
	}
	h.refs++
	return h.q
}

// Release decrements the run count. When the last run releases, the queue is
// closed and discarded; a later Retain builds a fresh one.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.refs > 0 {
		h.refs--
	}
	if h.refs > 0 || h.q == nil {
		h.mu.Unlock()
		return
	}
	q := h.q
	h.q = nil
	h.mu.Unlock()
	q.Close()
}

// Active reports the number of collector runs currently holding the queue.
func (h *Handle) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}
