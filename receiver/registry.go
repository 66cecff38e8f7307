package receiver

import (
	"errors"
	"sync"

	"github.com/joeycumines/goja-nng/socket"
)

// DefaultCapacity is the default maximum number of sockets with a receive
// context at the same time.
const DefaultCapacity = 256

var (
	// ErrCapacityExceeded is returned by [Subsystem.Start] when the maximum
	// number of sockets with a receive context is reached. It is always
	// accompanied by [ErrResourceExhausted].
	ErrCapacityExceeded = errors.New("receiver: registry capacity exceeded")

	errAlreadyRegistered = errors.New("receiver: socket already registered")
)

// registry maps sockets to their active receive contexts. Its lock is only
// held for the duration of a lookup, insert or removal, and never while a
// context's own lock is held.
type registry struct {
	contexts map[socket.Handle]*receiveContext
	mu       sync.Mutex
	capacity int
}

// newRegistry returns an empty registry bounded to capacity contexts.
func newRegistry(capacity int) *registry {
	if capacity <= 0 {
		panic("receiver: registry capacity must be positive")
	}
	return &registry{
		contexts: make(map[socket.Handle]*receiveContext),
		capacity: capacity,
	}
}

// find returns the context for h, or nil.
func (r *registry) find(h socket.Handle) *receiveContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contexts[h]
}

// insert adds c, keyed by its socket.
func (r *registry) insert(c *receiveContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contexts[c.handle]; ok {
		return errAlreadyRegistered
	}
	if len(r.contexts) >= r.capacity {
		return ErrCapacityExceeded
	}
	r.contexts[c.handle] = c
	return nil
}

// remove removes c, if it is still the context registered for its socket.
func (r *registry) remove(c *receiveContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.contexts[c.handle] == c {
		delete(r.contexts, c.handle)
	}
}

// size returns the number of registered contexts.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// snapshot returns the registered contexts.
func (r *registry) snapshot() []*receiveContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*receiveContext, 0, len(r.contexts))
	for _, c := range r.contexts {
		out = append(out, c)
	}
	return out
}
