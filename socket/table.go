package socket

import (
	"sync"

	"github.com/joeycumines/logiface"
)

// Handle identifies an open socket. The zero Handle is never issued.
type Handle uint32

// ClosingHook is called by [Table.Close] before the socket is closed. The
// handle no longer resolves, but the socket is still usable by anything that
// already holds it. The hook must not return until it has stopped using it.
type ClosingHook func(h Handle)

// Table issues socket handles and owns the sockets behind them. It is safe
// for concurrent use.
type Table struct {
	logger  *logiface.Logger[logiface.Event]
	opts    *tableOptions
	sockets map[Handle]*tableEntry
	ends    map[EndpointID]*endpoint
	hooks   []ClosingHook
	mu      sync.RWMutex
	next    Handle
	nextEnd EndpointID
}

type tableEntry struct {
	sock    *Socket
	closing bool
}

// NewTable creates an empty socket table.
func NewTable(opts ...TableOption) (*Table, error) {
	cfg, err := resolveTableOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Table{
		logger:  cfg.logger,
		opts:    cfg,
		sockets: make(map[Handle]*tableEntry),
		ends:    make(map[EndpointID]*endpoint),
	}, nil
}

// OnClosing registers a hook run by every subsequent [Table.Close].
func (t *Table) OnClosing(hook ClosingHook) {
	if hook == nil {
		panic("socket: nil closing hook")
	}
	t.mu.Lock()
	t.hooks = append(t.hooks, hook)
	t.mu.Unlock()
}

// Open creates a socket of the given protocol and returns its handle.
func (t *Table) Open(p Protocol) (*Socket, error) {
	if !p.Valid() {
		return nil, &Error{Op: "open", Code: ENOTSUP, Err: errBadProtocol}
	}

	t.mu.Lock()
	h := t.allocHandle()
	// reserve the handle while the socket is built outside the lock
	t.sockets[h] = &tableEntry{closing: true}
	t.mu.Unlock()

	s, err := newSocket(h, p, t.opts)

	t.mu.Lock()
	if err != nil {
		delete(t.sockets, h)
	} else {
		t.sockets[h] = &tableEntry{sock: s}
	}
	t.mu.Unlock()

	if err != nil {
		return nil, err
	}

	t.logger.Debug().
		Uint64("socket", uint64(h)).
		Str("protocol", p.String()).
		Log("socket: opened")

	return s, nil
}

func (t *Table) allocHandle() Handle {
	for {
		t.next++
		if t.next == 0 {
			continue
		}
		if _, ok := t.sockets[t.next]; !ok {
			return t.next
		}
	}
}

// IsOpen reports whether h refers to an open socket that is not closing.
func (t *Table) IsOpen(h Handle) bool {
	_, err := t.Get(h)
	return err == nil
}

// Get returns the socket for h, or [ErrInvalidHandle].
func (t *Table) Get(h Handle) (*Socket, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.sockets[h]
	if !ok || e.closing {
		return nil, ErrInvalidHandle
	}
	return e.sock, nil
}

// Len returns the number of sockets in the table, including closing ones.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sockets)
}

// Close closes the socket identified by h. The closing hooks run first, then
// the socket's dialers and listeners are closed, then the socket itself.
// The handle stays reserved until Close returns, and a concurrent Close of
// the same handle fails with [ErrInvalidHandle].
func (t *Table) Close(h Handle) error {
	t.mu.Lock()
	e, ok := t.sockets[h]
	if !ok || e.closing {
		t.mu.Unlock()
		return ErrInvalidHandle
	}
	e.closing = true
	hooks := t.hooks
	t.mu.Unlock()

	for _, hook := range hooks {
		hook(h)
	}

	t.closeEndpoints(h)
	err := e.sock.close()

	t.mu.Lock()
	delete(t.sockets, h)
	t.mu.Unlock()

	t.logger.Debug().
		Uint64("socket", uint64(h)).
		Err(err).
		Log("socket: closed")

	return err
}

// CloseAll closes every open socket, returning the first error.
func (t *Table) CloseAll() error {
	t.mu.RLock()
	handles := make([]Handle, 0, len(t.sockets))
	for h, e := range t.sockets {
		if !e.closing {
			handles = append(handles, h)
		}
	}
	t.mu.RUnlock()

	var first error
	for _, h := range handles {
		if err := t.Close(h); err != nil && first == nil && err != ErrInvalidHandle {
			first = err
		}
	}
	return first
}
