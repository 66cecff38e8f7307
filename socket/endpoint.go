package socket

import (
	"errors"

	"go.nanomsg.org/mangos/v3"
)

// EndpointID identifies a dialer or listener created by a [Table]. Dialer
// and listener IDs share one space.
type EndpointID uint32

type endpoint struct {
	dialer   mangos.Dialer
	listener mangos.Listener
	owner    Handle
}

var (
	errBadProtocol = errors.New("socket: unknown protocol")
	errNotDialer   = errors.New("socket: endpoint is not a dialer")
	errNotListener = errors.New("socket: endpoint is not a listener")
)

// ErrInvalidEndpoint is returned for an unknown or closed dialer or listener.
var ErrInvalidEndpoint = &Error{Op: "lookup", Code: ENOENT, Err: errors.New("socket: invalid endpoint")}

// NewDialer creates a dialer for url on the socket h. The dialer does not
// connect until [Table.StartDialer] is called.
func (t *Table) NewDialer(h Handle, url string) (EndpointID, error) {
	s, err := t.Get(h)
	if err != nil {
		return 0, err
	}
	d, err := s.sock.NewDialer(url, s.transportOptionsFor(url))
	if err != nil {
		return 0, wrapError("dialer", err)
	}
	return t.addEndpoint(&endpoint{dialer: d, owner: h}), nil
}

// NewListener creates a listener for url on the socket h. The listener does
// not bind until [Table.StartListener] is called.
func (t *Table) NewListener(h Handle, url string) (EndpointID, error) {
	s, err := t.Get(h)
	if err != nil {
		return 0, err
	}
	l, err := s.sock.NewListener(url, s.transportOptionsFor(url))
	if err != nil {
		return 0, wrapError("listener", err)
	}
	return t.addEndpoint(&endpoint{listener: l, owner: h}), nil
}

// StartDialer starts connecting. mangos keeps redialing in the background
// after a failed or dropped connection.
func (t *Table) StartDialer(id EndpointID) error {
	ep, err := t.endpoint(id)
	if err != nil {
		return err
	}
	if ep.dialer == nil {
		return &Error{Op: "dialer", Code: EINVAL, Err: errNotDialer}
	}
	return wrapError("dialer", ep.dialer.Dial())
}

// StartListener binds the listener's address.
func (t *Table) StartListener(id EndpointID) error {
	ep, err := t.endpoint(id)
	if err != nil {
		return err
	}
	if ep.listener == nil {
		return &Error{Op: "listener", Code: EINVAL, Err: errNotListener}
	}
	return wrapError("listener", ep.listener.Listen())
}

// CloseDialer closes a dialer, leaving its socket open.
func (t *Table) CloseDialer(id EndpointID) error {
	return t.closeEndpoint(id, true)
}

// CloseListener closes a listener, leaving its socket open.
func (t *Table) CloseListener(id EndpointID) error {
	return t.closeEndpoint(id, false)
}

func (t *Table) addEndpoint(ep *endpoint) EndpointID {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		t.nextEnd++
		if t.nextEnd == 0 {
			continue
		}
		if _, ok := t.ends[t.nextEnd]; !ok {
			break
		}
	}
	t.ends[t.nextEnd] = ep
	return t.nextEnd
}

func (t *Table) endpoint(id EndpointID) (*endpoint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, ok := t.ends[id]
	if !ok {
		return nil, ErrInvalidEndpoint
	}
	return ep, nil
}

func (t *Table) closeEndpoint(id EndpointID, dialer bool) error {
	t.mu.Lock()
	ep, ok := t.ends[id]
	if !ok || (dialer && ep.dialer == nil) || (!dialer && ep.listener == nil) {
		t.mu.Unlock()
		return ErrInvalidEndpoint
	}
	delete(t.ends, id)
	t.mu.Unlock()
	return wrapError("close", ep.close())
}

// closeEndpoints removes and closes every endpoint owned by h.
func (t *Table) closeEndpoints(h Handle) {
	var owned []*endpoint
	t.mu.Lock()
	for id, ep := range t.ends {
		if ep.owner == h {
			owned = append(owned, ep)
			delete(t.ends, id)
		}
	}
	t.mu.Unlock()
	for _, ep := range owned {
		_ = ep.close()
	}
}

func (ep *endpoint) close() error {
	if ep.dialer != nil {
		return ep.dialer.Close()
	}
	return ep.listener.Close()
}
