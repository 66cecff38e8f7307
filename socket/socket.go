package socket

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
	"go.nanomsg.org/mangos/v3"
)

// Socket is an open message socket. Sockets are created and closed through a
// [Table], which owns their handles.
//
// Receives are cancelable. mangos has no cancelable receive, so for most
// protocols the socket arms a short receive deadline (the poll interval) and
// Recv loops on it, checking its context between attempts. REQ is the
// exception, since a receive deadline there aborts the outstanding request:
// REQ sockets send and receive on a mangos context, which is closed and
// replaced when a receive is canceled.
type Socket struct {
	sock   mangos.Socket
	logger *logiface.Logger[logiface.Event]
	reqCtx mangos.Context

	// transport holds tcp options for dialers and listeners created later
	transport map[string]interface{}
	name      string

	poll        time.Duration
	recvTimeout time.Duration
	sendTimeout time.Duration

	mu       sync.Mutex
	handle   Handle
	protocol Protocol
	closed   bool
}

func newSocket(h Handle, p Protocol, cfg *tableOptions) (*Socket, error) {
	ms, err := p.newSocket()
	if err != nil {
		return nil, wrapError("open", err)
	}
	s := &Socket{
		sock:        ms,
		logger:      cfg.logger,
		name:        strconv.FormatUint(uint64(h), 10),
		poll:        cfg.pollInterval,
		recvTimeout: -1,
		sendTimeout: -1,
		handle:      h,
		protocol:    p,
	}
	if p.canRecv() && p != Req {
		if err := ms.SetOption(mangos.OptionRecvDeadline, s.poll); err != nil {
			_ = ms.Close()
			return nil, wrapError("open", err)
		}
	}
	return s, nil
}

// Handle returns the identifier of the socket.
func (s *Socket) Handle() Handle { return s.handle }

// Protocol returns the protocol the socket was opened with.
func (s *Socket) Protocol() Protocol { return s.protocol }

// Listen binds the socket to url and starts accepting connections.
func (s *Socket) Listen(url string) error {
	s.logger.Debug().
		Uint64("socket", uint64(s.handle)).
		Str("url", url).
		Log("socket: listen")
	if opts := s.transportOptionsFor(url); opts != nil {
		return wrapError("listen", s.sock.ListenOptions(url, opts))
	}
	return wrapError("listen", s.sock.Listen(url))
}

// Dial connects the socket to url. The connection is established
// synchronously; mangos reconnects in the background if it later drops.
func (s *Socket) Dial(url string) error {
	s.logger.Debug().
		Uint64("socket", uint64(s.handle)).
		Str("url", url).
		Log("socket: dial")
	if opts := s.transportOptionsFor(url); opts != nil {
		return wrapError("dial", s.sock.DialOptions(url, opts))
	}
	return wrapError("dial", s.sock.Dial(url))
}

// Send sends a copy of data, blocking for at most the send-timeout option.
func (s *Socket) Send(data []byte) error {
	if s.protocol == Req {
		c, err := s.requestContext()
		if err != nil {
			return wrapError("send", err)
		}
		msg := mangos.NewMessage(len(data))
		msg.Body = append(msg.Body, data...)
		if err := c.SendMsg(msg); err != nil {
			msg.Free()
			return wrapError("send", err)
		}
		return nil
	}
	return wrapError("send", s.sock.Send(data))
}

// Recv receives one message and returns an owned copy of its body.
func (s *Socket) Recv(ctx context.Context) ([]byte, error) {
	msg, err := s.RecvMsg(ctx)
	if err != nil {
		return nil, err
	}
	body := make([]byte, len(msg.Body))
	copy(body, msg.Body)
	msg.Free()
	return body, nil
}

// CanRecv is false for the send-only protocols, push and pub.
func (s *Socket) CanRecv() bool { return s.protocol.canRecv() }

// RecvMsg receives one message, blocking until one arrives, the recv-timeout
// option elapses, ctx is done, or the socket is closed. The caller owns the
// returned message and must Free it.
func (s *Socket) RecvMsg(ctx context.Context) (*mangos.Message, error) {
	if !s.CanRecv() {
		return nil, ErrRecvNotSupported
	}
	if s.protocol == Req {
		return s.recvRequest(ctx)
	}

	var deadline time.Time
	s.mu.Lock()
	if s.recvTimeout >= 0 {
		deadline = time.Now().Add(s.recvTimeout)
	}
	s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, wrapError("recv", err)
		}
		msg, err := s.sock.RecvMsg()
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, mangos.ErrRecvTimeout) {
			return nil, wrapError("recv", err)
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, wrapError("recv", err)
		}
	}
}

func (s *Socket) recvRequest(ctx context.Context) (*mangos.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapError("recv", err)
	}
	c, err := s.requestContext()
	if err != nil {
		return nil, wrapError("recv", err)
	}
	stop := context.AfterFunc(ctx, func() { s.abandonRequest(c) })
	msg, err := c.RecvMsg()
	stop()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, wrapError("recv", ctxErr)
		}
		return nil, wrapError("recv", err)
	}
	return msg, nil
}

// requestContext returns the mangos context REQ traffic currently uses,
// opening one if needed. New contexts inherit the socket level options.
func (s *Socket) requestContext() (mangos.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, mangos.ErrClosed
	}
	if s.reqCtx == nil {
		c, err := s.sock.OpenContext()
		if err != nil {
			return nil, err
		}
		s.reqCtx = c
	}
	return s.reqCtx, nil
}

// abandonRequest closes c, failing any receive blocked on it, and detaches
// it so the next operation opens a fresh context.
func (s *Socket) abandonRequest(c mangos.Context) {
	s.mu.Lock()
	if s.reqCtx == c {
		s.reqCtx = nil
	}
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Socket) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wrapError("close", mangos.ErrClosed)
	}
	s.closed = true
	c := s.reqCtx
	s.reqCtx = nil
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
	return wrapError("close", s.sock.Close())
}
