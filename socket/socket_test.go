package socket

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.nanomsg.org/mangos/v3"
)

func inprocURL(t *testing.T) string {
	return "inproc://" + strings.ReplaceAll(t.Name(), "/", "_")
}

func newTestTable(t *testing.T, opts ...TableOption) *Table {
	t.Helper()
	tbl, err := NewTable(append([]TableOption{WithPollInterval(10 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.CloseAll() })
	return tbl
}

func pushPull(t *testing.T, tbl *Table) (push, pull *Socket) {
	t.Helper()
	pull, err := tbl.Open(Pull)
	require.NoError(t, err)
	push, err = tbl.Open(Push)
	require.NoError(t, err)
	url := inprocURL(t)
	require.NoError(t, pull.Listen(url))
	require.NoError(t, push.Dial(url))
	return push, pull
}

func TestTable_OpenAssignsHandles(t *testing.T) {
	tbl := newTestTable(t)
	a, err := tbl.Open(Pair)
	require.NoError(t, err)
	b, err := tbl.Open(Pair)
	require.NoError(t, err)

	assert.Equal(t, Handle(1), a.Handle())
	assert.Equal(t, Handle(2), b.Handle())
	assert.True(t, tbl.IsOpen(a.Handle()))
	assert.Equal(t, 2, tbl.Len())

	got, err := tbl.Get(b.Handle())
	require.NoError(t, err)
	assert.Same(t, b, got)
}

func TestTable_OpenInvalidProtocol(t *testing.T) {
	tbl := newTestTable(t)
	_, err := tbl.Open(Protocol(42))
	require.Error(t, err)
	assert.ErrorIs(t, err, ENOTSUP)
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_Close(t *testing.T) {
	tbl := newTestTable(t)
	s, err := tbl.Open(Pull)
	require.NoError(t, err)

	require.NoError(t, tbl.Close(s.Handle()))
	assert.False(t, tbl.IsOpen(s.Handle()))

	err = tbl.Close(s.Handle())
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, err, ECLOSED)

	_, err = tbl.Get(s.Handle())
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestTable_ClosingHooks(t *testing.T) {
	tbl := newTestTable(t)
	s, err := tbl.Open(Pull)
	require.NoError(t, err)

	var calls atomic.Int32
	tbl.OnClosing(func(h Handle) {
		calls.Add(1)
		assert.Equal(t, s.Handle(), h)
		assert.False(t, tbl.IsOpen(h), "handle should not resolve while closing")
		// the socket itself is still open
		_, err := s.RecvMsg(cancelledContext())
		assert.ErrorIs(t, err, ECANCELED)
	})

	require.NoError(t, tbl.Close(s.Handle()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Error(t, tbl.Close(s.Handle()))
	assert.Equal(t, int32(1), calls.Load())
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestSocket_SendRecv(t *testing.T) {
	tbl := newTestTable(t)
	push, pull := pushPull(t, tbl)

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, push.Send([]byte(m)))
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := pull.Recv(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestSocket_RecvCancel(t *testing.T) {
	tbl := newTestTable(t)
	_, pull := pushPull(t, tbl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := pull.RecvMsg(ctx)
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ECANCELED)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("receive was not canceled")
	}
}

func TestSocket_RecvTimeout(t *testing.T) {
	tbl := newTestTable(t)
	_, pull := pushPull(t, tbl)

	require.NoError(t, pull.SetOptionMs(OptionRecvTimeout, 25*time.Millisecond))
	start := time.Now()
	_, err := pull.Recv(context.Background())
	assert.ErrorIs(t, err, ETIMEDOUT)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	assert.Equal(t, "NNG Error: Timed out (5)", err.Error())
}

func TestSocket_RecvAfterClose(t *testing.T) {
	tbl := newTestTable(t)
	_, pull := pushPull(t, tbl)

	done := make(chan error, 1)
	go func() {
		_, err := pull.Recv(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tbl.Close(pull.Handle()))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ECLOSED)
		assert.ErrorIs(t, err, mangos.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not observe close")
	}
}

func TestSocket_SendOnlyProtocolCannotRecv(t *testing.T) {
	tbl := newTestTable(t)
	push, _ := pushPull(t, tbl)
	_, err := push.Recv(context.Background())
	assert.ErrorIs(t, err, ENOTSUP)
}

func TestSocket_ReqRep(t *testing.T) {
	tbl := newTestTable(t)
	rep, err := tbl.Open(Rep)
	require.NoError(t, err)
	req, err := tbl.Open(Req)
	require.NoError(t, err)
	url := inprocURL(t)
	require.NoError(t, rep.Listen(url))
	require.NoError(t, req.Dial(url))

	serve := func() {
		b, err := rep.Recv(context.Background())
		if !assert.NoError(t, err) {
			return
		}
		assert.NoError(t, rep.Send(append([]byte("re:"), b...)))
	}

	go serve()
	require.NoError(t, req.Send([]byte("one")))
	got, err := req.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "re:one", string(got))

	// a canceled receive abandons the request, and the socket stays usable
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, req.Send([]byte("ignored")))
	_, err = req.Recv(ctx)
	assert.ErrorIs(t, err, ETIMEDOUT)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the abandoned request may or may not have reached rep, and any reply
	// to it is discarded by req
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer drainCancel()
	if b, err := rep.Recv(drainCtx); err == nil {
		assert.Equal(t, "ignored", string(b))
		require.NoError(t, rep.Send(b))
	}

	go serve()
	require.NoError(t, req.Send([]byte("two")))
	got, err = req.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "re:two", string(got))
}

func TestSocket_ReqRecvWithoutRequest(t *testing.T) {
	tbl := newTestTable(t)
	req, err := tbl.Open(Req)
	require.NoError(t, err)
	_, err = req.Recv(context.Background())
	assert.ErrorIs(t, err, ESTATE)
}

func TestSocket_PubSub(t *testing.T) {
	tbl := newTestTable(t)
	pub, err := tbl.Open(Pub)
	require.NoError(t, err)
	sub, err := tbl.Open(Sub)
	require.NoError(t, err)
	url := inprocURL(t)
	require.NoError(t, pub.Listen(url))
	require.NoError(t, sub.Dial(url))
	require.NoError(t, sub.SetOptionString(OptionSubscribe, "news"))
	require.NoError(t, sub.SetOptionMs(OptionRecvTimeout, time.Second))

	var got []byte
	require.Eventually(t, func() bool {
		if pub.Send([]byte("sports: x")) != nil || pub.Send([]byte("news: y")) != nil {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		b, err := sub.Recv(ctx)
		if err != nil {
			return false
		}
		got = b
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "news: y", string(got))
}

func TestSocket_Options(t *testing.T) {
	tbl := newTestTable(t)
	s, err := tbl.Open(Sub)
	require.NoError(t, err)

	// defaults
	d, err := s.GetOptionMs(OptionRecvTimeout)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), d)
	name, err := s.GetOptionString(OptionSocketName)
	require.NoError(t, err)
	assert.Equal(t, "1", name)

	for _, tc := range []struct {
		name string
		set  func() error
		get  func() (any, error)
		want any
	}{
		{
			name: "recv-timeout",
			set:  func() error { return s.SetOptionMs(OptionRecvTimeout, 250*time.Millisecond) },
			get:  func() (any, error) { return s.GetOptionMs(OptionRecvTimeout) },
			want: 250 * time.Millisecond,
		},
		{
			name: "send-timeout as int",
			set:  func() error { return s.SetOptionInt(OptionSendTimeout, 100) },
			get:  func() (any, error) { return s.GetOptionMs(OptionSendTimeout) },
			want: 100 * time.Millisecond,
		},
		{
			name: "recv-buffer",
			set:  func() error { return s.SetOptionInt(OptionRecvBuffer, 8) },
			get:  func() (any, error) { return s.GetOptionInt(OptionRecvBuffer) },
			want: 8,
		},
		{
			name: "recv-size-max",
			set:  func() error { return s.SetOptionInt(OptionRecvMaxSize, 4096) },
			get:  func() (any, error) { return s.GetOptionInt(OptionRecvMaxSize) },
			want: 4096,
		},
		{
			name: "reconnect-time-min",
			set:  func() error { return s.SetOptionMs(OptionReconnectMin, 20*time.Millisecond) },
			get:  func() (any, error) { return s.GetOptionMs(OptionReconnectMin) },
			want: 20 * time.Millisecond,
		},
		{
			name: "socket-name",
			set:  func() error { return s.SetOptionString(OptionSocketName, "feed") },
			get:  func() (any, error) { return s.GetOptionString(OptionSocketName) },
			want: "feed",
		},
		{
			name: "tcp-nodelay",
			set:  func() error { return s.SetOptionBool(OptionTCPNoDelay, true) },
			get:  func() (any, error) { return s.GetOptionBool(OptionTCPNoDelay) },
			want: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.set())
			got, err := tc.get()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	proto, err := s.GetOptionInt(OptionProtocol)
	require.NoError(t, err)
	assert.Equal(t, 0x21, proto)
	pname, err := s.GetOptionString(OptionPeerName)
	require.NoError(t, err)
	assert.Equal(t, "pub", pname)

	assert.ErrorIs(t, s.SetOptionInt("no-such-option", 1), ENOTSUP)
	assert.ErrorIs(t, s.SetOptionString(OptionRecvBuffer, "x"), EBADTYPE)
	assert.ErrorIs(t, s.SetOptionInt(OptionRecvBuffer, -1), EINVAL)
	assert.ErrorIs(t, s.SetOptionMs(OptionReconnectMin, -time.Millisecond), EINVAL)
}

func TestIsDurationOption(t *testing.T) {
	assert.True(t, IsDurationOption(OptionRecvTimeout))
	assert.True(t, IsDurationOption(OptionResendTime))
	assert.True(t, IsDurationOption("custom:ms"))
	assert.False(t, IsDurationOption(OptionRecvBuffer))
}

func TestTable_Endpoints(t *testing.T) {
	tbl := newTestTable(t)
	pull, err := tbl.Open(Pull)
	require.NoError(t, err)
	push, err := tbl.Open(Push)
	require.NoError(t, err)
	url := inprocURL(t)

	lid, err := tbl.NewListener(pull.Handle(), url)
	require.NoError(t, err)
	did, err := tbl.NewDialer(push.Handle(), url)
	require.NoError(t, err)
	assert.NotEqual(t, lid, did)

	assert.ErrorIs(t, tbl.StartDialer(lid), EINVAL)
	require.NoError(t, tbl.StartListener(lid))
	require.NoError(t, tbl.StartDialer(did))

	require.NoError(t, push.Send([]byte("hi")))
	got, err := pull.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))

	require.NoError(t, tbl.CloseDialer(did))
	assert.ErrorIs(t, tbl.CloseDialer(did), ErrInvalidEndpoint)
	assert.ErrorIs(t, tbl.CloseDialer(lid), ErrInvalidEndpoint)

	// closing the socket closes its remaining endpoints
	require.NoError(t, tbl.Close(pull.Handle()))
	assert.ErrorIs(t, tbl.StartListener(lid), ErrInvalidEndpoint)

	_, err = tbl.NewDialer(pull.Handle(), url)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestError(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code Code
		msg  string
	}{
		{mangos.ErrClosed, ECLOSED, "NNG Error: Object closed (7)"},
		{mangos.ErrConnRefused, ECONNREFUSED, "NNG Error: Connection refused (6)"},
		{mangos.ErrAddrInUse, EADDRINUSE, "NNG Error: Address in use (10)"},
		{mangos.ErrBadTran, ENOTSUP, "NNG Error: Not supported (9)"},
		{mangos.ErrProtoState, ESTATE, "NNG Error: Incorrect state (11)"},
		{context.Canceled, ECANCELED, "NNG Error: Operation canceled (20)"},
		{errors.New("boom"), EINTERNAL, "NNG Error: Internal error detected (1000)"},
	} {
		err := wrapError("test", tc.err)
		assert.Equal(t, tc.code, CodeOf(err))
		assert.Equal(t, tc.msg, err.Error())
		assert.ErrorIs(t, err, tc.err)
		assert.ErrorIs(t, err, tc.code)
	}
	assert.Nil(t, wrapError("test", nil))
	assert.Equal(t, Code(0), CodeOf(nil))
	assert.Equal(t, "Unknown error #77", Code(77).Error())
}

func TestSocket_DialRefused(t *testing.T) {
	tbl := newTestTable(t)
	s, err := tbl.Open(Push)
	require.NoError(t, err)
	err = s.Dial(inprocURL(t))
	assert.ErrorIs(t, err, ECONNREFUSED)
	err = s.Dial("bogus://nowhere")
	assert.ErrorIs(t, err, ENOTSUP)
}
