package aio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.nanomsg.org/mangos/v3"
)

// chanReceiver receives from a channel, failing with ctx.Err() once canceled.
type chanReceiver struct {
	ch     chan *mangos.Message
	active atomic.Int32
	peak   atomic.Int32
}

func newChanReceiver() *chanReceiver {
	return &chanReceiver{ch: make(chan *mangos.Message, 16)}
}

func (r *chanReceiver) RecvMsg(ctx context.Context) (*mangos.Message, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m := <-r.ch:
		return m, nil
	}
}

func (r *chanReceiver) push(body string) {
	m := mangos.NewMessage(len(body))
	m.Body = append(m.Body, body...)
	r.ch <- m
}

type errReceiver struct{ err error }

func (r errReceiver) RecvMsg(context.Context) (*mangos.Message, error) { return nil, r.err }

func TestOperation_SubmitDeliversMessage(t *testing.T) {
	src := newChanReceiver()
	got := make(chan string, 1)
	op := Alloc(func(op *Operation) {
		assert.NoError(t, op.Result())
		if m := op.TakeMessage(); m != nil {
			got <- string(m.Body)
			m.Free()
		}
	})
	defer op.Free()

	require.NoError(t, op.Submit(src, 0))
	src.push("hello")

	select {
	case s := <-got:
		assert.Equal(t, "hello", s)
	case <-time.After(2 * time.Second):
		t.Fatal("no completion")
	}
	op.Wait()
	assert.False(t, op.Busy())
	assert.Nil(t, op.TakeMessage())
}

func TestOperation_SubmitWhileBusy(t *testing.T) {
	src := newChanReceiver()
	op := Alloc(func(*Operation) {})
	defer op.Free()

	require.NoError(t, op.Submit(src, 0))
	assert.ErrorIs(t, op.Submit(src, 0), ErrBusy)
	assert.True(t, op.Busy())
}

func TestOperation_Cancel(t *testing.T) {
	src := newChanReceiver()
	var result atomic.Value
	op := Alloc(func(op *Operation) { result.Store(op.Result()) })
	defer op.Free()

	require.NoError(t, op.Submit(src, 0))
	op.Cancel()
	op.Wait()

	err, _ := result.Load().(error)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOperation_CancelDuringDelay(t *testing.T) {
	src := newChanReceiver()
	var result atomic.Value
	op := Alloc(func(op *Operation) { result.Store(op.Result()) })
	defer op.Free()

	start := time.Now()
	require.NoError(t, op.Submit(src, time.Hour))
	op.Cancel()
	op.Wait()

	assert.Less(t, time.Since(start), time.Second)
	err, _ := result.Load().(error)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, int32(0), src.peak.Load(), "receive should not have started")
}

func TestOperation_ErrorResult(t *testing.T) {
	boom := errors.New("boom")
	done := make(chan error, 1)
	op := Alloc(func(op *Operation) { done <- op.Result() })
	defer op.Free()

	require.NoError(t, op.Submit(errReceiver{boom}, 0))
	err := <-done
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCanceled)
}

func TestOperation_Resubmit(t *testing.T) {
	src := newChanReceiver()
	var (
		got   = make(chan string, 8)
		count atomic.Int32
	)
	op := Alloc(func(o *Operation) {
		if m := o.TakeMessage(); m != nil {
			got <- string(m.Body)
			m.Free()
		}
		if count.Add(1) < 3 {
			assert.NoError(t, o.Submit(src, 0))
		}
	})
	defer op.Free()

	require.NoError(t, op.Submit(src, 0))
	for _, s := range []string{"a", "b", "c"} {
		src.push(s)
	}
	for _, want := range []string{"a", "b", "c"} {
		select {
		case s := <-got:
			assert.Equal(t, want, s)
		case <-time.After(2 * time.Second):
			t.Fatal("no completion")
		}
	}
	op.Wait()
	assert.Equal(t, int32(1), src.peak.Load(), "at most one receive outstanding")
}

func TestOperation_Free(t *testing.T) {
	src := newChanReceiver()
	var calls atomic.Int32
	op := Alloc(func(o *Operation) {
		calls.Add(1)
		// resubmission after free must fail
		assert.ErrorIs(t, o.Submit(src, 0), ErrFreed)
	})

	require.NoError(t, op.Submit(src, 0))
	op.Free()
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, op.Busy())
	assert.ErrorIs(t, op.Submit(src, 0), ErrFreed)
	op.Free()
}

func TestOperation_UntakenMessageFreedOnResubmit(t *testing.T) {
	src := newChanReceiver()
	done := make(chan struct{}, 2)
	op := Alloc(func(*Operation) { done <- struct{}{} })
	defer op.Free()

	require.NoError(t, op.Submit(src, 0))
	src.push("x")
	<-done
	op.Wait()
	require.NoError(t, op.Submit(src, 0))
	assert.Nil(t, op.TakeMessage())
}

func TestAlloc_NilCallbackPanics(t *testing.T) {
	assert.Panics(t, func() { Alloc(nil) })
}

func TestOperation_WaitCoversOverlappingCompletions(t *testing.T) {
	src := newChanReceiver()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	op := Alloc(func(op *Operation) {
		if m := op.TakeMessage(); m != nil {
			m.Free()
		}
		switch calls.Add(1) {
		case 1:
			// the second completion may start before this one returns
			assert.NoError(t, op.Submit(src, 0))
		case 2:
			close(entered)
			<-release
		}
	})
	defer op.Free()

	src.push("one")
	src.push("two")
	require.NoError(t, op.Submit(src, 0))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("second completion not started")
	}
	// let the first completion finish unwinding
	time.Sleep(50 * time.Millisecond)

	waited := make(chan struct{})
	go func() {
		op.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a completion was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
	assert.Equal(t, int32(2), calls.Load())
}
