// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"github.com/joeycumines/logiface"
)

var (
	// ErrReleased is returned by [Bridge.Dispatch] after [Bridge.Release].
	ErrReleased = errors.New("bridge: released")

	// ErrSaturated is returned by [Bridge.Dispatch] when the bridge already
	// holds its capacity of undelivered deliveries.
	ErrSaturated = errors.New("bridge: saturated")
)

// drainBatch bounds the deliveries invoked per host task, so a busy socket
// cannot monopolize the host.
const drainBatch = 64

// Host runs tasks on a single goroutine, in submission order. Submit must not
// block waiting for the task to run. *eventloop.Loop implements Host.
type Host interface {
	Submit(task func()) error
}

// Delivery is one received message, or the error that ended a receive.
// Exactly one of Payload and Err is meaningful: Err is nil on success.
type Delivery struct {
	Err     error
	Payload []byte
}

// Callback consumes deliveries on the host goroutine.
type Callback func(d Delivery)

// ReleaseMode selects what [Bridge.Release] does with queued deliveries.
type ReleaseMode int

const (
	// ReleaseGraceful lets queued deliveries be invoked before the bridge
	// finalizes.
	ReleaseGraceful ReleaseMode = iota
	// ReleaseAbort drops queued deliveries without invoking them.
	ReleaseAbort
)

func (m ReleaseMode) String() string {
	switch m {
	case ReleaseGraceful:
		return "graceful"
	case ReleaseAbort:
		return "abort"
	default:
		return fmt.Sprintf("ReleaseMode(%d)", int(m))
	}
}

// Bridge moves deliveries from any goroutine to ordered invocations of one
// callback on a [Host]. Deliveries are queued in the bridge itself, and at
// most one drain task is pending on the host at a time.
type Bridge struct {
	host      Host
	callback  Callback
	logger    *logiface.Logger[logiface.Event]
	pending   *queue.Queue
	done      chan struct{}
	capacity  int
	mu        sync.Mutex
	scheduled bool
	invoking  bool
	released  bool
	aborted   bool
	finalized bool
}

// New binds callback to host. It panics if either is nil.
func New(host Host, callback Callback, opts ...Option) (*Bridge, error) {
	if host == nil {
		panic("bridge: nil host")
	}
	if callback == nil {
		panic("bridge: nil callback")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Bridge{
		host:     host,
		callback: callback,
		logger:   cfg.logger,
		pending:  queue.New(),
		done:     make(chan struct{}),
		capacity: cfg.capacity,
	}, nil
}

// Dispatch queues d for invocation and returns without waiting for it.
// On error d was not queued, and the caller still owns it.
func (b *Bridge) Dispatch(d Delivery) error {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return ErrReleased
	}
	if b.capacity > 0 && b.pending.Length() >= b.capacity {
		b.mu.Unlock()
		return ErrSaturated
	}
	b.pending.Add(d)
	if b.scheduled {
		b.mu.Unlock()
		return nil
	}
	b.scheduled = true
	b.mu.Unlock()

	if err := b.host.Submit(b.drain); err != nil {
		// the host is gone, nothing queued can ever be invoked
		b.mu.Lock()
		b.scheduled = false
		b.released = true
		b.aborted = true
		b.clearLocked()
		b.finalizeLocked()
		b.mu.Unlock()
		return fmt.Errorf("bridge: host rejected delivery: %w", err)
	}
	return nil
}

// drain runs on the host.
func (b *Bridge) drain() {
	for i := 0; ; i++ {
		b.mu.Lock()
		if b.aborted || b.pending.Length() == 0 {
			b.scheduled = false
			b.finalizeLocked()
			b.mu.Unlock()
			return
		}
		if i == drainBatch {
			b.mu.Unlock()
			if err := b.host.Submit(b.drain); err == nil {
				return
			}
			b.mu.Lock()
			b.scheduled = false
			b.aborted = true
			b.released = true
			b.clearLocked()
			b.finalizeLocked()
			b.mu.Unlock()
			return
		}
		d := b.pending.Remove().(Delivery)
		b.invoking = true
		b.mu.Unlock()

		b.invoke(d)

		b.mu.Lock()
		b.invoking = false
		b.mu.Unlock()
	}
}

func (b *Bridge) invoke(d Delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Err().
				Any("panic", r).
				Log("bridge: callback panicked")
		}
	}()
	b.callback(d)
}

// Release detaches the bridge: later dispatches fail with [ErrReleased].
// With [ReleaseAbort], queued deliveries are dropped and no invocation
// begins after Release returns. With [ReleaseGraceful], queued deliveries are
// still invoked. Release may be called more than once; an abort after a
// graceful release drops whatever is still queued.
func (b *Bridge) Release(mode ReleaseMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	if mode == ReleaseAbort && !b.aborted {
		b.aborted = true
		if n := b.pending.Length(); n > 0 {
			b.logger.Debug().
				Int("dropped", n).
				Log("bridge: aborted with pending deliveries")
		}
		b.clearLocked()
	}
	b.finalizeLocked()
}

// Done is closed once the bridge is released and no invocation is queued or
// running.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Len returns the number of queued deliveries.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Length()
}

func (b *Bridge) clearLocked() {
	for b.pending.Length() > 0 {
		b.pending.Remove()
	}
}

func (b *Bridge) finalizeLocked() {
	if b.finalized || !b.released || b.invoking || b.pending.Length() != 0 {
		return
	}
	b.finalized = true
	close(b.done)
}
