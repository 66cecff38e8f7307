// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package aio implements asynchronous receive operations, in the manner of
// nng's aio objects: an [Operation] is allocated once with a completion
// callback, then submitted repeatedly, one receive at a time. Each submission
// runs on its own goroutine and reports back through the callback.
package aio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
)

var (
	// ErrBusy is returned by [Operation.Submit] while a previous submission
	// has not completed.
	ErrBusy = errors.New("aio: operation busy")

	// ErrFreed is returned by [Operation.Submit] after [Operation.Free].
	ErrFreed = errors.New("aio: operation freed")

	// ErrCanceled wraps the result of a submission that failed after
	// [Operation.Cancel] was called.
	ErrCanceled = errors.New("aio: operation canceled")
)

// Receiver is the source a submission receives from, typically a
// *socket.Socket. RecvMsg must return promptly once ctx is done.
type Receiver interface {
	RecvMsg(ctx context.Context) (*mangos.Message, error)
}

// Operation is a reusable asynchronous receive. At most one submission is
// outstanding at any time.
type Operation struct {
	onComplete func(op *Operation)
	cancel     context.CancelFunc
	msg        *mangos.Message
	err        error
	idle       *sync.Cond
	mu         sync.Mutex
	busy       bool
	// completion callbacks running; a callback that resubmits overlaps the
	// next submission's callback
	completing int
	freed      bool
}

// Alloc returns a new idle operation. The onComplete callback runs on the
// submission's goroutine after each submission ends, and may call
// [Operation.Submit] to start the next one.
func Alloc(onComplete func(op *Operation)) *Operation {
	if onComplete == nil {
		panic("aio: nil completion callback")
	}
	op := &Operation{onComplete: onComplete}
	op.idle = sync.NewCond(&op.mu)
	return op
}

// Submit starts a receive from src, after waiting delay (if positive). The
// wait is cancelable. Any message left from the previous submission that was
// not taken is freed.
func (op *Operation) Submit(src Receiver, delay time.Duration) error {
	op.mu.Lock()
	defer op.mu.Unlock()
	switch {
	case op.freed:
		return ErrFreed
	case op.busy:
		return ErrBusy
	}
	if op.msg != nil {
		op.msg.Free()
		op.msg = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	op.busy = true
	op.cancel = cancel
	op.err = nil
	go op.run(ctx, cancel, src, delay)
	return nil
}

func (op *Operation) run(ctx context.Context, cancel context.CancelFunc, src Receiver, delay time.Duration) {
	var (
		msg *mangos.Message
		err error
	)
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-timer.C:
		}
		timer.Stop()
	}
	if err == nil {
		msg, err = src.RecvMsg(ctx)
	}
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	cancel()

	op.mu.Lock()
	op.msg = msg
	op.err = err
	op.busy = false
	op.completing++
	op.mu.Unlock()

	op.onComplete(op)

	op.mu.Lock()
	op.completing--
	op.idle.Broadcast()
	op.mu.Unlock()
}

// Cancel asks the outstanding submission, if any, to end early. It does not
// wait; the submission still completes, usually with [ErrCanceled].
func (op *Operation) Cancel() {
	op.mu.Lock()
	if op.busy && op.cancel != nil {
		op.cancel()
	}
	op.mu.Unlock()
}

// Wait blocks until no submission is outstanding and no completion callback
// is running. It must not be called from the completion callback.
func (op *Operation) Wait() {
	op.mu.Lock()
	for op.busy || op.completing > 0 {
		op.idle.Wait()
	}
	op.mu.Unlock()
}

// Busy reports whether a submission is outstanding.
func (op *Operation) Busy() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.busy
}

// Result returns the error of the last completed submission, nil on success.
func (op *Operation) Result() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.err
}

// TakeMessage returns the message received by the last completed submission,
// transferring ownership to the caller, or nil.
func (op *Operation) TakeMessage() *mangos.Message {
	op.mu.Lock()
	defer op.mu.Unlock()
	msg := op.msg
	op.msg = nil
	return msg
}

// Free cancels any outstanding submission, waits for it as [Operation.Wait]
// does, and releases the operation. Later submissions fail with [ErrFreed].
// Free is idempotent.
func (op *Operation) Free() {
	op.mu.Lock()
	op.freed = true
	if op.busy && op.cancel != nil {
		op.cancel()
	}
	for op.busy || op.completing > 0 {
		op.idle.Wait()
	}
	if op.msg != nil {
		op.msg.Free()
		op.msg = nil
	}
	op.mu.Unlock()
}
