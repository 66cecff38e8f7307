package socket

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.nanomsg.org/mangos/v3"
)

// Code is an nng error number. It implements error, so that
// errors.Is(err, socket.ECLOSED) matches any [*Error] carrying that code.
type Code int

// Error numbers, using the values nng assigns them.
const (
	EINTR        Code = 1
	ENOMEM       Code = 2
	EINVAL       Code = 3
	EBUSY        Code = 4
	ETIMEDOUT    Code = 5
	ECONNREFUSED Code = 6
	ECLOSED      Code = 7
	EAGAIN       Code = 8
	ENOTSUP      Code = 9
	EADDRINUSE   Code = 10
	ESTATE       Code = 11
	ENOENT       Code = 12
	EPROTO       Code = 13
	EUNREACHABLE Code = 14
	EADDRINVAL   Code = 15
	EPERM        Code = 16
	EMSGSIZE     Code = 17
	ECONNABORTED Code = 18
	ECONNRESET   Code = 19
	ECANCELED    Code = 20
	ECRYPTO      Code = 26
	EBADTYPE     Code = 30
	EINTERNAL    Code = 1000
)

var codeText = map[Code]string{
	EINTR:        "Interrupted",
	ENOMEM:       "Out of memory",
	EINVAL:       "Invalid argument",
	EBUSY:        "Resource busy",
	ETIMEDOUT:    "Timed out",
	ECONNREFUSED: "Connection refused",
	ECLOSED:      "Object closed",
	EAGAIN:       "Try again",
	ENOTSUP:      "Not supported",
	EADDRINUSE:   "Address in use",
	ESTATE:       "Incorrect state",
	ENOENT:       "Entry not found",
	EPROTO:       "Protocol error",
	EUNREACHABLE: "Destination unreachable",
	EADDRINVAL:   "Address invalid",
	EPERM:        "Permission denied",
	EMSGSIZE:     "Message too large",
	ECONNABORTED: "Connection aborted",
	ECONNRESET:   "Connection reset",
	ECANCELED:    "Operation canceled",
	ECRYPTO:      "Cryptographic error",
	EBADTYPE:     "Incorrect type",
	EINTERNAL:    "Internal error detected",
}

// Error returns the nng description of the code.
func (c Code) Error() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return "Unknown error #" + strconv.Itoa(int(c))
}

// Error is returned by every fallible [Socket] and [Table] operation.
type Error struct {
	// Err is the underlying cause, usually a mangos error.
	Err error
	// Op names the operation that failed, e.g. "recv" or "dial".
	Op string
	// Code is the nng error number Err maps to.
	Code Code
}

// Error formats the error the same way for every operation, so that
// host-language callers see a stable message.
func (e *Error) Error() string {
	return fmt.Sprintf("NNG Error: %s (%d)", e.Code.Error(), int(e.Code))
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the [Code] of this error.
func (e *Error) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.Code
}

// ErrInvalidHandle is returned for operations on a handle that was never
// opened or has already been closed.
var ErrInvalidHandle = &Error{Op: "lookup", Code: ECLOSED, Err: errors.New("socket: invalid handle")}

// ErrRecvNotSupported is returned when receiving on a send-only protocol.
var ErrRecvNotSupported = &Error{Op: "recv", Code: ENOTSUP, Err: mangos.ErrProtoOp}

// CodeOf returns the nng error number for err, or 0 if err is nil.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return codeFor(err)
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Op: op, Code: codeFor(err), Err: err}
}

func codeFor(err error) Code {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, mangos.ErrCanceled):
		return ECANCELED
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, mangos.ErrRecvTimeout),
		errors.Is(err, mangos.ErrSendTimeout):
		return ETIMEDOUT
	case errors.Is(err, mangos.ErrClosed):
		return ECLOSED
	case errors.Is(err, mangos.ErrConnRefused):
		return ECONNREFUSED
	case errors.Is(err, mangos.ErrAddrInUse):
		return EADDRINUSE
	case errors.Is(err, mangos.ErrBadAddr):
		return EADDRINVAL
	case errors.Is(err, mangos.ErrProtoState):
		return ESTATE
	case errors.Is(err, mangos.ErrNoPeers):
		return EUNREACHABLE
	case errors.Is(err, mangos.ErrBadValue):
		return EINVAL
	case errors.Is(err, mangos.ErrTooLong):
		return EMSGSIZE
	case errors.Is(err, mangos.ErrTooShort),
		errors.Is(err, mangos.ErrGarbled),
		errors.Is(err, mangos.ErrBadHeader),
		errors.Is(err, mangos.ErrBadVersion):
		return EPROTO
	case errors.Is(err, mangos.ErrTLSNoConfig), errors.Is(err, mangos.ErrTLSNoCert):
		return ECRYPTO
	case errors.Is(err, mangos.ErrBadOption),
		errors.Is(err, mangos.ErrBadProperty),
		errors.Is(err, mangos.ErrBadTran),
		errors.Is(err, mangos.ErrBadProto),
		errors.Is(err, mangos.ErrProtoOp),
		errors.Is(err, mangos.ErrNotRaw),
		errors.Is(err, mangos.ErrNoContext):
		return ENOTSUP
	default:
		return EINTERNAL
	}
}
