// Package receiver implements continuous receive for sockets: a callback is
// registered once, and every message the socket subsequently receives is
// delivered to it on the host goroutine, through a [bridge.Bridge].
//
// Each socket with a subscription has a receive context holding one
// [aio.Operation]. The operation's completion handler copies the message,
// dispatches it, and resubmits, so exactly one receive is outstanding while
// the subscription is live. Canceled and closed results are terminal.
// Other errors are delivered as [*TransportError] and the loop continues,
// backing off while they repeat.
//
// Replacing a subscription and closing a socket both quiesce the context
// before touching the old callback: the outstanding receive is canceled and
// waited for, along with its completion handler. No delivery for the old
// callback is invoked once either returns.
package receiver

