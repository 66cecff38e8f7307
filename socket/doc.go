// Package socket is a thin layer over mangos sockets, presenting them the way
// nng does: numeric handles issued by a [Table], option names such as
// "recv-timeout" and "sub:subscribe", and errors carrying nng error numbers.
//
// The inproc, ipc and tcp transports are registered on import.
//
// Receives take a context and can be canceled, which the continuous receive
// machinery relies on to stop a subscription promptly.
package socket
