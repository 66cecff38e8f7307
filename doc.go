// Package gojanng exposes nng style message sockets to JavaScript running in
// a [goja.Runtime] driven by a go-eventloop loop.
//
// The module is loaded with require, see [Require]:
//
//	const nng = require('nng');
//	const pull = nng.pull();
//	pull.listen('inproc://jobs');
//	pull.startRecv((err, data) => {
//	    if (err) { console.error(err.message, err.code); return; }
//	    console.log(data.toString());
//	});
//
// Sockets support listen, dial, send and recv (both returning promises),
// setOpt and getOpt with nng option names, startRecv, stopRecv and close.
// Dialer and Listener give explicit control over endpoints.
//
// startRecv registers a callback invoked for every message received, until
// stopRecv or close. It is backed by the receiver package: calling it again
// replaces the callback, and no callback runs after close returns. Errors
// carry the nng error number as their code property.
package gojanng
