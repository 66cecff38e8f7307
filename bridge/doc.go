// Package bridge hands deliveries produced on arbitrary goroutines to a
// callback that must run on a single host goroutine, such as a goja runtime
// driven by an event loop.
//
// Dispatch never waits for the host: a delivery is queued, and a drain task
// is submitted to the host if one is not already pending. Deliveries for one
// bridge are invoked in dispatch order. A bridge is bound to exactly one
// callback for its lifetime; rebinding means releasing it and creating
// another.
package bridge
