// Package netio implements non-blocking TCP listeners and connections on top
// of a [cosched.Scheduler], with blocking-style methods that suspend the
// calling task (rather than the OS thread) until the socket is ready.
//
// Listeners, and the connections they produce, belong to the scheduler they
// were created with, and must only be used from its tasks, or its main
// context.
package netio
