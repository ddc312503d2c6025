// Package haltty drives an interactive, full-duplex terminal program as if
// it were a synchronous remote procedure: Write queues input, Recv blocks
// until the child has consumed everything and is once again waiting on its
// terminal, then returns whatever it produced in response as one chunk.
//
// Three processes cooperate for every Session: the caller's own process
// (the driver, this package), a small stub process that is the pty's
// session leader and owns all job-control decisions, and the slave — the
// user's command, running in its own process group, alternately
// foregrounded and stopped so the stub can tell when it has gone back to
// sleep waiting for tty input. See jobcontrol.go for the synchronization
// algorithm itself; it is the reason this package exists.
package haltty
