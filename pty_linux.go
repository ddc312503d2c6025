//go:build linux

package haltty

import (
	"time"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS

	// initialLag is the stub's first per-step sleep after continuing the
	// slave (spec.md §4.2). Linux backgrounded readers are noticed as soon
	// as the next scheduler tick observes them blocked, so a short sleep
	// is usually sufficient on the first attempt.
	initialLag = 20 * time.Millisecond
)

// bsdKick is a no-op on Linux: a process already blocked in a
// backgrounded tty read transitions to "stopped on tty input" as soon as
// it is stopped, without needing a termios perturbation first.
func bsdKick(fd int) error {
	return nil
}
