//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package haltty

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA

	// initialLag is coarser on BSD: a backgrounded process charged for a
	// read is held for roughly half a second by the kernel per attempt
	// (spec.md §4.2 rationale), so starting finer just burns retries.
	initialLag = 150 * time.Millisecond
)

// bsdKick momentarily perturbs VMIN and sets it back, per spec.md §4.2
// step 6. On BSD-family kernels a process already blocked in a tty read
// when it was backgrounded does not otherwise get re-evaluated for
// "stopped on tty input" by the SIGCONT/SIGSTOP dance alone; any termios
// write wakes blocked readers so the kernel re-checks their eligibility.
func bsdKick(fd int) error {
	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return errors.Wrap(err, "haltty: bsd kick: get termios")
	}
	original := termios.Cc[unix.VMIN]

	termios.Cc[unix.VMIN] = original + 1
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, termios); err != nil {
		return errors.Wrap(err, "haltty: bsd kick: perturb termios")
	}

	termios.Cc[unix.VMIN] = original
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, termios); err != nil {
		return errors.Wrap(err, "haltty: bsd kick: restore termios")
	}
	return nil
}
