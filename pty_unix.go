//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package haltty

import (
	"os"

	"github.com/creack/pty"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// winsize is the pty layer's window-size primitive (spec.md §4.4 leaves it
// out of scope for the sync engine itself, but the driver owns the master
// and has to be able to call it).
type winsize struct {
	cols, rows uint16
}

// openPTY allocates a master/slave pty pair sized to ws.
func openPTY(ws winsize) (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, errors.Wrap(err, "haltty: open pty")
	}
	if ws.cols == 0 {
		ws.cols = 80
	}
	if ws.rows == 0 {
		ws.rows = 24
	}
	if err := pty.Setsize(master, &pty.Winsize{Cols: ws.cols, Rows: ws.rows}); err != nil {
		master.Close()
		slave.Close()
		return nil, nil, errors.Wrap(err, "haltty: set initial pty size")
	}
	return master, slave, nil
}

// setRawMode disables canonical mode, echo, and signal generation on fd so
// bytes pass through the line discipline verbatim, per spec.md §4.4.
func setRawMode(fd int) error {
	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return errors.Wrap(err, "haltty: get termios")
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, termios); err != nil {
		return errors.Wrap(err, "haltty: set termios")
	}
	return nil
}

// tcgetpgrp and tcsetpgrp are exposed through the TIOCGPGRP/TIOCSPGRP
// ioctls rather than any dedicated syscall — golang.org/x/sys/unix doesn't
// wrap job-control pgrp changes any more directly than this.
func tcgetpgrp(fd int) (int, error) {
	pgid, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	if err != nil {
		return 0, errors.Wrap(err, "haltty: tcgetpgrp")
	}
	return pgid, nil
}

func tcsetpgrp(fd, pgid int) error {
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid); err != nil {
		return errors.Wrap(err, "haltty: tcsetpgrp")
	}
	return nil
}
