package haltty

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// runStubRole is the entry point for the haltty-stub reexec role. It never
// returns: it either blocks servicing control-pipe requests until the
// slave dies or the control pipe closes, then calls os.Exit.
//
// File descriptor layout inherited from Spawn (session.go): fd 0/1/2 are
// the pty slave, fd 3 is the read end of the control pipe, fd 4 is the
// write end of the info pipe. argv for the slave is os.Args[1:].
func runStubRole() {
	ctl := os.NewFile(3, "ctl-pipe")
	info := os.NewFile(4, "info-pipe")

	if err := runStub(ctl, info, os.Args[1:]); err != nil {
		// The stub has no one left to report to but its own stderr, which
		// is the pty slave; the driver observes our death via info-pipe
		// EOF instead.
		os.Stderr.WriteString("haltty-stub: " + err.Error() + "\n")
		os.Exit(1)
	}
	os.Exit(0)
}

func runStub(ctl, info *os.File, argv []string) error {
	// Step 1: ignore SIGTTOU so tcsetpgrp from a background stub (which we
	// briefly are, between granting and reclaiming foreground) never stops
	// us.
	signal.Ignore(unix.SIGTTOU)

	// Session leadership and controlling-terminal assignment already
	// happened as part of exec: the driver started us with
	// SysProcAttr{Setsid: true, Setctty: true} (session.go).
	stubPID := os.Getpid()

	slavePID, err := forkSlave(argv)
	if err != nil {
		return errors.Wrap(err, "haltty: stub: fork slave")
	}

	pidBuf := encodePid(slavePID)
	if _, err := info.Write(pidBuf[:]); err != nil {
		return errors.Wrap(err, "haltty: stub: write pid handshake")
	}

	// Step 4: wait for the slave's self-raised SIGSTOP so the driver can
	// assume the slave begins stopped and backgrounded.
	jc := newJobControl(0, stubPID, slavePID)
	jc.warn = func(msg string) { os.Stderr.WriteString("haltty-stub: " + msg + "\n") }
	status, err := jc.wait()
	if err != nil {
		return errors.Wrap(err, "haltty: stub: wait for initial stop")
	}
	if status.Exited() || status.Signaled() {
		rec := deathRecord(status)
		_, werr := info.Write(rec[:])
		return werr
	}
	if err := tcsetpgrp(0, stubPID); err != nil {
		return errors.Wrap(err, "haltty: stub: claim initial foreground")
	}

	return stubMainLoop(ctl, info, jc)
}

// stubMainLoop implements the state machine from spec.md §4.2: read one
// byte from the control pipe, run one full step-loop per byte, and report
// the outcome on the info pipe.
func stubMainLoop(ctl, info *os.File, jc *jobControl) error {
	var tag [1]byte
	for {
		n, err := ctl.Read(tag[:])
		if n == 0 || err != nil {
			// EOF or read error on the control pipe: the driver is gone.
			return nil
		}
		if tag[0] != ctlStep {
			continue
		}

		outcome, status, err := jc.runStep(nil)
		if err != nil {
			return err
		}

		switch outcome {
		case stepReady:
			if _, err := info.Write([]byte{infoReady}); err != nil {
				return errors.Wrap(err, "haltty: stub: write ready event")
			}
		case stepDied:
			rec := deathRecord(status)
			if _, err := info.Write(rec[:]); err != nil {
				return errors.Wrap(err, "haltty: stub: write death event")
			}
			return nil
		}
	}
}

// deathRecord renders a WaitStatus as spec.md §4.1's "d<sig><code>" record.
func deathRecord(status unix.WaitStatus) [3]byte {
	var sig, code byte
	if status.Signaled() {
		sig = byte(status.Signal())
	} else if status.Exited() {
		code = byte(status.ExitStatus())
	}
	return encodeDied(sig, code)
}

// forkSlave launches the slave-prep reexec role, which raises SIGSTOP on
// itself before exec'ing the real command. It runs in a new process group
// (spec.md §3: slave_pgid equals the slave's pid) but inherits the stub's
// session and controlling terminal, since Setsid is not requested here.
func forkSlave(argv []string) (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 0, errors.Wrap(err, "haltty: resolve self executable")
	}

	cmd := exec.Command(self, argv...)
	cmd.Args[0] = roleSlaveStop
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "haltty: start slave")
	}
	return cmd.Process.Pid, nil
}

// runSlaveStopRole is the entry point for the haltty-slave-stop reexec
// role: the Go-idiomatic stand-in for "fork, reset dispositions, raise
// SIGSTOP, exec" (spec.md §4.2 step 2), since Go cannot fork() and run
// arbitrary code before exec in the traditional way.
func runSlaveStopRole() {
	signal.Reset(unix.SIGCHLD, unix.SIGTTIN, unix.SIGTSTP, unix.SIGCONT)

	if err := unix.Kill(0, unix.SIGSTOP); err != nil {
		os.Stderr.WriteString("haltty-slave-stop: raise SIGSTOP: " + err.Error() + "\n")
		os.Exit(1)
	}

	argv := os.Args[1:]
	if len(argv) == 0 {
		os.Stderr.WriteString("haltty-slave-stop: no command given\n")
		os.Exit(1)
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		os.Stderr.WriteString("haltty-slave-stop: " + err.Error() + "\n")
		os.Exit(127)
	}
	if err := syscall.Exec(path, argv, os.Environ()); err != nil {
		os.Stderr.WriteString("haltty-slave-stop: exec: " + err.Error() + "\n")
		os.Exit(126)
	}
}
