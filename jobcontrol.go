package haltty

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// maxForeignStopRetries bounds how many times in a row checkForeignStop
// tolerates the slave stopping for a signal other than SIGTTIN/SIGSTOP
// before it stops treating the streak as noteworthy (see checkForeignStop;
// crossing this threshold does not by itself resolve a step, it only warns
// and resets the streak). The actual bound on how long a single "s"
// request may retry is maxStepElapsed in runStep.
const maxForeignStopRetries = 8

// maxStepElapsed bounds how long runStep's backoff loop may retry a single
// "s" request before giving up and reporting the slave ready anyway. This
// is spec.md §9's Open Question resolution in concrete form ("a stopped
// child must never hang the driver forever"): checkForeignStop's own
// escalation only resets its streak counter and logs a warning, so without
// this independent cap a slave that keeps getting stopped by some foreign
// signal while step 8 also keeps finding pending input would retry
// forever. 30s comfortably exceeds any legitimate single interaction.
const maxStepElapsed = 30 * time.Second

// stepOutcome is the result of one pass through jobControl.step.
type stepOutcome int

const (
	stepBusy stepOutcome = iota
	stepReady
	stepDied
)

// jobControl runs the stub side of the synchronization algorithm from
// spec.md §4.2 against a pty file descriptor pair: ptyFD is the stub's own
// fd 0 (the pty slave end, used both for the foreground ioctls and for the
// step-8 pending-input poll), and slavePID/slavePGID identify the child.
type jobControl struct {
	ptyFD     int
	stubPID   int
	slavePID  int
	slavePGID int

	foreignStopStreak int

	// warn reports a foreign-stop escalation. Left nil in unit tests that
	// build a jobControl literal directly; newJobControl wires it to the
	// stub's stderr.
	warn func(string)
}

func newJobControl(ptyFD, stubPID, slavePID int) *jobControl {
	return &jobControl{
		ptyFD:     ptyFD,
		stubPID:   stubPID,
		slavePID:  slavePID,
		slavePGID: slavePID, // slave is its own process group leader
	}
}

// runStep drives the backoff loop for a single "s" request: retry step
// with an exponentially growing lag until it reports the slave ready or
// dead, or until maxStepElapsed has passed since the request started, at
// which point it reports ready unconditionally so the caller is never left
// waiting indefinitely. It returns the terminal outcome and, on death, the
// wait status.
func (jc *jobControl) runStep(attempts *int) (stepOutcome, unix.WaitStatus, error) {
	lag := initialLag
	deadline := time.Now().Add(maxStepElapsed)
	for {
		if attempts != nil {
			*attempts++
		}
		outcome, status, err := jc.step(lag)
		if err != nil {
			return stepBusy, status, err
		}
		if outcome != stepBusy {
			return outcome, status, nil
		}
		if !time.Now().Before(deadline) {
			if jc.warn != nil {
				jc.warn(fmt.Sprintf("slave %d still busy after %s, reporting ready anyway", jc.slavePID, maxStepElapsed))
			}
			return stepReady, status, nil
		}
		lag = time.Duration(float64(lag) * 1.5)
	}
}

// step implements spec.md §4.2's numbered algorithm. Precondition: the
// slave is stopped and backgrounded (the stub holds pty foreground).
func (jc *jobControl) step(lag time.Duration) (stepOutcome, unix.WaitStatus, error) {
	// 1. Grant foreground to the slave.
	if err := tcsetpgrp(jc.ptyFD, jc.slavePGID); err != nil {
		return stepBusy, 0, errors.Wrap(err, "haltty: step: grant foreground")
	}

	// 2. Continue the slave. ESRCH here means the slave already exited on
	// its own between steps; fall through to wait, which will pick up
	// its exit status.
	if err := unix.Kill(-jc.slavePGID, unix.SIGCONT); err != nil && err != unix.ESRCH {
		return stepBusy, 0, errors.Wrap(err, "haltty: step: continue slave")
	}

	// 3. Sleep for lag.
	time.Sleep(lag)

	// 4. Stop the slave and wait for it.
	if err := unix.Kill(-jc.slavePGID, unix.SIGSTOP); err != nil && err != unix.ESRCH {
		return stepBusy, 0, errors.Wrap(err, "haltty: step: stop slave")
	}
	status, err := jc.wait()
	if err != nil {
		return stepBusy, 0, err
	}
	if status.Exited() || status.Signaled() {
		return stepDied, status, nil
	}
	if resolved, ok := jc.checkForeignStop(status); !ok {
		return stepBusy, 0, nil
	} else if resolved && jc.warn != nil {
		jc.warn(fmt.Sprintf("slave %d stopped by a non-SIGTTIN signal %d times in a row", jc.slavePID, maxForeignStopRetries))
	}
	// Whether this stop was the expected SIGTTIN/SIGSTOP or a foreign
	// signal (tolerated or escalated), the outcome is decided the same
	// way: reclaim foreground and run the step-8 pending-input check
	// below. Escalating past maxForeignStopRetries must not shortcut that
	// check — a slave that still has unread input queued is not ready
	// just because it stopped for the "wrong" reason; runStep's own
	// maxStepElapsed cap is what bounds worst-case retry time.

	// 5. Take back foreground.
	if err := tcsetpgrp(jc.ptyFD, jc.stubPID); err != nil {
		return stepBusy, 0, errors.Wrap(err, "haltty: step: reclaim foreground")
	}
	if err := unix.Kill(-jc.slavePGID, unix.SIGCONT); err != nil && err != unix.ESRCH {
		return stepBusy, 0, errors.Wrap(err, "haltty: step: re-continue slave")
	}

	// 6. BSD kick.
	if err := bsdKick(jc.ptyFD); err != nil {
		return stepBusy, 0, errors.Wrap(err, "haltty: step: bsd kick")
	}

	// 7. Wait for the stop again.
	status, err = jc.wait()
	if err != nil {
		return stepBusy, 0, err
	}
	if status.Exited() || status.Signaled() {
		return stepDied, status, nil
	}
	if resolved, ok := jc.checkForeignStop(status); !ok {
		return stepBusy, 0, nil
	} else if resolved && jc.warn != nil {
		jc.warn(fmt.Sprintf("slave %d stopped by a non-SIGTTIN signal %d times in a row", jc.slavePID, maxForeignStopRetries))
	}

	// 8. Disambiguate: is there unread input waiting on the pty slave end?
	pending, err := jc.hasPendingInput()
	if err != nil {
		return stepBusy, 0, err
	}
	if pending {
		return stepBusy, status, nil
	}
	return stepReady, status, nil
}

// wait blocks for the slave to exit or stop, per spec.md §4.2 steps 4/7.
func (jc *jobControl) wait() (unix.WaitStatus, error) {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(jc.slavePID, &status, unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "haltty: waitpid")
		}
		return status, nil
	}
}

// checkForeignStop tracks stops caused by a signal other than SIGTTIN or
// SIGSTOP: the streak resets on a genuine SIGTTIN/SIGSTOP stop and
// otherwise grows, wrapping back to zero once it crosses
// maxForeignStopRetries. Crossing the threshold (resolved=true) is purely
// informational — step logs it via jc.warn but still runs the step-8
// pending-input check before deciding readiness, so a foreign stop can
// never itself produce a false "ready" while input is genuinely queued.
// The actual guarantee that a request can't retry forever comes from
// runStep's independent maxStepElapsed cap. The second return value is
// false when the status is not a stop at all (should not happen given the
// caller already ruled out exit/signal termination).
func (jc *jobControl) checkForeignStop(status unix.WaitStatus) (resolved bool, isStop bool) {
	if !status.Stopped() {
		return false, false
	}
	sig := status.StopSignal()
	if sig == unix.SIGTTIN || sig == unix.SIGSTOP {
		jc.foreignStopStreak = 0
		return false, true
	}
	jc.foreignStopStreak++
	if jc.foreignStopStreak >= maxForeignStopRetries {
		jc.foreignStopStreak = 0
		return true, true
	}
	return false, true
}

// hasPendingInput performs the zero-timeout poll on the pty slave end
// (the stub's own fd 0) that spec.md §4.2 step 8 calls a "zero-timeout
// select on fd 0".
func (jc *jobControl) hasPendingInput() (bool, error) {
	fds := []unix.PollFd{{Fd: int32(jc.ptyFD), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		if err == unix.EINTR {
			return jc.hasPendingInput()
		}
		return false, errors.Wrap(err, "haltty: poll pty slave for pending input")
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}
