package haltty

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// stoppedStatus fabricates the wait(2) encoding for "stopped by sig" on
// Linux, where WaitStatus is the raw status word: WIFSTOPPED is
// ((status & 0xff) == 0x7f) and WSTOPSIG is (status >> 8) & 0xff.
func stoppedStatus(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(int(sig)<<8 | 0x7f)
}

func TestCheckForeignStopAcceptsSIGTTIN(t *testing.T) {
	jc := &jobControl{}
	resolved, isStop := jc.checkForeignStop(stoppedStatus(unix.SIGTTIN))
	if !isStop {
		t.Fatal("checkForeignStop: expected isStop=true for a stopped status")
	}
	if resolved {
		t.Fatal("checkForeignStop: SIGTTIN should not resolve to ready")
	}
	if jc.foreignStopStreak != 0 {
		t.Fatalf("foreignStopStreak = %d, want 0 after a SIGTTIN stop", jc.foreignStopStreak)
	}
}

func TestCheckForeignStopEscalatesAfterRetries(t *testing.T) {
	jc := &jobControl{}
	for i := 0; i < maxForeignStopRetries-1; i++ {
		resolved, isStop := jc.checkForeignStop(stoppedStatus(unix.SIGTSTP))
		if !isStop || resolved {
			t.Fatalf("iteration %d: got (resolved=%v, isStop=%v), want (false, true)", i, resolved, isStop)
		}
	}
	resolved, isStop := jc.checkForeignStop(stoppedStatus(unix.SIGTSTP))
	if !isStop || !resolved {
		t.Fatalf("final iteration: got (resolved=%v, isStop=%v), want (true, true)", resolved, isStop)
	}
}

func TestCheckForeignStopResetsStreakOnSIGTTIN(t *testing.T) {
	jc := &jobControl{}
	jc.checkForeignStop(stoppedStatus(unix.SIGTSTP))
	jc.checkForeignStop(stoppedStatus(unix.SIGTSTP))
	if jc.foreignStopStreak != 2 {
		t.Fatalf("foreignStopStreak = %d, want 2", jc.foreignStopStreak)
	}
	jc.checkForeignStop(stoppedStatus(unix.SIGTTIN))
	if jc.foreignStopStreak != 0 {
		t.Fatalf("foreignStopStreak = %d, want 0 after SIGTTIN resets it", jc.foreignStopStreak)
	}
}

func TestHasPendingInput(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	jc := &jobControl{ptyFD: int(r.Fd())}

	pending, err := jc.hasPendingInput()
	if err != nil {
		t.Fatalf("hasPendingInput (empty): %v", err)
	}
	if pending {
		t.Fatal("hasPendingInput: reported pending data on an empty pipe")
	}

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("write to pipe: %v", err)
	}

	pending, err = jc.hasPendingInput()
	if err != nil {
		t.Fatalf("hasPendingInput (after write): %v", err)
	}
	if !pending {
		t.Fatal("hasPendingInput: did not report pending data after a write")
	}
}
