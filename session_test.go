package haltty

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestMain lets the compiled test binary itself serve as the re-exec
// target for the stub and slave-prep roles, exactly as any other haltty
// embedding binary must call Init() first.
func TestMain(m *testing.M) {
	Init()
	os.Exit(m.Run())
}

func mockSlavePath(t *testing.T) string {
	t.Helper()
	abs, err := filepath.Abs(filepath.Join("testdata", "mock_slave.sh"))
	if err != nil {
		t.Fatalf("resolve mock slave path: %v", err)
	}
	return abs
}

func spawnMock(t *testing.T, script string) *Session {
	t.Helper()
	confirm := filepath.Join(t.TempDir(), "confirm.log")
	if err := os.WriteFile(confirm, nil, 0o644); err != nil {
		t.Fatalf("create confirm file: %v", err)
	}
	sess, err := Spawn([]string{mockSlavePath(t), filepath.Join("testdata", script), confirm})
	if err != nil {
		t.Fatalf("Spawn(%s): %v", script, err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func recvWithTimeout(t *testing.T, sess *Session, d time.Duration) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	out, err := sess.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	return out
}

// Scenario 1: functional success (spec.md §8).
func TestScenarioFunctionalSuccess(t *testing.T) {
	sess := spawnMock(t, "scenario1_success.script")

	out := recvWithTimeout(t, sess, 5*time.Second)
	if string(out) != "2" {
		t.Fatalf("first recv = %q, want %q", out, "2")
	}

	if _, err := sess.Write([]byte("3\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out = recvWithTimeout(t, sess, 5*time.Second)
	if string(out) != "" {
		t.Fatalf("second recv = %q, want empty", out)
	}
}

// Scenario 2: laggy write (spec.md §8) — a one-second sleep between two
// prints must not cause recv to return early.
func TestScenarioLaggyWrite(t *testing.T) {
	sess := spawnMock(t, "scenario2_laggy_write.script")

	out := recvWithTimeout(t, sess, 5*time.Second)
	if string(out) != "45" {
		t.Fatalf("recv = %q, want %q", out, "45")
	}
}

// Scenario 3: a spurious stop from a non-blocking read attempt must be
// re-stepped by the backoff loop rather than truncating the response.
func TestScenarioNonBlockingReadFalsePositive(t *testing.T) {
	sess := spawnMock(t, "scenario3_false_positive.script")

	out := recvWithTimeout(t, sess, 5*time.Second)
	if string(out) != "67" {
		t.Fatalf("recv = %q, want %q", out, "67")
	}
}

// Scenario 4: death during recv.
func TestScenarioDeathDuringRecv(t *testing.T) {
	sess := spawnMock(t, "scenario4_death.script")

	if !sess.IsActive() {
		t.Fatal("IsActive() before recv = false, want true")
	}

	out := recvWithTimeout(t, sess, 5*time.Second)
	if string(out) != "8" {
		t.Fatalf("recv = %q, want %q", out, "8")
	}

	// The death record may arrive either alongside the final output or on
	// a subsequent recv, depending on scheduling; drain until inactive.
	for i := 0; i < 3 && sess.IsActive(); i++ {
		recvWithTimeout(t, sess, 2*time.Second)
	}
	if sess.IsActive() {
		t.Fatal("IsActive() after slave exit = true, want false")
	}

	out = recvWithTimeout(t, sess, time.Second)
	if len(out) != 0 {
		t.Fatalf("recv after death = %q, want empty", out)
	}
}

// Scenario 5: reuse — after one session is killed, spawning a new one on
// a fresh driver still round-trips correctly.
func TestScenarioReuse(t *testing.T) {
	first := spawnMock(t, "scenario1_success.script")
	out := recvWithTimeout(t, first, 5*time.Second)
	if string(out) != "2" {
		t.Fatalf("first session recv = %q, want %q", out, "2")
	}
	if _, err := first.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	second := spawnMock(t, "scenario1_success.script")
	out = recvWithTimeout(t, second, 5*time.Second)
	if string(out) != "2" {
		t.Fatalf("second session recv = %q, want %q", out, "2")
	}
}

// Scenario 6: an output-flush ioctl during a non-empty input buffer must
// not be misread as an input block.
func TestScenarioTerminalIoctlWithPendingInput(t *testing.T) {
	sess := spawnMock(t, "scenario6_pending_input.script")

	if _, err := sess.Write([]byte("\n\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := recvWithTimeout(t, sess, 5*time.Second)
	if string(out) != "10" {
		t.Fatalf("recv = %q, want %q", out, "10")
	}
}

// Idempotence of empty step: recv immediately after recv with no
// intervening write returns nothing new.
func TestRecvIdempotentWithoutWrite(t *testing.T) {
	sess := spawnMock(t, "scenario1_success.script")

	out := recvWithTimeout(t, sess, 5*time.Second)
	if string(out) != "2" {
		t.Fatalf("first recv = %q, want %q", out, "2")
	}

	out = recvWithTimeout(t, sess, 2*time.Second)
	if len(out) != 0 {
		t.Fatalf("recv with no intervening write = %q, want empty", out)
	}
}
