package haltty

import (
	"context"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SignalWait is one (signal, wait-duration) pair in a kill policy, per
// spec.md §4.3's default [(SIGTERM, 3s), (SIGKILL, 3s)].
type SignalWait struct {
	Signal syscall.Signal
	Wait   time.Duration
}

// KillResult reports what happened during a Kill call.
type KillResult int

const (
	// KillAlreadyInactive means the session was already inactive on entry.
	KillAlreadyInactive KillResult = iota
	// KillExited means the slave exited during one of the waits.
	KillExited
	// KillSignalledStillAlive means every signal was delivered but the
	// slave was still alive when the last wait elapsed.
	KillSignalledStillAlive
)

// defaultKillPolicy is spec.md §4.3's default policy.
func defaultKillPolicy() []SignalWait {
	return []SignalWait{
		{Signal: syscall.SIGTERM, Wait: 3 * time.Second},
		{Signal: syscall.SIGKILL, Wait: 3 * time.Second},
	}
}

// kill implements spec.md §4.3's kill operation: for each pair, signal the
// slave's process group, then optionally wait for exit by polling recv.
func (s *Session) kill(ctx context.Context, pairs []SignalWait) (KillResult, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return KillAlreadyInactive, nil
	}
	pgid := s.slavePGID
	s.mu.Unlock()

	if len(pairs) == 0 {
		pairs = defaultKillPolicy()
	}

	for _, pair := range pairs {
		if err := unix.Kill(-pgid, pair.Signal); err != nil {
			return KillSignalledStillAlive, errors.Wrapf(err, "haltty: kill: signal %s", pair.Signal)
		}
		if pair.Wait <= 0 {
			continue
		}

		deadline := time.Now().Add(pair.Wait)
		for {
			s.mu.Lock()
			active := s.active
			s.mu.Unlock()
			if !active {
				return KillExited, nil
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			waitCtx, cancel := context.WithTimeout(ctx, remaining)
			_, _ = s.recvInternal(waitCtx)
			cancel()
		}
	}

	s.mu.Lock()
	stillActive := s.active
	s.mu.Unlock()
	if !stillActive {
		return KillExited, nil
	}
	return KillSignalledStillAlive, nil
}
