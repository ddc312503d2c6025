package haltty

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sys/unix"
)

// pollTick bounds how long a single wait-phase poll blocks before
// rechecking the caller's context, so Recv's deadline and cancellation are
// both honored without needing a poll primitive that understands
// context.Context directly.
const pollTick = 200 * time.Millisecond

// stubCrashDrainGrace is this implementation's resolution of spec.md §9's
// open question on BSD pty draining: block on pty EOF or this grace
// period, whichever comes first.
const stubCrashDrainGrace = 200 * time.Millisecond

// Session is one spawned driver/stub/slave triple, per spec.md §3.
type Session struct {
	mu sync.Mutex

	ptyMaster *os.File
	masterFD  int

	ctlWrite *os.File
	ctlFD    int

	infoRead *os.File
	infoFD   int

	stubPID   int
	slavePID  int
	slavePGID int
	reaped    bool

	writeBuf []byte
	readBuf  []byte
	sentSync bool
	active   bool
	closed   bool

	exitSig  int
	exitCode int

	env            []string
	workDir        string
	initialWinsize winsize
	recorder       *recordingHook
	archiver       *archiveHook
	killPolicy     []SignalWait
	logger         *slog.Logger
	metrics        *sessionMetrics
}

// Spawn allocates a pty, launches the stub (which in turn launches the
// slave), and blocks for the pid handshake, per spec.md §4.3.
func Spawn(argv []string, opts ...Option) (*Session, error) {
	if len(argv) == 0 {
		return nil, errors.New("haltty: spawn: argv must not be empty")
	}

	s := &Session{
		logger:  discardLogger(),
		metrics: newSessionMetrics(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "haltty: spawn: apply option")
		}
	}

	master, slave, err := openPTY(s.initialWinsize)
	if err != nil {
		return nil, err
	}
	s.ptyMaster = master
	s.masterFD = int(master.Fd())

	if err := setRawMode(s.masterFD); err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}
	if err := unix.SetNonblock(s.masterFD, true); err != nil {
		master.Close()
		slave.Close()
		return nil, errors.Wrap(err, "haltty: spawn: set pty master non-blocking")
	}

	ctlRead, ctlWrite, err := os.Pipe()
	if err != nil {
		master.Close()
		slave.Close()
		return nil, errors.Wrap(err, "haltty: spawn: open control pipe")
	}
	infoRead, infoWrite, err := os.Pipe()
	if err != nil {
		ctlRead.Close()
		ctlWrite.Close()
		master.Close()
		slave.Close()
		return nil, errors.Wrap(err, "haltty: spawn: open info pipe")
	}

	self, err := os.Executable()
	if err != nil {
		ctlRead.Close()
		ctlWrite.Close()
		infoRead.Close()
		infoWrite.Close()
		master.Close()
		slave.Close()
		return nil, errors.Wrap(err, "haltty: spawn: resolve self executable")
	}

	cmd := exec.Command(self, argv...)
	cmd.Args[0] = roleStub
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.ExtraFiles = []*os.File{ctlRead, infoWrite}
	cmd.Env = s.env
	cmd.Dir = s.workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	if err := cmd.Start(); err != nil {
		ctlRead.Close()
		ctlWrite.Close()
		infoRead.Close()
		infoWrite.Close()
		master.Close()
		slave.Close()
		return nil, errors.Wrap(err, "haltty: spawn: start stub")
	}

	// Parent closes the ends the child now owns.
	ctlRead.Close()
	infoWrite.Close()
	slave.Close()

	s.stubPID = cmd.Process.Pid
	s.ctlWrite = ctlWrite
	s.ctlFD = int(ctlWrite.Fd())
	s.infoRead = infoRead

	var pidBuf [4]byte
	n, err := io.ReadFull(infoRead, pidBuf[:])
	if err != nil {
		s.abortSpawn()
		return nil, errors.Wrapf(ErrShortHandshake, "read %d/4 bytes: %v", n, err)
	}
	slavePID, err := decodePid(pidBuf[:])
	if err != nil {
		s.abortSpawn()
		return nil, errors.Wrap(err, "haltty: spawn: decode pid handshake")
	}

	s.infoFD = int(infoRead.Fd())
	if err := unix.SetNonblock(s.infoFD, true); err != nil {
		s.abortSpawn()
		return nil, errors.Wrap(err, "haltty: spawn: set info pipe non-blocking")
	}

	s.slavePID = slavePID
	s.slavePGID = slavePID
	s.active = true
	return s, nil
}

// abortSpawn tears everything down after a failed handshake.
func (s *Session) abortSpawn() {
	if s.stubPID != 0 {
		_ = unix.Kill(s.stubPID, unix.SIGKILL)
		var status unix.WaitStatus
		_, _ = unix.Wait4(s.stubPID, &status, 0, nil)
	}
	if s.ctlWrite != nil {
		s.ctlWrite.Close()
	}
	if s.infoRead != nil {
		s.infoRead.Close()
	}
	if s.ptyMaster != nil {
		s.ptyMaster.Close()
	}
}

// Write appends p to the write buffer. It never blocks and never fails on
// an inactive session; per spec.md §7 that is a warning, not an error.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	if !s.active {
		warnInactive(s.logger, "write")
		return 0, nil
	}
	s.writeBuf = append(s.writeBuf, p...)
	return len(p), nil
}

// Recv drains the write buffer to the slave and blocks until it produces a
// full response and returns to waiting on its terminal, per spec.md §4.3.
func (s *Session) Recv(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	active := s.active
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if !active {
		warnInactive(s.logger, "recv")
		return nil, nil
	}
	return s.recvInternal(ctx)
}

func (s *Session) recvInternal(ctx context.Context) ([]byte, error) {
	start := time.Now()
	defer s.metrics.stepLatency.UpdateSince(start)

	for {
		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if !active {
			return s.takeReadBuffer(), nil
		}

		if err := s.sendPhase(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		if !s.sentSync && s.active {
			if _, err := unix.Write(s.ctlFD, []byte{ctlStep}); err != nil {
				s.mu.Unlock()
				return nil, errors.Wrap(err, "haltty: recv: issue sync")
			}
			s.sentSync = true
			s.metrics.stepAttempts.Mark(1)
		}
		s.mu.Unlock()

		timedOut, err := s.waitPhase(ctx)
		if err != nil {
			return nil, err
		}
		if timedOut {
			return nil, ErrRecvTimeout
		}

		s.mu.Lock()
		writePending := len(s.writeBuf) > 0
		active = s.active
		s.mu.Unlock()
		if writePending && active {
			continue
		}
		break
	}

	s.drainMasterUntilEmpty()

	buf := s.takeReadBuffer()
	s.metrics.bytesOut.Mark(int64(len(buf)))
	if s.recorder != nil {
		if err := s.recorder.record(buf); err != nil {
			s.logger.Warn("haltty: recording write failed", "error", err)
		}
	}
	return buf, nil
}

func (s *Session) takeReadBuffer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.readBuf
	s.readBuf = nil
	return buf
}

// sendPhase is spec.md §4.3 recv step 1: a non-blocking poll loop over pty
// readable, pty writable, and info readable, exiting when the write
// buffer empties or nothing is ready.
func (s *Session) sendPhase() error {
	for {
		s.mu.Lock()
		writeLen := len(s.writeBuf)
		s.mu.Unlock()

		pfds := []unix.PollFd{
			{Fd: int32(s.masterFD), Events: unix.POLLIN},
			{Fd: int32(s.infoFD), Events: unix.POLLIN},
		}
		writeIdx := -1
		if writeLen > 0 {
			pfds = append(pfds, unix.PollFd{Fd: int32(s.masterFD), Events: unix.POLLOUT})
			writeIdx = 2
		}

		n, err := unix.Poll(pfds, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "haltty: recv: send-phase poll")
		}
		if n == 0 {
			return nil
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			if err := s.drainMasterReadable(); err != nil {
				return err
			}
		}
		if writeIdx >= 0 && pfds[writeIdx].Revents&unix.POLLOUT != 0 {
			if err := s.drainWriteBuffer(); err != nil {
				return err
			}
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			if err := s.handleInfoEvent(); err != nil {
				return err
			}
		}

		s.mu.Lock()
		empty := len(s.writeBuf) == 0
		s.mu.Unlock()
		if empty {
			return nil
		}
	}
}

// waitPhase is spec.md §4.3 recv step 3: a blocking poll bounded by ctx,
// serviced until sentSync clears or the session dies.
func (s *Session) waitPhase(ctx context.Context) (timedOut bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return true, nil
		default:
		}

		timeoutMS := int(pollTick / time.Millisecond)
		if dl, ok := ctx.Deadline(); ok {
			remaining := time.Until(dl)
			if remaining <= 0 {
				return true, nil
			}
			if remaining < pollTick {
				timeoutMS = int(remaining/time.Millisecond) + 1
			}
		}

		pfds := []unix.PollFd{
			{Fd: int32(s.masterFD), Events: unix.POLLIN},
			{Fd: int32(s.infoFD), Events: unix.POLLIN},
		}
		n, perr := unix.Poll(pfds, timeoutMS)
		if perr != nil {
			if perr == unix.EINTR {
				continue
			}
			return false, errors.Wrap(perr, "haltty: recv: wait-phase poll")
		}
		if n == 0 {
			continue
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			if err := s.drainMasterReadable(); err != nil {
				return false, err
			}
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			if err := s.handleInfoEvent(); err != nil {
				return false, err
			}
		}

		s.mu.Lock()
		done := !s.sentSync || !s.active
		s.mu.Unlock()
		if done {
			return false, nil
		}
	}
}

// drainMasterUntilEmpty performs the final non-blocking drain in spec.md
// §4.3 recv step 5. It stops at the first read that yields no bytes (EOF,
// or EIO squashed to EOF), since a hung-up master keeps polling readable.
func (s *Session) drainMasterUntilEmpty() {
	for {
		pfds := []unix.PollFd{{Fd: int32(s.masterFD), Events: unix.POLLIN}}
		n, err := unix.Poll(pfds, 0)
		if err != nil || n == 0 {
			return
		}
		s.mu.Lock()
		before := len(s.readBuf)
		s.mu.Unlock()
		if err := s.drainMasterReadable(); err != nil {
			return
		}
		s.mu.Lock()
		grew := len(s.readBuf) > before
		s.mu.Unlock()
		if !grew {
			return
		}
	}
}

func (s *Session) drainMasterReadable() error {
	buf := make([]byte, 4096)
	n, err := unix.Read(s.masterFD, buf)
	if err != nil {
		switch err {
		case unix.EAGAIN:
			// spec.md §9 open question: EAGAIN on non-Linux means "no data
			// available right now", not an error.
			return nil
		case unix.EIO:
			// Linux: a pty master read races EIO once the session leader
			// exits; spec.md §7 squashes this to EOF.
			return nil
		}
		return errors.Wrap(err, "haltty: recv: read pty master")
	}
	if n == 0 {
		return nil
	}
	s.mu.Lock()
	s.readBuf = append(s.readBuf, buf[:n]...)
	s.mu.Unlock()
	return nil
}

func (s *Session) drainWriteBuffer() error {
	s.mu.Lock()
	if len(s.writeBuf) == 0 {
		s.mu.Unlock()
		return nil
	}
	data := s.writeBuf
	s.mu.Unlock()

	n, err := unix.Write(s.masterFD, data)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		return errors.Wrap(err, "haltty: recv: write pty master")
	}
	s.mu.Lock()
	s.writeBuf = s.writeBuf[n:]
	s.mu.Unlock()
	s.metrics.bytesIn.Mark(int64(n))
	return nil
}

// handleInfoEvent implements the "Event handler for info pipe" in
// spec.md §4.3.
func (s *Session) handleInfoEvent() error {
	var tag [1]byte
	n, err := unix.Read(s.infoFD, tag[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		return errors.Wrap(err, "haltty: recv: read info pipe")
	}
	if n == 0 {
		s.handleStubCrash()
		return nil
	}

	switch tag[0] {
	case infoReady:
		s.mu.Lock()
		s.sentSync = false
		s.mu.Unlock()
	case infoDied:
		rest := make([]byte, 2)
		if err := readFullFD(s.infoFD, rest); err != nil {
			return errors.Wrap(err, "haltty: recv: read death record")
		}
		s.mu.Lock()
		s.exitSig = int(rest[0])
		s.exitCode = int(rest[1])
		s.active = false
		s.sentSync = false
		s.mu.Unlock()
		s.reapStub(false)
	}
	return nil
}

// handleStubCrash is spec.md §4.3's "zero-length read (EOF)" case: the
// stub itself died without reporting a death record.
func (s *Session) handleStubCrash() {
	s.logger.Warn("haltty: info pipe closed without a death record", "error", ErrStubCrashed)
	s.drainPTYGracePeriod()
	s.reapStub(true)
	s.mu.Lock()
	s.active = false
	s.sentSync = false
	s.mu.Unlock()
}

// drainPTYGracePeriod resolves spec.md §9's open question on BSD: block on
// pty EOF or a short grace period, whichever comes first.
func (s *Session) drainPTYGracePeriod() {
	deadline := time.Now().Add(stubCrashDrainGrace)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		pfds := []unix.PollFd{{Fd: int32(s.masterFD), Events: unix.POLLIN}}
		n, err := unix.Poll(pfds, int(remaining/time.Millisecond)+1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			return
		}
		buf := make([]byte, 4096)
		read, err := unix.Read(s.masterFD, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return
		}
		if read == 0 {
			return
		}
		s.mu.Lock()
		s.readBuf = append(s.readBuf, buf[:read]...)
		s.mu.Unlock()
	}
}

// reapStub waits for the stub, filling exit_sig/exit_code from its status
// when fillExit is true and no death record already populated them
// (spec.md §7: "Stub crash" is handled best-effort from the stub's own
// termination status).
func (s *Session) reapStub(fillExit bool) {
	s.mu.Lock()
	if s.reaped {
		s.mu.Unlock()
		return
	}
	s.reaped = true
	pid := s.stubPID
	s.mu.Unlock()
	if pid == 0 {
		return
	}

	var status unix.WaitStatus
	_, err := unix.Wait4(pid, &status, 0, nil)
	if err != nil || !fillExit {
		return
	}

	s.mu.Lock()
	if s.exitSig == 0 && s.exitCode == 0 {
		if status.Signaled() {
			s.exitSig = int(status.Signal())
		} else if status.Exited() {
			s.exitCode = status.ExitStatus()
		}
	}
	s.mu.Unlock()
}

// readFullFD reads exactly len(buf) bytes from a non-blocking fd,
// polling between EAGAIN retries.
func readFullFD(fd int, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := unix.Read(fd, buf[read:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
				if _, perr := unix.Poll(pfd, -1); perr != nil && perr != unix.EINTR {
					return perr
				}
				continue
			}
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		read += n
	}
	return nil
}

// IsActive reports whether a slave is currently alive under this session.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Resize propagates a new terminal size to the pty master and forwards
// SIGWINCH to the slave's process group. Window-size propagation itself is
// out of scope for the synchronization engine (spec.md §1), but the driver
// owns the master and must expose the call; forwarding the signal
// explicitly, rather than relying on the kernel's usual auto-delivery to
// the foreground process group, matters here because the slave is only
// intermittently foregrounded by the job-control step loop and would
// otherwise miss resizes that land while it is backgrounded.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	master := s.ptyMaster
	pgid := s.slavePGID
	active := s.active
	s.mu.Unlock()
	if master == nil {
		return ErrSessionClosed
	}
	if err := pty.Setsize(master, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return errors.Wrap(err, "haltty: resize")
	}
	if active {
		if err := unix.Kill(-pgid, unix.SIGWINCH); err != nil && err != unix.ESRCH {
			s.logger.Warn("haltty: forward SIGWINCH to slave", "error", err)
		}
	}
	return nil
}

// Notify sends an arbitrary signal to the slave's process group. This is
// the generic form of the orthogonal SIGWINCH notification spec.md §5
// describes.
func (s *Session) Notify(sig syscall.Signal) error {
	s.mu.Lock()
	pgid := s.slavePGID
	active := s.active
	s.mu.Unlock()
	if !active {
		return ErrInactive
	}
	if err := unix.Kill(-pgid, sig); err != nil {
		return errors.Wrapf(err, "haltty: notify: signal %s", sig)
	}
	return nil
}

// Metrics exposes the session's go-metrics registry so a caller can wire
// it into their own reporting; haltty does not start any exporter itself.
func (s *Session) Metrics() metrics.Registry {
	return s.metrics.registry
}

// Kill implements spec.md §4.3's kill operation. With no pairs it uses the
// policy set by WithKillPolicy, or the default policy if none was set.
func (s *Session) Kill(pairs ...SignalWait) (KillResult, error) {
	if len(pairs) == 0 {
		s.mu.Lock()
		pairs = s.killPolicy
		s.mu.Unlock()
	}
	return s.kill(context.Background(), pairs)
}

// Close implements spec.md §4.3's close operation: default kill, then
// release the pty. Afterwards Write, Recv and Resize return
// ErrSessionClosed and a second Close returns nil; Kill, Notify, IsActive
// and Metrics do not check whether the session has been closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	policy := s.killPolicy
	s.mu.Unlock()

	_, killErr := s.kill(context.Background(), policy)

	s.mu.Lock()
	master := s.ptyMaster
	s.ptyMaster = nil
	s.mu.Unlock()
	var closeErr error
	if master != nil {
		closeErr = master.Close()
	}

	s.reapStub(true)

	var archiveErr error
	if s.archiver != nil {
		if err := s.archiver.upload(); err != nil {
			s.logger.Error("haltty: archive upload failed", "error", err)
			archiveErr = err
		}
	}

	if killErr != nil {
		return errors.Wrap(killErr, "haltty: close: kill")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "haltty: close: pty master")
	}
	return archiveErr
}
