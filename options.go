package haltty

import (
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws/session"
)

// Option follows the teacher's functional-option pattern
// (packages/tty/option.go's Option func(*ProxyTTY) error), generalized
// from the teacher's ProxyTTY to a Session.
type Option func(*Session) error

// WithEnv sets the environment the slave is exec'd with. Defaults to the
// driver process's own environment.
func WithEnv(env []string) Option {
	return func(s *Session) error {
		s.env = env
		return nil
	}
}

// WithWorkDir sets the slave's working directory.
func WithWorkDir(dir string) Option {
	return func(s *Session) error {
		s.workDir = dir
		return nil
	}
}

// WithWinsize sets the pty's initial size. Defaults to 80x24.
func WithWinsize(cols, rows uint16) Option {
	return func(s *Session) error {
		s.initialWinsize = winsize{cols: cols, rows: rows}
		return nil
	}
}

// WithRecording attaches a ttyrec transcript recorder over w: every chunk
// recv hands back is also framed and timestamped into w.
func WithRecording(w io.Writer) Option {
	return func(s *Session) error {
		s.recorder = newRecordingHook(w)
		return nil
	}
}

// WithArchival uploads the file at path to S3 once Close tears the session
// down, following the teacher's saveFileHandler pattern. Typically paired
// with WithRecording pointed at the same path.
func WithArchival(bucket, prefix, path string, awsSess *session.Session) Option {
	return func(s *Session) error {
		s.archiver = newArchiveHook(bucket, prefix, path, awsSess)
		return nil
	}
}

// WithKillPolicy overrides the default [(SIGTERM, 3s), (SIGKILL, 3s)]
// policy used by Close and by a bare Kill() call.
func WithKillPolicy(pairs ...SignalWait) Option {
	return func(s *Session) error {
		s.killPolicy = pairs
		return nil
	}
}

// WithLogger overrides the default discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}
