package haltty

import (
	"io"

	"github.com/x-qdo/haltty/ttyrec"
)

// recordingHook timestamps and frames every byte slice recv hands back, in
// the ttyrec wire format, mirroring the teacher's Recorder shape
// (packages/tty/option.go's WithTtyRecording) but scoped to the
// half-duplex read buffer rather than a live passthrough stream.
type recordingHook struct {
	enc *ttyrec.Encoder
}

func newRecordingHook(w io.Writer) *recordingHook {
	return &recordingHook{enc: ttyrec.NewEncoder(w)}
}

func (h *recordingHook) record(chunk []byte) error {
	if h == nil || len(chunk) == 0 {
		return nil
	}
	_, err := h.enc.Write(chunk)
	return err
}
