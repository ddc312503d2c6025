package ttyrec

import (
	"encoding/binary"
	"io"
	"time"
)

// Encoder frames every non-empty Write as one ttyrec record, timestamped
// relative to the moment the Encoder was created.
type Encoder struct {
	w     io.Writer
	start time.Time
}

// NewEncoder returns an Encoder writing to w. The clock starts at the first
// call to NewEncoder, not the first Write.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, start: time.Now()}
}

// Write emits one frame containing p, timestamped against the Encoder's
// start time. Empty writes are a no-op (n=0, err=nil) since a zero-length
// frame carries no replayable information.
func (e *Encoder) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	var tv TimeVal
	tv.Set(time.Since(e.start))

	var header [12]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(tv.Seconds))
	binary.LittleEndian.PutUint32(header[4:8], uint32(tv.MicroSeconds))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(p)))

	if _, err := e.w.Write(header[:]); err != nil {
		return 0, err
	}
	n, err := e.w.Write(p)
	return n, err
}
