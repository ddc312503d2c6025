// Package ttyrec implements the classic ttyrec frame format: a stream of
// (timestamp, length, data) records suitable for replaying a terminal
// session at its original pace. haltty uses it to give haltty.WithRecording
// a concrete, replayable transcript of everything a half-duplex recv()
// returned.
package ttyrec

import "time"

// TimeVal is the two-int32 (seconds, microseconds) timestamp used by the
// on-disk frame header, matching the layout ttyrec-compatible players
// expect.
type TimeVal struct {
	Seconds      int32
	MicroSeconds int32
}

// Set populates tv from d, clamping negative durations to the zero value.
func (tv *TimeVal) Set(d time.Duration) {
	if d < 0 {
		*tv = TimeVal{}
		return
	}
	tv.Seconds = int32(d / time.Second)
	tv.MicroSeconds = int32((d % time.Second) / time.Microsecond)
}

// Sub returns the duration between two timestamps, tv - other.
func (tv TimeVal) Sub(other TimeVal) time.Duration {
	secs := time.Duration(tv.Seconds-other.Seconds) * time.Second
	micros := time.Duration(tv.MicroSeconds-other.MicroSeconds) * time.Microsecond
	return secs + micros
}

// Frame is a single decoded record: the wall-clock offset at which it was
// written and the bytes captured at that moment.
type Frame struct {
	Time TimeVal
	Data []byte
}
