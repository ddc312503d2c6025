package ttyrec

import (
	"bytes"
	"testing"
	"time"
)

func TestEncoderFramesEachWrite(t *testing.T) {
	const gap = 30 * time.Millisecond

	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	chunks := []string{"$ whoami\n", "root\n", "$ exit\n"}
	for _, c := range chunks {
		n, err := enc.Write([]byte(c))
		if err != nil {
			t.Fatalf("write %q: %v", c, err)
		}
		if n != len(c) {
			t.Errorf("write %q: n = %d, want %d", c, n, len(c))
		}
		time.Sleep(gap)
	}

	dec := NewDecoder(&buf)
	var prev TimeVal
	for i, want := range chunks {
		frame, err := dec.DecodeFrame()
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if string(frame.Data) != want {
			t.Errorf("frame %d data = %q, want %q", i, frame.Data, want)
		}
		if i > 0 {
			// Successive frames are written gap apart, so each timestamp must
			// be later than the previous one; the exact gap is not checked
			// since the test runs under normal scheduling jitter.
			delay := frame.Time.Sub(prev)
			if delay <= 0 {
				t.Errorf("frame %d has non-increasing timestamp %+v", i, frame.Time)
			}
		}
		prev = frame.Time
	}
}

func TestEncoderSkipsEmptyWrites(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	n, err := enc.Write(nil)
	if err != nil {
		t.Fatalf("write nil: %v", err)
	}
	if n != 0 {
		t.Errorf("write nil: n = %d, want 0", n)
	}
	if buf.Len() != 0 {
		t.Errorf("empty write produced %d bytes of output, want 0", buf.Len())
	}
}
