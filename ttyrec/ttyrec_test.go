package ttyrec_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/x-qdo/haltty/ttyrec"
)

// ExampleEncoder shows how a haltty Session hands its recv() output to an
// Encoder: every non-empty chunk becomes one replayable frame.
func ExampleEncoder() {
	var buf bytes.Buffer
	enc := ttyrec.NewEncoder(&buf)

	for _, chunk := range [][]byte{[]byte("$ "), []byte("uname -a\n"), []byte("Linux\n")} {
		enc.Write(chunk)
	}
}

// ExampleDecoder shows draining a recorded transcript frame by frame.
func ExampleDecoder() {
	var buf bytes.Buffer
	ttyrec.NewEncoder(&buf).Write([]byte("hello\n"))

	dec := ttyrec.NewDecoder(&buf)
	frame, err := dec.DecodeFrame()
	if err != nil {
		panic(err)
	}
	_ = frame.Data // "hello\n"
}

func TestTimeValSet(t *testing.T) {
	cases := map[string]struct {
		d    time.Duration
		want ttyrec.TimeVal
	}{
		"zero":               {0, ttyrec.TimeVal{}},
		"one microsecond":    {time.Microsecond, ttyrec.TimeVal{Seconds: 0, MicroSeconds: 1}},
		"one second":         {time.Second, ttyrec.TimeVal{Seconds: 1, MicroSeconds: 0}},
		"second plus micro":  {time.Second + time.Microsecond, ttyrec.TimeVal{Seconds: 1, MicroSeconds: 1}},
		"nanosecond rounded": {9876543210 * time.Nanosecond, ttyrec.TimeVal{Seconds: 9, MicroSeconds: 876543}},
		"large microseconds": {1234567890 * time.Microsecond, ttyrec.TimeVal{Seconds: 1234, MicroSeconds: 567890}},
		"negative clamps":    {-time.Hour, ttyrec.TimeVal{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var got ttyrec.TimeVal
			got.Set(tc.d)
			if got != tc.want {
				t.Errorf("Set(%s) = %+v, want %+v", tc.d, got, tc.want)
			}
		})
	}
}

func TestTimeValSub(t *testing.T) {
	cases := []struct {
		name string
		a, b ttyrec.TimeVal
		want time.Duration
	}{
		{"equal", ttyrec.TimeVal{}, ttyrec.TimeVal{}, 0},
		{"one second apart", ttyrec.TimeVal{Seconds: 2, MicroSeconds: 1}, ttyrec.TimeVal{Seconds: 1, MicroSeconds: 1}, time.Second},
		{"mixed", ttyrec.TimeVal{Seconds: 1234, MicroSeconds: 567890}, ttyrec.TimeVal{Seconds: 123, MicroSeconds: 456789},
			1111*time.Second + 111101*time.Microsecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Sub(tc.b); got != tc.want {
				t.Errorf("%+v.Sub(%+v) = %s, want %s", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
