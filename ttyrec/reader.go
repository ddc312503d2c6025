package ttyrec

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrIllegalSeek is returned by Decoder.SeekToFrame for requests that can
// never resolve to a valid frame index (a negative offset relative to the
// start or end of the stream).
var ErrIllegalSeek = errors.New("ttyrec: illegal seek")

// Decoder reads ttyrec frames from an underlying reader. If that reader
// also implements io.Seeker, SeekToFrame is available.
type Decoder struct {
	r       io.Reader
	frame   int
	offsets []int64
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Frame returns the number of frames decoded so far (equivalently, the
// index of the next frame DecodeFrame will return).
func (d *Decoder) Frame() int {
	return d.frame
}

func (d *Decoder) seeker() (io.Seeker, error) {
	s, ok := d.r.(io.Seeker)
	if !ok {
		return nil, errors.New("ttyrec: underlying reader does not support seeking")
	}
	return s, nil
}

func (d *Decoder) currentOffset() (int64, error) {
	s, err := d.seeker()
	if err != nil {
		return 0, err
	}
	return s.Seek(0, io.SeekCurrent)
}

// DecodeFrame reads and returns the next frame.
func (d *Decoder) DecodeFrame() (*Frame, error) {
	var start int64
	if s, err := d.seeker(); err == nil {
		start, _ = s.Seek(0, io.SeekCurrent)
	}

	var header [12]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return nil, err
	}

	tv := TimeVal{
		Seconds:      int32(binary.LittleEndian.Uint32(header[0:4])),
		MicroSeconds: int32(binary.LittleEndian.Uint32(header[4:8])),
	}
	length := binary.LittleEndian.Uint32(header[8:12])

	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(d.r, data); err != nil {
			return nil, err
		}
	}

	d.offsets = append(d.offsets, start)
	d.frame++

	return &Frame{Time: tv, Data: data}, nil
}

// DecodeStream decodes frames in the background until EOF, an error, or the
// returned stop function is called. Callers must drain the channel (or call
// stop and drain until it closes) to avoid leaking the goroutine.
func (d *Decoder) DecodeStream() (<-chan *Frame, func()) {
	out := make(chan *Frame)
	done := make(chan struct{})
	var stopped bool

	go func() {
		defer close(out)
		for {
			frame, err := d.DecodeFrame()
			if err != nil {
				return
			}
			select {
			case out <- frame:
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
	}
	return out, stop
}

// SeekToFrame repositions the decoder so the next DecodeFrame call returns
// the frame at the given index, computed relative to whence
// (io.SeekStart, io.SeekCurrent, or io.SeekEnd). A negative offset relative
// to SeekStart or SeekEnd is always illegal; relative to SeekCurrent it is
// legal as long as the resulting index is not negative.
func (d *Decoder) SeekToFrame(offset int, whence int) error {
	var target int
	switch whence {
	case io.SeekStart:
		if offset < 0 {
			return ErrIllegalSeek
		}
		target = offset
	case io.SeekCurrent:
		target = d.frame + offset
	case io.SeekEnd:
		if offset < 0 {
			return ErrIllegalSeek
		}
		total, err := d.countFrames()
		if err != nil {
			return err
		}
		target = total + offset
	default:
		return ErrIllegalSeek
	}

	if target < 0 {
		return ErrIllegalSeek
	}
	return d.seekToIndex(target)
}

// countFrames scans forward to EOF to determine the total frame count, then
// restores the decoder's prior position.
func (d *Decoder) countFrames() (int, error) {
	savedFrame := d.frame
	savedOffsets := append([]int64(nil), d.offsets...)
	savedPos, err := d.currentOffset()
	if err != nil {
		return 0, err
	}

	for {
		if _, err := d.DecodeFrame(); err != nil {
			if err != io.EOF {
				return 0, err
			}
			break
		}
	}
	total := d.frame

	s, err := d.seeker()
	if err != nil {
		return 0, err
	}
	if _, err := s.Seek(savedPos, io.SeekStart); err != nil {
		return 0, err
	}
	d.frame = savedFrame
	d.offsets = savedOffsets

	return total, nil
}

func (d *Decoder) seekToIndex(target int) error {
	if target == d.frame {
		return nil
	}

	s, err := d.seeker()
	if err != nil {
		return err
	}

	if target < d.frame {
		if target >= len(d.offsets) {
			return errors.New("ttyrec: seek target out of range")
		}
		if _, err := s.Seek(d.offsets[target], io.SeekStart); err != nil {
			return err
		}
		d.frame = target
		d.offsets = d.offsets[:target]
		return nil
	}

	for d.frame < target {
		if _, err := d.DecodeFrame(); err != nil {
			return err
		}
	}
	return nil
}
