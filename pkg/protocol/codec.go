// ABOUTME: Newline-delimited JSON framing for TriggerSync transports
// ABOUTME: Provides Encoder, Decoder, and the byte-level frame Accumulator
package protocol

import (
	"fmt"
	"io"
)

// MaxLineLen is the longest frame either side will emit or accept,
// including the trailing newline. It matches the device's receive buffer.
const MaxLineLen = 512

// Accumulator reassembles newline-delimited frames from arbitrary byte
// chunks. A frame that outgrows the capacity is discarded through the
// next newline so the stream can resync on the following frame.
type Accumulator struct {
	buf      []byte
	capacity int
	overflow bool
	dropped  int
}

// NewAccumulator returns an accumulator holding frames up to capacity
// bytes including the newline. A capacity below 2 falls back to
// MaxLineLen.
func NewAccumulator(capacity int) *Accumulator {
	if capacity < 2 {
		capacity = MaxLineLen
	}
	return &Accumulator{
		buf:      make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Add consumes a chunk of bytes and returns the complete frames it
// finished, in order, without their newline. Returned slices are copies
// and remain valid after the next call.
func (a *Accumulator) Add(p []byte) [][]byte {
	var frames [][]byte

	for _, b := range p {
		if a.overflow {
			if b == '\n' {
				a.overflow = false
				a.dropped++
			}
			continue
		}

		if b == '\n' {
			frames = append(frames, a.take())
			continue
		}

		if len(a.buf)+1 >= a.capacity {
			// No room left for this byte plus a newline.
			a.buf = a.buf[:0]
			a.overflow = true
			continue
		}
		a.buf = append(a.buf, b)
	}

	return frames
}

// Dropped returns the number of frames discarded due to overflow.
func (a *Accumulator) Dropped() int { return a.dropped }

// take copies out the pending frame and resets the buffer. A trailing
// carriage return is stripped for peers that send CRLF.
func (a *Accumulator) take() []byte {
	line := a.buf
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	frame := make([]byte, len(line))
	copy(frame, line)
	a.buf = a.buf[:0]
	return frame
}

// Encoder writes newline-delimited messages to an io.Writer. Each
// message goes out in a single Write call.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals m and writes it followed by a newline. Messages that
// would exceed MaxLineLen are refused without writing anything.
func (e *Encoder) Encode(m Message) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if len(data)+1 > MaxLineLen {
		return fmt.Errorf("message of %d bytes exceeds frame limit", len(data)+1)
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited messages from an io.Reader, resyncing
// past oversized frames the same way the device firmware does.
type Decoder struct {
	r       io.Reader
	acc     *Accumulator
	pending [][]byte
	chunk   []byte
	err     error
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		acc:   NewAccumulator(MaxLineLen),
		chunk: make([]byte, 256),
	}
}

// Decode returns the next message from the stream. Blank frames are
// skipped. Once the underlying reader fails, the error is returned on
// every subsequent call.
func (d *Decoder) Decode() (Message, error) {
	for {
		for len(d.pending) == 0 {
			if d.err != nil {
				return nil, d.err
			}
			n, err := d.r.Read(d.chunk)
			if n > 0 {
				d.pending = append(d.pending, d.acc.Add(d.chunk[:n])...)
			}
			if err != nil {
				d.err = err
			}
		}

		frame := d.pending[0]
		d.pending = d.pending[1:]
		if len(frame) == 0 {
			continue
		}
		return Unmarshal(frame)
	}
}

// Dropped returns the number of oversized frames discarded so far.
func (d *Decoder) Dropped() int { return d.acc.Dropped() }
