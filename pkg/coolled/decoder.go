// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

// Decoder states
const (
	stateIdle = iota
	stateFrame
)

// Decoder implements a streaming frame decoder for byte streams such as
// notification pipes, serial bridges and capture files.
type Decoder struct {
	state   int
	buffer  []byte
	dropped int
}

// NewDecoder creates a new stream decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  stateIdle,
		buffer: make([]byte, 0, 2*DefaultChunkMTU),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
}

// GetRawBytes returns the bytes accumulated for the frame in progress
func (d *Decoder) GetRawBytes() []byte {
	return d.buffer
}

// Dropped returns how many bytes were skipped while waiting for a start marker
func (d *Decoder) Dropped() int {
	return d.dropped
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error if the frame just closed is malformed.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateIdle:
		if b != StartByte {
			d.dropped++
			return nil, nil
		}
		d.buffer = append(d.buffer[:0], b)
		d.state = stateFrame
		return nil, nil

	case stateFrame:
		if b == StartByte {
			// A new frame began before the old one closed
			partial := len(d.buffer)
			d.buffer = append(d.buffer[:0], b)
			return nil, frameErr(ErrIncomplete, partial, "frame abandoned after %d bytes", partial)
		}

		d.buffer = append(d.buffer, b)
		if len(d.buffer) > maxEscapedFrame {
			n := len(d.buffer)
			d.Reset()
			return nil, frameErr(ErrPayloadTooLarge, n, "no end marker within %d bytes", maxEscapedFrame)
		}
		if b != EndByte {
			return nil, nil
		}

		frame, err := DecodeFrame(d.buffer)
		d.Reset()
		return frame, err

	default:
		d.Reset()
		return nil, nil
	}
}

// Feed runs a block of bytes through the decoder and returns every frame and
// every error produced, in arrival order.
func (d *Decoder) Feed(p []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range p {
		frame, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames, errs
}
