// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"encoding/binary"
	"fmt"
)

// chunkHeaderSize covers the reserved byte, total, index and length fields.
const chunkHeaderSize = 6

// Chunk is one piece of a large payload.
type Chunk struct {
	Total    int // length of the whole payload
	Index    int
	Data     []byte
	Terminal bool
}

// Bytes returns the chunk as frame parameters:
// 0x00 | total (u16) | index (u16) | length (u8) | data.
func (c Chunk) Bytes() []byte {
	b := make([]byte, 0, chunkHeaderSize+len(c.Data))
	b = append(b, 0x00)
	b = binary.BigEndian.AppendUint16(b, uint16(c.Total))
	b = binary.BigEndian.AppendUint16(b, uint16(c.Index))
	b = append(b, byte(len(c.Data)))
	return append(b, c.Data...)
}

// SplitChunks splits payload into chunks of at most mtu bytes. Every chunk
// but the last is exactly mtu bytes long. An empty payload yields one empty
// terminal chunk. Wire limits are checked by EncodeChunks.
func SplitChunks(payload []byte, mtu int) ([]Chunk, error) {
	if mtu <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, mtu)
	}

	count := max((len(payload)+mtu-1)/mtu, 1)
	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * mtu
		end := min(start+mtu, len(payload))
		chunks = append(chunks, Chunk{
			Total:    len(payload),
			Index:    i,
			Data:     payload[start:end],
			Terminal: i == count-1,
		})
	}
	return chunks, nil
}

// EncodeChunks splits payload and wraps every chunk in a frame of the given
// command family. The chunk length travels in one byte and the total in a
// u16, which bounds mtu and the payload.
func EncodeChunks(commandID byte, payload []byte, mtu int) ([][]byte, error) {
	if mtu <= 0 || mtu > MaxChunkMTU {
		return nil, fmt.Errorf("%w: %d (want 1-%d)", ErrInvalidChunkSize, mtu, MaxChunkMTU)
	}
	if len(payload) > MaxFrameLength {
		return nil, frameErr(ErrPayloadTooLarge, -1, "%d bytes (max %d)", len(payload), MaxFrameLength)
	}
	chunks, err := SplitChunks(payload, mtu)
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		f, err := EncodeFrame(commandID, c.Bytes())
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// ParseChunk reads chunk parameters back out of a decoded frame payload.
func ParseChunk(params []byte) (Chunk, error) {
	if len(params) < chunkHeaderSize {
		return Chunk{}, frameErr(ErrLengthMismatch, -1, "chunk header needs %d bytes, have %d", chunkHeaderSize, len(params))
	}
	n := int(params[5])
	if len(params) != chunkHeaderSize+n {
		return Chunk{}, frameErr(ErrLengthMismatch, -1, "chunk declares %d data bytes, carries %d", n, len(params)-chunkHeaderSize)
	}
	c := Chunk{
		Total: int(binary.BigEndian.Uint16(params[1:3])),
		Index: int(binary.BigEndian.Uint16(params[3:5])),
		Data:  append([]byte(nil), params[chunkHeaderSize:]...),
	}
	return c, nil
}

// Reassembler collects chunks of one payload in order.
type Reassembler struct {
	commandID byte
	total     int
	next      int
	buf       []byte
}

// Add appends the chunk carried by frame. It returns the full payload once
// the last byte has arrived.
func (r *Reassembler) Add(frame *Frame) ([]byte, error) {
	c, err := ParseChunk(frame.Payload())
	if err != nil {
		return nil, err
	}
	if c.Index == 0 {
		r.commandID = frame.CommandID()
		r.total = c.Total
		r.next = 0
		r.buf = make([]byte, 0, r.total)
	}
	switch {
	case r.buf == nil:
		return nil, fmt.Errorf("chunk %d without a first chunk", c.Index)
	case frame.CommandID() != r.commandID:
		return nil, fmt.Errorf("chunk of command 0x%02X inside 0x%02X transfer", frame.CommandID(), r.commandID)
	case c.Index != r.next:
		return nil, fmt.Errorf("chunk %d out of order, expected %d", c.Index, r.next)
	case c.Total != r.total:
		return nil, fmt.Errorf("chunk %d declares total %d, transfer has %d", c.Index, c.Total, r.total)
	case len(r.buf)+len(c.Data) > r.total:
		return nil, fmt.Errorf("chunk %d overruns total %d", c.Index, r.total)
	}

	r.buf = append(r.buf, c.Data...)
	r.next++
	if len(r.buf) < r.total {
		return nil, nil
	}
	payload := r.buf
	r.buf = nil
	return payload, nil
}

// ProbeFrame builds the cache probe for a chunked payload: a transfer frame
// carrying the target command, the payload length and its fingerprint.
func ProbeFrame(commandID byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameLength {
		return nil, frameErr(ErrPayloadTooLarge, -1, "%d bytes (max %d)", len(payload), MaxFrameLength)
	}
	params := []byte{commandID}
	params = binary.BigEndian.AppendUint16(params, uint16(len(payload)))
	params = binary.BigEndian.AppendUint16(params, Fingerprint(payload))
	return EncodeFrame(CmdTransfer, params)
}
