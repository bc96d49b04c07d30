// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrNoRasterizer is returned when a text command is encoded without a
// rasterizer.
var ErrNoRasterizer = errors.New("no rasterizer configured")

// Rasterizer renders coloured spans into a pixel grid of the given glyph height.
type Rasterizer interface {
	Rasterize(spans []Span, font FontRef, height int) (*PixelGrid, error)
}

// Encoded is the byte payload of one command plus what the transfer layer
// needs to know about it.
type Encoded struct {
	Command   string
	CommandID byte
	Payload   []byte
	Chunked   bool // payload travels as chunked data frames
	ExpectAck bool // device sends a notification per frame
	Raw       bool // payload is already wire bytes
}

// Encoder turns commands into payloads for one panel geometry.
// It is safe for concurrent use.
type Encoder struct {
	panelWidth  int
	panelHeight int
	rasterizer  Rasterizer
}

// NewEncoder creates an encoder for a panel. r may be nil when no text
// commands will be encoded.
func NewEncoder(panelWidth, panelHeight int, r Rasterizer) (*Encoder, error) {
	fit := Fit{PanelWidth: panelWidth, PanelHeight: panelHeight}
	if err := fit.validate(); err != nil {
		return nil, err
	}
	return &Encoder{panelWidth: panelWidth, panelHeight: panelHeight, rasterizer: r}, nil
}

// PanelSize returns the panel width and height in pixels
func (e *Encoder) PanelSize() (int, int) {
	return e.panelWidth, e.panelHeight
}

// Encode validates cmd and produces its payload.
func (e *Encoder) Encode(cmd Command) (*Encoded, error) {
	if cmd == nil {
		return nil, invalid("nil", "no command")
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	switch c := cmd.(type) {
	case Text:
		return e.encodeText(c)
	case Image:
		planes, err := Pack(c.Grid, c.Layout.Fit(e.panelWidth, e.panelHeight, c.Background))
		if err != nil {
			return nil, err
		}
		payload, err := imagePayload(nil, planes)
		if err != nil {
			return nil, err
		}
		return chunked(c.Name(), CmdImage, payload), nil
	case Animation:
		return e.encodeAnimation(c)
	case SetMode:
		return simple(c.Name(), CmdMode, false, byte(c.Mode)), nil
	case Brightness:
		return simple(c.Name(), CmdBrightness, true, c.deviceLevel()), nil
	case OnOff:
		return simple(c.Name(), CmdSwitch, true, boolByte(c.On)), nil
	case Speed:
		return simple(c.Name(), CmdSpeed, true, c.Value), nil
	case Music:
		params := append(append([]byte{}, c.Heights[:]...), c.Colors[:]...)
		return simple(c.Name(), CmdMusic, false, params...), nil
	case Initialize:
		return simple(c.Name(), CmdInitialize, true, c.Level), nil
	case Button:
		return simple(c.Name(), c.commandID(), true, boolByte(c.On)), nil
	case ShowIcon:
		return simple(c.Name(), CmdShowIcon, false), nil
	case Invert:
		return simple(c.Name(), CmdInvert, false, boolByte(c.Inverted)), nil
	case Mirror:
		return simple(c.Name(), CmdMirror, false), nil
	case PowerDown:
		return simple(c.Name(), CmdPowerDown, false), nil
	case Packed:
		if c.Frames == 0 {
			payload, err := imagePayload(nil, c.Planes)
			if err != nil {
				return nil, err
			}
			return chunked(c.Name(), CmdImage, payload), nil
		}
		// Animation header followed by the length-prefixed planes
		payload, err := imagePayload([]byte{c.Frames, byte(c.Speed >> 8), byte(c.Speed)}, c.Planes)
		if err != nil {
			return nil, err
		}
		return chunked(c.Name(), CmdAnimation, payload), nil
	case Raw:
		return &Encoded{
			Command:   c.Name(),
			Payload:   append([]byte(nil), c.Data...),
			ExpectAck: c.ExpectAck,
			Raw:       true,
		}, nil
	default:
		return nil, invalid(cmd.Name(), "unsupported command type %T", cmd)
	}
}

func simple(name string, id byte, ack bool, params ...byte) *Encoded {
	return &Encoded{Command: name, CommandID: id, Payload: params, ExpectAck: ack}
}

func chunked(name string, id byte, payload []byte) *Encoded {
	return &Encoded{Command: name, CommandID: id, Payload: payload, Chunked: true, ExpectAck: true}
}

func (e *Encoder) encodeText(c Text) (*Encoded, error) {
	if e.rasterizer == nil {
		return nil, ErrNoRasterizer
	}
	spans, err := ParseMarkup(c.Markup, c.Color, c.Markers)
	if err != nil {
		return nil, err
	}
	grid, err := e.rasterizer.Rasterize(spans, c.Font, c.Height)
	if err != nil {
		return nil, fmt.Errorf("rasterize text: %w", err)
	}
	planes, err := Pack(grid, c.Layout.Fit(e.panelWidth, e.panelHeight, c.Background))
	if err != nil {
		return nil, err
	}

	if c.AsImage {
		payload, err := imagePayload(nil, planes)
		if err != nil {
			return nil, err
		}
		return chunked(c.Name(), CmdImage, payload), nil
	}

	payload, err := imagePayload(textMeta(c.Markup), planes)
	if err != nil {
		return nil, err
	}
	return chunked(c.Name(), CmdText, payload), nil
}

func (e *Encoder) encodeAnimation(c Animation) (*Encoded, error) {
	layout := c.Layout
	if layout.Width != Scale {
		// Frames always cover the panel exactly
		layout.Width = CropPad
	}
	fit := layout.Fit(e.panelWidth, e.panelHeight, c.Background)

	plane := PlaneSize(e.panelWidth, e.panelHeight)
	red := make([]byte, 0, plane*len(c.Frames))
	green := make([]byte, 0, plane*len(c.Frames))
	blue := make([]byte, 0, plane*len(c.Frames))
	for _, frame := range c.Frames {
		planes, err := Pack(frame, fit)
		if err != nil {
			return nil, err
		}
		red = append(red, planes[:plane]...)
		green = append(green, planes[plane:2*plane]...)
		blue = append(blue, planes[2*plane:]...)
	}

	payload := make([]byte, imageHeaderSize, imageHeaderSize+3+3*len(red))
	payload = append(payload, byte(len(c.Frames)))
	payload = binary.BigEndian.AppendUint16(payload, c.Speed)
	payload = append(payload, red...)
	payload = append(payload, green...)
	payload = append(payload, blue...)

	if len(payload) > MaxFrameLength {
		return nil, invalid(c.Name(), "payload of %d bytes exceeds %d", len(payload), MaxFrameLength)
	}
	return chunked(c.Name(), CmdAnimation, payload), nil
}

// imagePayload lays out 24 reserved bytes, the optional text metadata, the
// plane length and the planes.
func imagePayload(meta, planes []byte) ([]byte, error) {
	if len(planes) > 0xFFFF {
		return nil, invalid("image", "%d bytes of pixel data exceed 65535", len(planes))
	}
	payload := make([]byte, imageHeaderSize, imageHeaderSize+len(meta)+2+len(planes))
	payload = append(payload, meta...)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(planes)))
	payload = append(payload, planes...)
	if len(payload) > MaxFrameLength {
		return nil, invalid("image", "payload of %d bytes exceeds %d", len(payload), MaxFrameLength)
	}
	return payload, nil
}

// textMeta is the character block the device keeps alongside rendered text:
// the character count and one 0x30 byte per character.
func textMeta(text string) []byte {
	n := utf8.RuneCountInString(text)
	size := textMetaBuffer
	var meta []byte
	if n > maxShortTextLength {
		size = textMetaBufferLong
		meta = binary.BigEndian.AppendUint16(meta, uint16(min(n, 0xFFFF)))
	} else {
		meta = append(meta, byte(n))
	}
	buf := make([]byte, size)
	for i := 0; i < n && i < size; i++ {
		buf[i] = textMetaChar
	}
	return append(meta, buf...)
}

// Frames renders the encoded payload as the wire frames to write, in order.
func (enc *Encoded) Frames(mtu int) ([][]byte, error) {
	switch {
	case enc.Raw:
		return [][]byte{enc.Payload}, nil
	case enc.Chunked:
		return EncodeChunks(enc.CommandID, enc.Payload, mtu)
	default:
		frame, err := EncodeFrame(enc.CommandID, enc.Payload)
		if err != nil {
			return nil, err
		}
		return [][]byte{frame}, nil
	}
}
