// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package render

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"github.com/Thermoquad/marquee/pkg/coolled"
)

// ErrBadJT is returned for JT files that carry no usable pixel data.
var ErrBadJT = errors.New("invalid JT file")

// jtEntry is one element of the JSON array written by the phone app.
type jtEntry struct {
	Data struct {
		AniData      []int `json:"aniData"`
		GraffitiData []int `json:"graffitiData"`
		PixelWidth   int   `json:"pixelWidth"`
		PixelHeight  int   `json:"pixelHeight"`
		FrameNum     int   `json:"frameNum"`
		Delays       int   `json:"delays"`
	} `json:"data"`
}

// JT is a decoded phone-app export. The planes are already packed for a sign
// of PixelWidth x PixelHeight.
type JT struct {
	PixelWidth  int
	PixelHeight int
	Command     coolled.Packed
}

// Animated reports whether the export is an animation
func (j JT) Animated() bool {
	return j.Command.Frames > 0
}

// LoadJT reads a JT export. Still images (graffitiData) win over animations
// (aniData) when a file carries both.
func LoadJT(fs afero.Fs, path string) (*JT, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read JT: %w", err)
	}
	return ParseJT(data)
}

// ParseJT decodes JT file contents.
func ParseJT(data []byte) (*JT, error) {
	var entries []jtEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJT, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrBadJT)
	}
	d := entries[0].Data

	j := &JT{PixelWidth: d.PixelWidth, PixelHeight: d.PixelHeight}
	values := d.AniData
	if d.GraffitiData != nil {
		values = d.GraffitiData
	} else {
		frames := max(d.FrameNum, 1)
		if frames > 0xFF {
			return nil, fmt.Errorf("%w: %d frames", ErrBadJT, frames)
		}
		if d.Delays < 0 || d.Delays > 0xFFFF {
			return nil, fmt.Errorf("%w: delay %d", ErrBadJT, d.Delays)
		}
		j.Command.Frames = uint8(frames)
		j.Command.Speed = uint16(d.Delays)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no pixel data", ErrBadJT)
	}

	j.Command.Planes = make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("%w: byte %d has value %d", ErrBadJT, i, v)
		}
		j.Command.Planes[i] = byte(v)
	}
	return j, nil
}
