// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/spf13/afero"
	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/Thermoquad/marquee/pkg/coolled"
)

// ErrNotAnimated is returned when an animation file holds a single frame.
var ErrNotAnimated = errors.New("image is not animated")

// LoadImage decodes a PNG, JPEG, GIF, BMP, TIFF or WebP file into a grid.
// Transparent pixels are off.
func LoadImage(fs afero.Fs, path string) (*coolled.PixelGrid, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return coolled.GridFromImage(img), nil
}

// LoadAnimation decodes an animated GIF into one grid per frame. Frames are
// composited over everything drawn before them, so transparent areas keep
// showing earlier frames.
func LoadAnimation(fs afero.Fs, path string) ([]*coolled.PixelGrid, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read animation: %w", err)
	}
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode animation %s: %w", path, err)
	}
	if len(g.Image) < 2 {
		return nil, fmt.Errorf("%s: %w", path, ErrNotAnimated)
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewNRGBA(bounds)
	frames := make([]*coolled.PixelGrid, 0, len(g.Image))
	for _, frame := range g.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		frames = append(frames, coolled.GridFromImage(canvas))
	}
	return frames, nil
}
