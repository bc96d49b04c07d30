// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// RGB is a 24-bit colour.
type RGB struct {
	R, G, B uint8
}

// Common colours
var (
	Black = RGB{}
	White = RGB{R: 0xFF, G: 0xFF, B: 0xFF}
)

// ParseColor accepts #rrggbb, #rgb (with or without the hash) and SVG colour
// names such as "red" or "white".
func ParseColor(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if c, ok := colornames.Map[strings.ToLower(s)]; ok {
		return RGB{R: c.R, G: c.G, B: c.B}, nil
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return RGB{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// String formats the colour as #rrggbb
func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Pixel is one cell of a PixelGrid. Off pixels show the background colour.
type Pixel struct {
	Color RGB
	On    bool
}

// PixelGrid is an immutable width x height raster.
type PixelGrid struct {
	width  int
	height int
	pixels []Pixel // row-major
}

// NewPixelGrid creates a grid from row-major pixels.
func NewPixelGrid(width, height int, pixels []Pixel) (*PixelGrid, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("%w: negative size %dx%d", ErrInvalidGrid, width, height)
	}
	if len(pixels) != width*height {
		return nil, fmt.Errorf("%w: %d pixels for %dx%d", ErrInvalidGrid, len(pixels), width, height)
	}
	return &PixelGrid{
		width:  width,
		height: height,
		pixels: append([]Pixel(nil), pixels...),
	}, nil
}

// NewPixelGridFunc creates a grid by evaluating fn for every cell.
// Negative sizes are treated as zero.
func NewPixelGridFunc(width, height int, fn func(x, y int) Pixel) *PixelGrid {
	width, height = max(width, 0), max(height, 0)
	g := &PixelGrid{width: width, height: height, pixels: make([]Pixel, width*height)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.pixels[y*width+x] = fn(x, y)
		}
	}
	return g
}

// Width returns the number of columns
func (g *PixelGrid) Width() int {
	return g.width
}

// Height returns the number of rows
func (g *PixelGrid) Height() int {
	return g.height
}

// At returns the pixel at (x, y); cells outside the grid are off.
func (g *PixelGrid) At(x, y int) Pixel {
	if x < 0 || y < 0 || x >= g.width || y >= g.height {
		return Pixel{}
	}
	return g.pixels[y*g.width+x]
}

// colorAt resolves the displayed colour, substituting bg for off pixels.
func (g *PixelGrid) colorAt(x, y int, bg RGB) RGB {
	p := g.At(x, y)
	if !p.On {
		return bg
	}
	return p.Color
}

// Image renders the grid as an NRGBA image with off pixels transparent.
func (g *PixelGrid) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, g.width, g.height))
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			p := g.pixels[y*g.width+x]
			if p.On {
				img.SetNRGBA(x, y, color.NRGBA{R: p.Color.R, G: p.Color.G, B: p.Color.B, A: 0xFF})
			}
		}
	}
	return img
}

// GridFromImage converts any image into a grid. Pixels with alpha of at
// least half are on.
func GridFromImage(img image.Image) *PixelGrid {
	b := img.Bounds()
	return NewPixelGridFunc(b.Dx(), b.Dy(), func(x, y int) Pixel {
		c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
		if c.A < 0x80 {
			return Pixel{}
		}
		return Pixel{Color: RGB{R: c.R, G: c.G, B: c.B}, On: true}
	})
}
