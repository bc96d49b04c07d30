// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidGrid(w, h int, c RGB) *PixelGrid {
	return NewPixelGridFunc(w, h, func(_, _ int) Pixel {
		return Pixel{Color: c, On: true}
	})
}

// column returns the packed bytes of one column of one plane.
func column(planes []byte, plane, width, panelHeight, x int) []byte {
	size := PlaneSize(width, panelHeight)
	per := panelHeight / pixelsPerByte
	start := plane*size + x*per
	return planes[start : start+per]
}

func TestPack_PadLeftTop(t *testing.T) {
	fit := Fit{PanelWidth: 32, PanelHeight: 16, Width: Pad, Height: Crop, HAlign: AlignLeft, VAlign: AlignTop}
	planes, err := Pack(solidGrid(10, 10, White), fit)
	require.NoError(t, err)
	require.Len(t, planes, 3*64)

	for p := 0; p < 3; p++ {
		for x := 0; x < 10; x++ {
			assert.Equal(t, []byte{0xFF, 0xC0}, column(planes, p, 32, 16, x), "plane %d column %d", p, x)
		}
		for x := 10; x < 32; x++ {
			assert.Equal(t, []byte{0x00, 0x00}, column(planes, p, 32, 16, x), "plane %d column %d", p, x)
		}
	}
}

func TestPack_CenterMiddle(t *testing.T) {
	fit := Fit{PanelWidth: 32, PanelHeight: 16, Width: CropPad, Height: CropPad, HAlign: AlignCenter, VAlign: AlignMiddle}
	planes, err := Pack(solidGrid(10, 10, RGB{R: 0xFF}), fit)
	require.NoError(t, err)

	// 11 columns of padding on the left, 3 rows on top
	assert.Equal(t, []byte{0x00, 0x00}, column(planes, 0, 32, 16, 10))
	assert.Equal(t, []byte{0x1F, 0xF8}, column(planes, 0, 32, 16, 11))
	assert.Equal(t, []byte{0x1F, 0xF8}, column(planes, 0, 32, 16, 20))
	assert.Equal(t, []byte{0x00, 0x00}, column(planes, 0, 32, 16, 21))

	// Red only
	assert.Equal(t, []byte{0x00, 0x00}, column(planes, 1, 32, 16, 11))
	assert.Equal(t, []byte{0x00, 0x00}, column(planes, 2, 32, 16, 11))
}

func TestPack_CropRight(t *testing.T) {
	// Only column 39 is lit; right alignment keeps the last 32 columns
	grid := NewPixelGridFunc(40, 16, func(x, _ int) Pixel {
		return Pixel{Color: White, On: x == 39}
	})
	fit := Fit{PanelWidth: 32, PanelHeight: 16, Width: Crop, Height: CropPad, HAlign: AlignRight, VAlign: AlignTop}
	planes, err := Pack(grid, fit)
	require.NoError(t, err)
	require.Len(t, planes, 3*PlaneSize(32, 16))

	assert.Equal(t, []byte{0xFF, 0xFF}, column(planes, 0, 32, 16, 31))
	assert.Equal(t, []byte{0x00, 0x00}, column(planes, 0, 32, 16, 30))
}

func TestPack_AsIsKeepsWidth(t *testing.T) {
	fit := DefaultLayout().Fit(96, 16, Black)
	planes, err := Pack(solidGrid(150, 16, White), fit)
	require.NoError(t, err)
	assert.Len(t, planes, 3*PlaneSize(150, 16))
}

func TestPack_Background(t *testing.T) {
	fit := Fit{PanelWidth: 8, PanelHeight: 8, Width: CropPad, Height: CropPad, Background: RGB{B: 0xFF}}
	planes, err := Pack(NewPixelGridFunc(8, 8, func(_, _ int) Pixel { return Pixel{} }), fit)
	require.NoError(t, err)

	for x := 0; x < 8; x++ {
		assert.Equal(t, byte(0x00), planes[x], "red column %d", x)
		assert.Equal(t, byte(0xFF), planes[16+x], "blue column %d", x)
	}
}

func TestPack_Threshold(t *testing.T) {
	grid := NewPixelGridFunc(1, 8, func(_, y int) Pixel {
		if y == 0 {
			return Pixel{Color: RGB{R: 128, G: 127}, On: true}
		}
		return Pixel{}
	})
	planes, err := Pack(grid, Fit{PanelWidth: 1, PanelHeight: 8, Width: AsIs, Height: CropPad})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x00, 0x00}, planes)
}

func TestPack_ScaleHeight(t *testing.T) {
	fit := Fit{PanelWidth: 96, PanelHeight: 16, Width: AsIs, Height: Scale}
	planes, err := Pack(solidGrid(4, 8, White), fit)
	require.NoError(t, err)

	// Aspect kept: 4x8 becomes 8x16, then padded to the panel width
	require.Len(t, planes, 3*PlaneSize(96, 16))
	for x := 0; x < 8; x++ {
		assert.Equal(t, []byte{0xFF, 0xFF}, column(planes, 0, 96, 16, x))
	}
	for x := 8; x < 96; x++ {
		assert.Equal(t, []byte{0x00, 0x00}, column(planes, 0, 96, 16, x))
	}
}

func TestPack_ScaleHeightPadsNarrowImage(t *testing.T) {
	fit := Fit{PanelWidth: 96, PanelHeight: 16, Width: AsIs, Height: Scale, HAlign: AlignLeft}
	planes, err := Pack(solidGrid(8, 8, White), fit)
	require.NoError(t, err)
	require.Len(t, planes, 3*PlaneSize(96, 16))
	assert.Equal(t, []byte{0xFF, 0xFF}, column(planes, 2, 96, 16, 15))
	assert.Equal(t, []byte{0x00, 0x00}, column(planes, 2, 96, 16, 16))
}

func TestPack_ScaleHeightKeepsWideImage(t *testing.T) {
	fit := Fit{PanelWidth: 32, PanelHeight: 16, Width: AsIs, Height: Scale, HAlign: AlignLeft}
	planes, err := Pack(solidGrid(40, 8, White), fit)
	require.NoError(t, err)

	// 40x8 scales to 80x16, wider than the panel, and is not cropped
	require.Len(t, planes, 3*PlaneSize(80, 16))
	assert.Equal(t, []byte{0xFF, 0xFF}, column(planes, 0, 80, 16, 79))
}

func TestPack_ScaleBoth(t *testing.T) {
	fit := AnimationLayout().Fit(32, 16, Black)
	planes, err := Pack(solidGrid(7, 3, White), fit)
	require.NoError(t, err)
	require.Len(t, planes, 3*PlaneSize(32, 16))
	assert.Equal(t, []byte{0xFF, 0xFF}, column(planes, 1, 32, 16, 0))
	assert.Equal(t, []byte{0xFF, 0xFF}, column(planes, 1, 32, 16, 31))
}

func TestPack_InvalidPanel(t *testing.T) {
	_, err := Pack(solidGrid(1, 1, White), Fit{PanelWidth: 96, PanelHeight: 12})
	assert.ErrorIs(t, err, ErrInvalidPanel)

	_, err = Pack(solidGrid(1, 1, White), Fit{PanelWidth: 0, PanelHeight: 16})
	assert.ErrorIs(t, err, ErrInvalidPanel)
}

func TestPack_EmptyGrid(t *testing.T) {
	planes, err := Pack(NewPixelGridFunc(0, 0, nil), DefaultLayout().Fit(96, 16, Black))
	require.NoError(t, err)
	assert.Empty(t, planes)
}

func TestNewPixelGrid_Mismatch(t *testing.T) {
	_, err := NewPixelGrid(2, 2, make([]Pixel, 3))
	assert.ErrorIs(t, err, ErrInvalidGrid)
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in       string
		expected RGB
		ok       bool
	}{
		{"#ff0000", RGB{R: 0xFF}, true},
		{"00ff00", RGB{G: 0xFF}, true},
		{"#fff", White, true},
		{"blue", RGB{B: 0xFF}, true},
		{"#12345", RGB{}, false},
		{"nope", RGB{}, false},
	}
	for _, tt := range tests {
		c, err := ParseColor(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.expected, c, tt.in)
	}
}

func TestParseMarkup(t *testing.T) {
	spans, err := ParseMarkup("ab<#ff0000>cd<blue>e", White, DefaultMarkers)
	require.NoError(t, err)
	assert.Equal(t, []Span{
		{Text: "ab", Color: White},
		{Text: "cd", Color: RGB{R: 0xFF}},
		{Text: "e", Color: RGB{B: 0xFF}},
	}, spans)
	assert.Equal(t, "abcde", VisibleText(spans))

	spans, err = ParseMarkup("a<b", White, DefaultMarkers)
	require.NoError(t, err)
	assert.Equal(t, "a<b", VisibleText(spans))

	_, err = ParseMarkup("<notacolour>x", White, DefaultMarkers)
	assert.ErrorIs(t, err, ErrInvalidCommand)

	spans, err = ParseMarkup("<red>", White, Markers{})
	require.NoError(t, err)
	assert.Equal(t, "<red>", VisibleText(spans))
}

func TestParseLayoutNames(t *testing.T) {
	tr, err := ParseTreatment("crop-pad")
	require.NoError(t, err)
	assert.Equal(t, CropPad, tr)

	h, err := ParseHAlign("none")
	require.NoError(t, err)
	assert.Equal(t, AlignLeft, h)

	v, err := ParseVAlign("bottom")
	require.NoError(t, err)
	assert.Equal(t, AlignBottom, v)

	_, err = ParseTreatment("stretch")
	assert.Error(t, err)
}
