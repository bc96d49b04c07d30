// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/gift"
)

// Treatment resolves one source dimension against the panel dimension.
type Treatment uint8

// Treatments
const (
	AsIs Treatment = iota
	Crop
	Pad
	CropPad
	Scale
)

var treatmentNames = map[Treatment]string{
	AsIs:    "as-is",
	Crop:    "crop",
	Pad:     "pad",
	CropPad: "crop-pad",
	Scale:   "scale",
}

func (t Treatment) String() string {
	if s, ok := treatmentNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Treatment(%d)", t)
}

// ParseTreatment parses names such as "as-is", "crop-pad" or "scale".
func ParseTreatment(s string) (Treatment, error) {
	for t, name := range treatmentNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return AsIs, fmt.Errorf("unknown treatment %q", s)
}

// HAlign anchors the source horizontally.
type HAlign uint8

// Horizontal alignments
const (
	AlignLeft HAlign = iota
	AlignCenter
	AlignRight
)

// VAlign anchors the source vertically.
type VAlign uint8

// Vertical alignments
const (
	AlignTop VAlign = iota
	AlignMiddle
	AlignBottom
)

// ParseHAlign accepts left, center and right. "none" is an alias of left.
func ParseHAlign(s string) (HAlign, error) {
	switch strings.ToLower(s) {
	case "left", "none", "":
		return AlignLeft, nil
	case "center", "centre":
		return AlignCenter, nil
	case "right":
		return AlignRight, nil
	}
	return AlignLeft, fmt.Errorf("unknown horizontal alignment %q", s)
}

// ParseVAlign accepts top, center and bottom.
func ParseVAlign(s string) (VAlign, error) {
	switch strings.ToLower(s) {
	case "top":
		return AlignTop, nil
	case "center", "centre", "middle", "":
		return AlignMiddle, nil
	case "bottom":
		return AlignBottom, nil
	}
	return AlignMiddle, fmt.Errorf("unknown vertical alignment %q", s)
}

// Layout is the panel-independent part of a fitting policy.
type Layout struct {
	Width  Treatment
	Height Treatment
	HAlign HAlign
	VAlign VAlign
}

// DefaultLayout is used for text and still images: width kept as rendered,
// height cropped or padded to the panel, content vertically centred.
func DefaultLayout() Layout {
	return Layout{Width: AsIs, Height: CropPad, HAlign: AlignLeft, VAlign: AlignMiddle}
}

// AnimationLayout is used for animation frames.
func AnimationLayout() Layout {
	return Layout{Width: Scale, Height: Scale, HAlign: AlignCenter, VAlign: AlignMiddle}
}

// Fit binds the layout to a panel.
func (l Layout) Fit(panelWidth, panelHeight int, background RGB) Fit {
	return Fit{
		PanelWidth:  panelWidth,
		PanelHeight: panelHeight,
		Width:       l.Width,
		Height:      l.Height,
		HAlign:      l.HAlign,
		VAlign:      l.VAlign,
		Background:  background,
	}
}

// Fit is the fitting policy applied by Pack.
type Fit struct {
	PanelWidth  int
	PanelHeight int
	Width       Treatment
	Height      Treatment
	HAlign      HAlign
	VAlign      VAlign
	Background  RGB
}

func (f Fit) validate() error {
	if f.PanelHeight <= 0 || f.PanelHeight%pixelsPerByte != 0 {
		return fmt.Errorf("%w: height %d is not a positive multiple of %d", ErrInvalidPanel, f.PanelHeight, pixelsPerByte)
	}
	if f.PanelWidth <= 0 {
		return fmt.Errorf("%w: width %d", ErrInvalidPanel, f.PanelWidth)
	}
	return nil
}

// outputWidth returns the packed width for a source of width w.
func (f Fit) outputWidth(w int) int {
	switch f.Width {
	case Crop:
		return min(w, f.PanelWidth)
	case Pad:
		return max(w, f.PanelWidth)
	case CropPad, Scale:
		return f.PanelWidth
	default:
		if f.Height == Scale {
			// A height-scaled image narrower than the panel is padded out
			return max(w, f.PanelWidth)
		}
		return w
	}
}

// scaledSize returns the size the source is resized to before placement.
func (f Fit) scaledSize(w, h int) (int, int) {
	if w == 0 || h == 0 {
		return w, h
	}
	nw, nh := w, h
	if f.Width == Scale {
		nw = f.PanelWidth
		nh = f.PanelWidth * h / w
	}
	if f.Height == Scale {
		nh = f.PanelHeight
		if f.Width != Scale {
			nw = f.PanelHeight * w / h
		}
	}
	return max(nw, 1), max(nh, 1)
}

// resize applies the scale treatments.
func (f Fit) resize(grid *PixelGrid) *PixelGrid {
	nw, nh := f.scaledSize(grid.width, grid.height)
	if nw == grid.width && nh == grid.height {
		return grid
	}

	g := gift.New(gift.Resize(nw, nh, gift.LinearResampling))
	dst := image.NewNRGBA(g.Bounds(image.Rect(0, 0, grid.width, grid.height)))
	g.Draw(dst, grid.Image())
	return GridFromImage(dst)
}

// offset places a source extent inside an output extent. Negative offsets
// crop the source.
func offset(in, out int, leading, center bool) int {
	switch {
	case leading:
		return 0
	case center:
		if in <= out {
			return (out - in) / 2
		}
		return -((in - out) / 2)
	default:
		return out - in
	}
}

func (f Fit) hOffset(in, out int) int {
	return offset(in, out, f.HAlign == AlignLeft, f.HAlign == AlignCenter)
}

func (f Fit) vOffset(in, out int) int {
	return offset(in, out, f.VAlign == AlignTop, f.VAlign == AlignMiddle)
}
