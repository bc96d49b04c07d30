// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

// Pack converts a grid into the device's three bitplanes.
//
// Columns run left to right. Each column is PanelHeight/8 bytes with the top
// pixel in the most significant bit. A colour component is lit when it is
// above 127. The red plane comes first, then green, then blue.
func Pack(grid *PixelGrid, fit Fit) ([]byte, error) {
	if err := fit.validate(); err != nil {
		return nil, err
	}
	if grid == nil {
		grid = &PixelGrid{}
	}

	src := fit.resize(grid)
	outW := fit.outputWidth(src.width)
	outH := fit.PanelHeight
	left := fit.hOffset(src.width, outW)
	top := fit.vOffset(src.height, outH)

	planeLen := outW * outH / pixelsPerByte
	out := make([]byte, 3*planeLen)
	red, green, blue := out[:planeLen], out[planeLen:2*planeLen], out[2*planeLen:]

	i := 0
	for x := 0; x < outW; x++ {
		for yb := 0; yb < outH; yb += pixelsPerByte {
			var r, g, b byte
			for y := yb; y < yb+pixelsPerByte; y++ {
				c := src.colorAt(x-left, y-top, fit.Background)
				r = r<<1 | lit(c.R)
				g = g<<1 | lit(c.G)
				b = b<<1 | lit(c.B)
			}
			red[i], green[i], blue[i] = r, g, b
			i++
		}
	}

	return out, nil
}

func lit(component uint8) byte {
	if component > 127 {
		return 1
	}
	return 0
}

// PlaneSize returns the length of one bitplane for an output width.
func PlaneSize(width, panelHeight int) int {
	return width * panelHeight / pixelsPerByte
}
