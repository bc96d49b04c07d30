// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package render turns text, image files and phone-app exports into pixel
// grids and packed planes for the coolled encoders.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/syncutil"
)

// Built-in font names
const (
	FontGoRegular = "go"
	FontGoMono    = "gomono"
	FontBasic     = "basic" // fixed 7x13 bitmap, ignores the height
)

// ErrEmptyText is returned when the markup has no visible characters.
var ErrEmptyText = errors.New("nothing to render")

type faceKey struct {
	ref    coolled.FontRef
	height int
}

// Rasterizer draws coloured spans with TrueType/OpenType fonts. Font files
// are read from fs. It implements coolled.Rasterizer and is safe for
// concurrent use.
type Rasterizer struct {
	fs    afero.Fs
	mu    syncutil.Mutex
	fonts map[coolled.FontRef]*opentype.Font
	faces map[faceKey]font.Face
}

// NewRasterizer creates a rasterizer reading font files from fs.
func NewRasterizer(fs afero.Fs) *Rasterizer {
	return &Rasterizer{
		fs:    fs,
		fonts: make(map[coolled.FontRef]*opentype.Font),
		faces: make(map[faceKey]font.Face),
	}
}

// Rasterize renders spans left to right on one line. The grid is as wide as
// the text and as tall as the face's ascent plus descent; unlit pixels are off.
func (r *Rasterizer) Rasterize(spans []coolled.Span, ref coolled.FontRef, height int) (*coolled.PixelGrid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	face, err := r.face(ref, height)
	if err != nil {
		return nil, err
	}

	width := 0
	texts := make([]string, len(spans))
	for i, s := range spans {
		texts[i] = norm.NFC.String(s.Text)
		width += font.MeasureString(face, texts[i]).Ceil()
	}
	if width == 0 {
		return nil, ErrEmptyText
	}

	m := face.Metrics()
	img := image.NewNRGBA(image.Rect(0, 0, width, (m.Ascent + m.Descent).Ceil()))
	d := &font.Drawer{
		Dst:  img,
		Face: face,
		Dot:  fixed.Point26_6{Y: m.Ascent},
	}
	for i, s := range spans {
		d.Src = image.NewUniform(color.NRGBA{R: s.Color.R, G: s.Color.G, B: s.Color.B, A: 0xFF})
		d.DrawString(texts[i])
	}

	return coolled.GridFromImage(img), nil
}

// Close releases every cached face.
func (r *Rasterizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for k, f := range r.faces {
		errs = append(errs, f.Close())
		delete(r.faces, k)
	}
	return errors.Join(errs...)
}

func (r *Rasterizer) face(ref coolled.FontRef, height int) (font.Face, error) {
	if strings.EqualFold(string(ref), FontBasic) {
		return basicfont.Face7x13, nil
	}

	key := faceKey{ref: ref, height: height}
	if f, ok := r.faces[key]; ok {
		return f, nil
	}

	otf, err := r.font(ref)
	if err != nil {
		return nil, err
	}
	f, err := opentype.NewFace(otf, &opentype.FaceOptions{
		Size:    float64(height),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("font %q at %dpx: %w", ref, height, err)
	}
	r.faces[key] = f
	return f, nil
}

func (r *Rasterizer) font(ref coolled.FontRef) (*opentype.Font, error) {
	if f, ok := r.fonts[ref]; ok {
		return f, nil
	}

	var data []byte
	switch strings.ToLower(string(ref)) {
	case "", FontGoRegular:
		data = goregular.TTF
	case FontGoMono:
		data = gomono.TTF
	default:
		b, err := afero.ReadFile(r.fs, string(ref))
		if err != nil {
			return nil, fmt.Errorf("read font: %w", err)
		}
		data = b
	}

	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %q: %w", ref, err)
	}
	log.Debug().Str("font", string(ref)).Int("glyphs", f.NumGlyphs()).Msg("loaded font")
	r.fonts[ref] = f
	return f, nil
}
