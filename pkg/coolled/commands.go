// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Command is one display intent. The variant set is closed; Encoder.Encode
// dispatches on the concrete type.
type Command interface {
	Name() string
	validate() error
}

// FontRef names a font for the rasterizer: a font file path or a name it
// knows. The empty ref selects the rasterizer's built-in face.
type FontRef string

// Default text rendering parameters
const (
	DefaultFont       FontRef = ""
	DefaultFontHeight         = 13
	maxFontHeight             = 256
)

// Text renders markup through the rasterizer.
type Text struct {
	Markup     string
	Font       FontRef
	Height     int
	Color      RGB
	Background RGB
	Markers    Markers
	Layout     Layout
	AsImage    bool // send as an image command without the text metadata block
}

// NewText creates a text command with the default font, white on black.
func NewText(markup string) Text {
	return Text{
		Markup:  markup,
		Font:    DefaultFont,
		Height:  DefaultFontHeight,
		Color:   White,
		Markers: DefaultMarkers,
		Layout:  DefaultLayout(),
	}
}

func (Text) Name() string { return "text" }

func (c Text) validate() error {
	if c.Height <= 0 || c.Height > maxFontHeight {
		return invalid("text", "font height %d out of range 1-%d", c.Height, maxFontHeight)
	}
	return nil
}

// Image sends a still picture.
type Image struct {
	Grid       *PixelGrid
	Background RGB
	Layout     Layout
}

// NewImage creates an image command with the default layout.
func NewImage(grid *PixelGrid) (Image, error) {
	c := Image{Grid: grid, Layout: DefaultLayout()}
	return c, c.validate()
}

func (Image) Name() string { return "image" }

func (c Image) validate() error {
	if c.Grid == nil {
		return invalid("image", "no pixel grid")
	}
	return nil
}

// Animation sends up to 255 frames played at Speed.
type Animation struct {
	Frames     []*PixelGrid
	Speed      uint16
	Background RGB
	Layout     Layout
}

// NewAnimation creates an animation command. Speed must fit 16 bits.
func NewAnimation(frames []*PixelGrid, speed int) (Animation, error) {
	if speed < 0 || speed > 0xFFFF {
		return Animation{}, invalid("animation", "speed %d out of range 0-65535", speed)
	}
	c := Animation{Frames: frames, Speed: uint16(speed), Layout: AnimationLayout()}
	return c, c.validate()
}

func (Animation) Name() string { return "animation" }

func (c Animation) validate() error {
	if len(c.Frames) == 0 || len(c.Frames) > maxAnimationFrames {
		return invalid("animation", "%d frames (want 1-%d)", len(c.Frames), maxAnimationFrames)
	}
	for i, f := range c.Frames {
		if f == nil {
			return invalid("animation", "frame %d has no pixel grid", i)
		}
	}
	return nil
}

// SetMode selects how content moves.
type SetMode struct {
	Mode Mode
}

var modeNames = map[Mode]string{
	ModeStatic:    "static",
	ModeLeft:      "left",
	ModeRight:     "right",
	ModeUp:        "up",
	ModeDown:      "down",
	ModeSnowflake: "snowflake",
	ModePicture:   "picture",
	ModeLaser:     "laser",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode parses a mode name such as "left" or "laser".
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, invalid("mode", "unknown mode %q", s)
}

// NewMode creates a mode command.
func NewMode(m Mode) (SetMode, error) {
	c := SetMode{Mode: m}
	return c, c.validate()
}

func (SetMode) Name() string { return "mode" }

func (c SetMode) validate() error {
	if c.Mode < ModeStatic || c.Mode > ModeLaser {
		return invalid("mode", "mode %d out of range %d-%d", c.Mode, ModeStatic, ModeLaser)
	}
	return nil
}

// Brightness sets the panel brightness in percent.
type Brightness struct {
	Level uint8
}

// NewBrightness creates a brightness command for a 0-100 level.
func NewBrightness(level int) (Brightness, error) {
	if level < 0 || level > 100 {
		return Brightness{}, invalid("brightness", "level %d out of range 0-100", level)
	}
	return Brightness{Level: uint8(level)}, nil
}

func (Brightness) Name() string { return "brightness" }

func (c Brightness) validate() error {
	if c.Level > 100 {
		return invalid("brightness", "level %d out of range 0-100", c.Level)
	}
	return nil
}

// deviceLevel maps 0-100 onto the device's 0-255 scale.
func (c Brightness) deviceLevel() byte {
	return byte((int(c.Level)*0xFF + 50) / 100)
}

// OnOff switches the display.
type OnOff struct {
	On bool
}

func (OnOff) Name() string    { return "switch" }
func (OnOff) validate() error { return nil }

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// Speed sets the scroll speed.
type Speed struct {
	Value uint8
}

// NewSpeed creates a speed command for a 0-255 value.
func NewSpeed(v int) (Speed, error) {
	if v < 0 || v > 0xFF {
		return Speed{}, invalid("speed", "value %d out of range 0-255", v)
	}
	return Speed{Value: uint8(v)}, nil
}

func (Speed) Name() string    { return "speed" }
func (Speed) validate() error { return nil }

// Music drives the eight equaliser bars.
type Music struct {
	Heights [musicBarCount]uint8
	Colors  [musicBarCount]uint8
}

// NewMusic creates a music bar command from eight heights and eight colour
// indexes (0-7).
func NewMusic(heights, colors []uint8) (Music, error) {
	var c Music
	if len(heights) != musicBarCount || len(colors) != musicBarCount {
		return c, invalid("music", "need %d heights and %d colours, got %d and %d",
			musicBarCount, musicBarCount, len(heights), len(colors))
	}
	copy(c.Heights[:], heights)
	copy(c.Colors[:], colors)
	return c, c.validate()
}

func (Music) Name() string { return "music" }

func (c Music) validate() error {
	for i, col := range c.Colors {
		if col > maxMusicColour {
			return invalid("music", "bar %d colour %d out of range 0-%d", i, col, maxMusicColour)
		}
	}
	return nil
}

// Initialize announces the controller. Level is the battery level byte; the
// phone app sends 1.
type Initialize struct {
	Level uint8
}

// NewInitialize creates the start-up command sent by the phone app.
func NewInitialize() Initialize {
	return Initialize{Level: 1}
}

func (Initialize) Name() string    { return "initialize" }
func (Initialize) validate() error { return nil }

// Button mirrors the sign's physical power button.
type Button struct {
	On bool
}

func (Button) Name() string    { return "button" }
func (Button) validate() error { return nil }

func (c Button) commandID() byte {
	if c.On {
		return CmdButtonOn
	}
	return CmdButtonOff
}

// ShowIcon shows the charging animation.
type ShowIcon struct{}

func (ShowIcon) Name() string    { return "show-icon" }
func (ShowIcon) validate() error { return nil }

// Invert inverts the display colours.
type Invert struct {
	Inverted bool
}

func (Invert) Name() string    { return "invert" }
func (Invert) validate() error { return nil }

// Mirror flips the display.
type Mirror struct{}

func (Mirror) Name() string    { return "mirror" }
func (Mirror) validate() error { return nil }

// PowerDown turns the sign off.
type PowerDown struct{}

func (PowerDown) Name() string    { return "power-down" }
func (PowerDown) validate() error { return nil }

// Packed carries bitplanes produced elsewhere, such as the phone app's JT
// files. Frames is zero for a still image.
type Packed struct {
	Planes []byte
	Frames uint8
	Speed  uint16
}

func (Packed) Name() string { return "packed" }

func (c Packed) validate() error {
	if len(c.Planes) == 0 {
		return invalid("packed", "no pixel data")
	}
	if len(c.Planes)%3 != 0 {
		return invalid("packed", "%d bytes do not split into three planes", len(c.Planes))
	}
	return nil
}

// Raw carries pre-built wire bytes, sent unmodified.
type Raw struct {
	Data      []byte
	ExpectAck bool
}

// NewRaw parses hex (spaces and colons allowed) into a raw command.
func NewRaw(hexData string, expectAck bool) (Raw, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(hexData)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return Raw{}, invalid("raw", "bad hex: %v", err)
	}
	c := Raw{Data: data, ExpectAck: expectAck}
	return c, c.validate()
}

func (Raw) Name() string { return "raw" }

func (c Raw) validate() error {
	if len(c.Data) == 0 {
		return invalid("raw", "no data")
	}
	return nil
}
