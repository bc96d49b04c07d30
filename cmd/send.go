// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/render"
	"github.com/Thermoquad/marquee/pkg/session"
)

// layoutFlags are the fitting flags shared by text, image and animation.
type layoutFlags struct {
	widthMode  string
	heightMode string
	hAlign     string
	vAlign     string
	background string
}

func (l *layoutFlags) register(cmd *cobra.Command, def coolled.Layout) {
	f := cmd.Flags()
	f.StringVar(&l.widthMode, "width-mode", def.Width.String(), "Width treatment: as-is, crop, pad, crop-pad, scale")
	f.StringVar(&l.heightMode, "height-mode", def.Height.String(), "Height treatment: as-is, crop, pad, crop-pad, scale")
	f.StringVar(&l.hAlign, "halign", "", "Horizontal alignment: left, center, right")
	f.StringVar(&l.vAlign, "valign", "", "Vertical alignment: top, middle, bottom")
	f.StringVar(&l.background, "background", "#000000", "Background colour for padding")
}

// resolve applies the flags on top of def. Alignment flags left empty keep
// the default.
func (l *layoutFlags) resolve(def coolled.Layout) (coolled.Layout, coolled.RGB, error) {
	out := def
	var err error
	if out.Width, err = coolled.ParseTreatment(l.widthMode); err != nil {
		return out, coolled.RGB{}, usage(err)
	}
	if out.Height, err = coolled.ParseTreatment(l.heightMode); err != nil {
		return out, coolled.RGB{}, usage(err)
	}
	if l.hAlign != "" {
		if out.HAlign, err = coolled.ParseHAlign(l.hAlign); err != nil {
			return out, coolled.RGB{}, usage(err)
		}
	}
	if l.vAlign != "" {
		if out.VAlign, err = coolled.ParseVAlign(l.vAlign); err != nil {
			return out, coolled.RGB{}, usage(err)
		}
	}
	bg, err := coolled.ParseColor(l.background)
	if err != nil {
		return out, coolled.RGB{}, usage(err)
	}
	return out, bg, nil
}

// sendCommand opens a session, sends c and reports the outcome.
func sendCommand(cmd *cobra.Command, c coolled.Command) error {
	conn, err := openSession()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "Connecting to %s\n", conn.description)
	res, err := conn.session.Send(cmd.Context(), c)
	if err != nil {
		return describeSendError(err)
	}
	printResult(res)
	return nil
}

func describeSendError(err error) error {
	var fe *session.FaultError
	switch {
	case errors.As(err, &fe):
		return fmt.Errorf("gave up after %d attempts: %w", fe.Attempts, err)
	case errors.Is(err, session.ErrCancelled):
		return fmt.Errorf("interrupted: %w", err)
	}
	return err
}

func printResult(res *session.Result) {
	detail := fmt.Sprintf("%d frames", res.FramesWritten)
	if res.CacheHit {
		detail = "already on the sign"
	} else if res.Chunks > 0 {
		detail = fmt.Sprintf("%d chunks", res.Chunks)
	}
	fmt.Printf("✓ %s sent (%s, %d attempt(s), %s)\n",
		res.Command, detail, res.Attempts, res.Duration.Round(time.Millisecond))
}

// ============================================================
// Content Commands
// ============================================================

var (
	textColor      string
	textFont       string
	textFontHeight int
	textAsImage    bool
	textNoMarkup   bool
	textLayout     layoutFlags

	imageLayout layoutFlags

	animationSpeed  int
	animationLayout layoutFlags
)

var textCmd = &cobra.Command{
	Use:   "text <markup>",
	Short: "Display text",
	Long: `Render text and send it to the sign.

Inline colour tags change the colour of the text that follows them:
  marquee text "Hello <#00ff00>world"

Fonts: "go" and "gomono" are built in, "basic" is a 7x13 bitmap face,
anything else is read as a TrueType/OpenType file path. Use "-" to read the
text from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		markup := args[0]
		if markup == "-" {
			data, err := readInput(appFs, "-")
			if err != nil {
				return err
			}
			markup = strings.TrimRight(string(data), "\r\n")
		}
		t, err := buildText(markup)
		if err != nil {
			return err
		}
		return sendCommand(cmd, t)
	},
}

// buildText applies the text flags to markup.
func buildText(markup string) (coolled.Text, error) {
	t := coolled.NewText(markup)
	color, err := coolled.ParseColor(textColor)
	if err != nil {
		return t, usage(err)
	}
	layout, bg, err := textLayout.resolve(t.Layout)
	if err != nil {
		return t, err
	}
	t.Color = color
	t.Background = bg
	t.Layout = layout
	t.Font = coolled.FontRef(textFont)
	t.Height = textFontHeight
	t.AsImage = textAsImage
	if textNoMarkup {
		t.Markers = coolled.Markers{}
	}
	return t, nil
}

var imageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "Display a PNG, JPEG, GIF or BMP image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grid, err := render.LoadImage(appFs, args[0])
		if err != nil {
			return usage(err)
		}
		img, err := coolled.NewImage(grid)
		if err != nil {
			return err
		}
		if img.Layout, img.Background, err = imageLayout.resolve(img.Layout); err != nil {
			return err
		}
		return sendCommand(cmd, img)
	},
}

var animationCmd = &cobra.Command{
	Use:   "animation <file.gif>",
	Short: "Play an animated GIF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frames, err := render.LoadAnimation(appFs, args[0])
		if err != nil {
			return usage(err)
		}
		anim, err := coolled.NewAnimation(frames, animationSpeed)
		if err != nil {
			return err
		}
		if anim.Layout, anim.Background, err = animationLayout.resolve(anim.Layout); err != nil {
			return err
		}
		return sendCommand(cmd, anim)
	},
}

var jtCmd = &cobra.Command{
	Use:   "jt <file.jt>",
	Short: "Send a JT export from the phone app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(appFs, args[0])
		if err != nil {
			return err
		}
		jt, err := render.ParseJT(data)
		if err != nil {
			return usage(err)
		}
		if jt.PixelHeight != 0 && jt.PixelHeight != cfg.Panel.Height {
			fmt.Fprintf(os.Stderr, "warning: file is for a %dx%d sign, panel is %dx%d\n",
				jt.PixelWidth, jt.PixelHeight, cfg.Panel.Width, cfg.Panel.Height)
		}
		return sendCommand(cmd, jt.Command)
	},
}

// ============================================================
// Setting Commands
// ============================================================

// parseSwitch accepts on/off style arguments.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "yes":
		return true, nil
	case "off", "0", "false", "no":
		return false, nil
	}
	return false, usage(fmt.Errorf("expected on or off, got %q", s))
}

func parseIntArg(name, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, usage(fmt.Errorf("invalid %s %q", name, s))
	}
	return v, nil
}

var brightnessCmd = &cobra.Command{
	Use:   "brightness <0-100>",
	Short: "Set the panel brightness",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseIntArg("brightness", args[0])
		if err != nil {
			return err
		}
		c, err := coolled.NewBrightness(level)
		if err != nil {
			return err
		}
		return sendCommand(cmd, c)
	},
}

var speedCmd = &cobra.Command{
	Use:   "speed <0-255>",
	Short: "Set the scroll speed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseIntArg("speed", args[0])
		if err != nil {
			return err
		}
		c, err := coolled.NewSpeed(v)
		if err != nil {
			return err
		}
		return sendCommand(cmd, c)
	},
}

var modeCmd = &cobra.Command{
	Use:   "mode <static|left|right|up|down|snowflake|picture|laser>",
	Short: "Set how content moves",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := coolled.ParseMode(args[0])
		if err != nil {
			return usage(err)
		}
		c, err := coolled.NewMode(m)
		if err != nil {
			return err
		}
		return sendCommand(cmd, c)
	},
}

func switchCommand(use, short string, build func(on bool) coolled.Command) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <on|off>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			return sendCommand(cmd, build(on))
		},
	}
}

func simpleCommand(use, short string, c coolled.Command) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sendCommand(cmd, c)
		},
	}
}

var (
	musicHeights []int
	musicColors  []int
)

func toBytes(name string, vals []int) ([]uint8, error) {
	out := make([]uint8, len(vals))
	for i, v := range vals {
		if v < 0 || v > 0xFF {
			return nil, usage(fmt.Errorf("%s value %d out of range 0-255", name, v))
		}
		out[i] = uint8(v)
	}
	return out, nil
}

var musicCmd = &cobra.Command{
	Use:     "music",
	Short:   "Drive the equaliser bars",
	Example: `  marquee music --heights 1,3,5,7,9,7,5,3 --colors 0,1,2,3,4,5,6,7`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		heights, err := toBytes("height", musicHeights)
		if err != nil {
			return err
		}
		colors, err := toBytes("colour", musicColors)
		if err != nil {
			return err
		}
		c, err := coolled.NewMusic(heights, colors)
		if err != nil {
			return err
		}
		return sendCommand(cmd, c)
	},
}

var rawExpectAck bool

var rawCmd = &cobra.Command{
	Use:   "raw <hex>",
	Short: "Send pre-built wire bytes unmodified",
	Long: `Send bytes exactly as given. The bytes must already be a complete frame,
including the 0x01/0x03 markers and escaping.

  marquee raw "01 00 02 08 ff 03"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := coolled.NewRaw(strings.Join(args, ""), rawExpectAck)
		if err != nil {
			return err
		}
		return sendCommand(cmd, c)
	},
}

func init() {
	textCmd.Flags().StringVar(&textColor, "color", "#ffffff", "Text colour before the first tag")
	textCmd.Flags().StringVar(&textFont, "font", string(coolled.DefaultFont), "Font: go, gomono, basic or a font file")
	textCmd.Flags().IntVar(&textFontHeight, "font-height", coolled.DefaultFontHeight, "Font height in pixels")
	textCmd.Flags().BoolVar(&textAsImage, "as-image", false, "Send as an image without the text metadata block")
	textCmd.Flags().BoolVar(&textNoMarkup, "no-markup", false, "Treat < and > as literal text")
	textLayout.register(textCmd, coolled.DefaultLayout())

	imageLayout.register(imageCmd, coolled.DefaultLayout())

	animationCmd.Flags().IntVar(&animationSpeed, "speed", 100, "Frame delay in milliseconds (0-65535)")
	animationLayout.register(animationCmd, coolled.AnimationLayout())

	musicCmd.Flags().IntSliceVar(&musicHeights, "heights", nil, "Eight bar heights")
	musicCmd.Flags().IntSliceVar(&musicColors, "colors", []int{0, 1, 2, 3, 4, 5, 6, 7}, "Eight bar colour indexes (0-7)")
	_ = musicCmd.MarkFlagRequired("heights")

	rawCmd.Flags().BoolVar(&rawExpectAck, "ack", false, "Wait for a notification after writing")

	rootCmd.AddCommand(
		textCmd, imageCmd, animationCmd, jtCmd,
		brightnessCmd, speedCmd, modeCmd, musicCmd, rawCmd,
		switchCommand("power", "Switch the display on or off", func(on bool) coolled.Command { return coolled.OnOff{On: on} }),
		switchCommand("button", "Press the sign's power button", func(on bool) coolled.Command { return coolled.Button{On: on} }),
		switchCommand("invert", "Invert the display colours", func(on bool) coolled.Command { return coolled.Invert{Inverted: on} }),
		simpleCommand("mirror", "Flip the display", coolled.Mirror{}),
		simpleCommand("icon", "Show the charging icon", coolled.ShowIcon{}),
		simpleCommand("shutdown", "Power the sign down", coolled.PowerDown{}),
		simpleCommand("init", "Send the phone app's start-up command", coolled.NewInitialize()),
	)
}
