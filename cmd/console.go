// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/render"
	"github.com/Thermoquad/marquee/pkg/session"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive TUI for driving a sign",
	Long: `Drive a sign from an interactive terminal UI.

Type text and press Enter to display it. Lines starting with / are commands,
such as /brightness 40 or /mode left; the panel on the left lists them.

Features:
  - One session kept open across commands, reconnecting after link loss
  - Live event log (attempts, retries, cache hits, faults)
  - Transfer statistics
  - Esc cancels the command in flight at the next chunk boundary

Tab switches between the input and the command list.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func init() {
	f := consoleCmd.Flags()
	f.StringVar(&textColor, "color", "#ffffff", "Text colour before the first tag")
	f.StringVar(&textFont, "font", string(coolled.DefaultFont), "Font: go, gomono, basic or a font file")
	f.IntVar(&textFontHeight, "font-height", coolled.DefaultFontHeight, "Font height in pixels")
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, _ []string) error {
	// Log lines would tear the alt screen
	quietConsoleLogging()

	events := make(chan session.Event, 64)
	conn, err := openSession(func(ev session.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := cmd.Context()
	m := newConsoleModel(ctx, conn.session, conn.description)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				p.Send(sessionEventMsg(ev))
			}
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// consoleCommand is one slash command offered by the console.
type consoleCommand struct {
	name  string
	args  string
	help  string
	build func(args []string) (coolled.Command, error)
}

func (c consoleCommand) Title() string       { return strings.TrimSpace("/" + c.name + " " + c.args) }
func (c consoleCommand) Description() string { return c.help }
func (c consoleCommand) FilterValue() string { return c.name }

func oneArg(args []string, what string) (string, error) {
	if len(args) != 1 {
		return "", usage(fmt.Errorf("expected %s", what))
	}
	return args[0], nil
}

func intCommand(build func(int) (coolled.Command, error), what string) func([]string) (coolled.Command, error) {
	return func(args []string) (coolled.Command, error) {
		s, err := oneArg(args, what)
		if err != nil {
			return nil, err
		}
		v, err := parseIntArg(what, s)
		if err != nil {
			return nil, err
		}
		return build(v)
	}
}

func switchArg(build func(bool) coolled.Command) func([]string) (coolled.Command, error) {
	return func(args []string) (coolled.Command, error) {
		s, err := oneArg(args, "on or off")
		if err != nil {
			return nil, err
		}
		on, err := parseSwitch(s)
		if err != nil {
			return nil, err
		}
		return build(on), nil
	}
}

func noArgs(c coolled.Command) func([]string) (coolled.Command, error) {
	return func(args []string) (coolled.Command, error) {
		if len(args) != 0 {
			return nil, usage(errors.New("takes no arguments"))
		}
		return c, nil
	}
}

// parseBytes reads a comma separated list of byte values.
func parseBytes(s, what string) ([]uint8, error) {
	var vals []int
	for _, part := range strings.Split(s, ",") {
		v, err := parseIntArg(what, strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return toBytes(what, vals)
}

var consoleCommands = []consoleCommand{
	{name: "brightness", args: "<0-100>", help: "Set the panel brightness",
		build: intCommand(func(v int) (coolled.Command, error) { return coolled.NewBrightness(v) }, "brightness")},
	{name: "speed", args: "<0-255>", help: "Set the scroll speed",
		build: intCommand(func(v int) (coolled.Command, error) { return coolled.NewSpeed(v) }, "speed")},
	{name: "mode", args: "<name>", help: "static left right up down snowflake picture laser",
		build: func(args []string) (coolled.Command, error) {
			s, err := oneArg(args, "a mode name")
			if err != nil {
				return nil, err
			}
			mode, err := coolled.ParseMode(s)
			if err != nil {
				return nil, usage(err)
			}
			return coolled.NewMode(mode)
		}},
	{name: "power", args: "<on|off>", help: "Switch the display",
		build: switchArg(func(on bool) coolled.Command { return coolled.OnOff{On: on} })},
	{name: "invert", args: "<on|off>", help: "Invert the display colours",
		build: switchArg(func(on bool) coolled.Command { return coolled.Invert{Inverted: on} })},
	{name: "button", args: "<on|off>", help: "Press the power button",
		build: switchArg(func(on bool) coolled.Command { return coolled.Button{On: on} })},
	{name: "image", args: "<file>", help: "Show a still image",
		build: func(args []string) (coolled.Command, error) {
			path, err := oneArg(args, "an image file")
			if err != nil {
				return nil, err
			}
			grid, err := render.LoadImage(appFs, path)
			if err != nil {
				return nil, err
			}
			return coolled.NewImage(grid)
		}},
	{name: "animation", args: "<file.gif> [delay-ms]", help: "Play an animated GIF",
		build: func(args []string) (coolled.Command, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, usage(errors.New("expected a GIF file and an optional delay"))
			}
			frames, err := render.LoadAnimation(appFs, args[0])
			if err != nil {
				return nil, err
			}
			speed := 100
			if len(args) == 2 {
				if speed, err = parseIntArg("delay", args[1]); err != nil {
					return nil, err
				}
			}
			return coolled.NewAnimation(frames, speed)
		}},
	{name: "jt", args: "<file.jt>", help: "Send a phone app export",
		build: func(args []string) (coolled.Command, error) {
			path, err := oneArg(args, "a JT file")
			if err != nil {
				return nil, err
			}
			jt, err := render.LoadJT(appFs, path)
			if err != nil {
				return nil, err
			}
			return jt.Command, nil
		}},
	{name: "music", args: "<h1,..,h8> [c1,..,c8]", help: "Drive the equaliser bars",
		build: func(args []string) (coolled.Command, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, usage(errors.New("expected eight heights and optional colours"))
			}
			heights, err := parseBytes(args[0], "height")
			if err != nil {
				return nil, err
			}
			colors := []uint8{0, 1, 2, 3, 4, 5, 6, 7}
			if len(args) == 2 {
				if colors, err = parseBytes(args[1], "colour"); err != nil {
					return nil, err
				}
			}
			return coolled.NewMusic(heights, colors)
		}},
	{name: "raw", args: "<hex>", help: "Send wire bytes unmodified",
		build: func(args []string) (coolled.Command, error) {
			return coolled.NewRaw(strings.Join(args, ""), false)
		}},
	{name: "mirror", help: "Flip the display", build: noArgs(coolled.Mirror{})},
	{name: "icon", help: "Show the charging icon", build: noArgs(coolled.ShowIcon{})},
	{name: "shutdown", help: "Power the sign down", build: noArgs(coolled.PowerDown{})},
	{name: "init", help: "Send the start-up command", build: noArgs(coolled.NewInitialize())},
}

// parseConsoleLine turns an input line into a command. Plain lines are text;
// "//" escapes a leading slash.
func parseConsoleLine(line string) (coolled.Command, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil, usage(errors.New("nothing to send"))
	case strings.HasPrefix(line, "//"):
		return buildText(line[1:])
	case !strings.HasPrefix(line, "/"):
		return buildText(line)
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return nil, usage(errors.New("missing command name"))
	}
	for _, c := range consoleCommands {
		if c.name == fields[0] {
			cmd, err := c.build(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("/%s: %w", c.name, err)
			}
			return cmd, nil
		}
	}
	return nil, usage(fmt.Errorf("unknown command /%s", fields[0]))
}
