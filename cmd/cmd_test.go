// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/marquee/pkg/config"
	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/session"
)

// resetFlags puts the root flags and configuration back after a test.
func resetFlags(t *testing.T) {
	t.Helper()
	fs := appFs
	t.Cleanup(func() {
		rootCmd.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
		cfg = config.Default()
		configPath = ""
		appFs = fs
	})
}

// ============================================================
// Exit Code Tests
// ============================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"usage", usage(errors.New("bad flag")), 2},
		{"config", fmt.Errorf("load: %w", config.ErrInvalid), 2},
		{"command", fmt.Errorf("send: %w", coolled.ErrInvalidCommand), 2},
		{"device", &session.FaultError{Attempts: 3, Cause: session.ErrTransportTimeout}, 1},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

// ============================================================
// Configuration Tests
// ============================================================

func TestSetup_FlagsOverrideFile(t *testing.T) {
	resetFlags(t)
	appFs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(appFs, "/etc/marquee.toml", []byte(`
address = "AA:BB:CC:DD:EE:FF"
log_level = "warn"

[session]
mtu = 100
retry_attempts = 2
`), 0o644))

	require.NoError(t, rootCmd.ParseFlags([]string{
		"--config", "/etc/marquee.toml",
		"--mtu", "64",
		"--port", "/dev/ttyUSB0",
		"--no-cache-probe",
	}))
	require.NoError(t, setup(rootCmd, nil))

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Address)
	assert.Equal(t, 64, cfg.Session.MTU)
	assert.Equal(t, uint32(2), cfg.Session.RetryAttempts)
	assert.False(t, cfg.Session.CacheProbe)
	assert.Equal(t, config.TransportSerial, cfg.Transport, "--port selects the serial transport")
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
}

func TestSetup_Errors(t *testing.T) {
	resetFlags(t)
	appFs = afero.NewMemMapFs()

	require.NoError(t, rootCmd.ParseFlags([]string{"--config", "/missing.toml"}))
	err := setup(rootCmd, nil)
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err), "an explicit config file must exist")

	require.NoError(t, rootCmd.ParseFlags([]string{"--config", "", "--mtu", "300"}))
	err = setup(rootCmd, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOpenTransport_NeedsAddress(t *testing.T) {
	c := config.Default()
	_, _, _, err := openTransport(c)
	assert.Equal(t, 2, ExitCode(err))

	c.Transport = config.TransportSerial
	c.Serial.Port = "/dev/ttyACM0"
	_, address, desc, err := openTransport(c)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", address)
	assert.Contains(t, desc, "115200")
}

// ============================================================
// Text Flag Tests
// ============================================================

func TestBuildText(t *testing.T) {
	resetFlags(t)
	require.NoError(t, textCmd.ParseFlags([]string{
		"--color", "#ff0000",
		"--halign", "center",
		"--width-mode", "pad",
		"--font", "basic",
	}))
	t.Cleanup(func() {
		textCmd.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	})

	txt, err := buildText("Hi")
	require.NoError(t, err)
	assert.Equal(t, coolled.RGB{R: 0xFF}, txt.Color)
	assert.Equal(t, coolled.AlignCenter, txt.Layout.HAlign)
	assert.Equal(t, coolled.Pad, txt.Layout.Width)
	assert.Equal(t, coolled.AlignMiddle, txt.Layout.VAlign, "unset alignment keeps the default")
	assert.Equal(t, coolled.FontRef("basic"), txt.Font)
}

func TestLayoutFlags_Errors(t *testing.T) {
	tests := []layoutFlags{
		{widthMode: "stretch", heightMode: "crop", background: "#000000"},
		{widthMode: "as-is", heightMode: "crop", hAlign: "middle", background: "#000000"},
		{widthMode: "as-is", heightMode: "crop", background: "purple-ish"},
	}
	for _, l := range tests {
		_, _, err := l.resolve(coolled.DefaultLayout())
		assert.Equal(t, 2, ExitCode(err), "%+v", l)
	}
}

// ============================================================
// Decode Tests
// ============================================================

func TestDecodeStream(t *testing.T) {
	payload := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x7F}, 20)
	chunks, err := coolled.EncodeChunks(coolled.CmdImage, payload, 32)
	require.NoError(t, err)

	var capture []byte
	capture = append(capture, 0x55, 0xAA) // line noise before the first frame
	capture = append(capture, coolled.MustEncodeFrame(coolled.CmdBrightness, []byte{0x80})...)
	for _, c := range chunks {
		capture = append(capture, c...)
	}

	var out bytes.Buffer
	stats := decodeStream(&out, capture, coolled.Outbound, true)

	assert.Equal(t, 1+len(chunks), stats.Frames)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, 2, stats.Dropped)
	assert.Equal(t, 1, stats.Payloads)
	assert.Equal(t, len(chunks), stats.Commands[coolled.CmdImage])
	assert.Contains(t, out.String(), "Brightness")
	assert.Contains(t, out.String(), fmt.Sprintf("%d bytes, fingerprint 0x%04X", len(payload), coolled.Fingerprint(payload)))
	assert.Contains(t, stats.String(), "Payloads: 1 reassembled")
}

func TestDecodeStream_Errors(t *testing.T) {
	frame := coolled.MustEncodeFrame(coolled.CmdSpeed, []byte{0x10})
	truncated := frame[:len(frame)-2]

	var out bytes.Buffer
	stats := decodeStream(&out, append(append([]byte{}, truncated...), frame...), coolled.Inbound, false)
	assert.Equal(t, 1, stats.Frames)
	assert.Equal(t, 1, stats.Errors, "abandoned frame")
	assert.Contains(t, out.String(), "[ERROR]")
	assert.NotContains(t, out.String(), "Speed", "quiet mode only prints errors")

	out.Reset()
	stats = decodeStream(&out, truncated, coolled.Inbound, false)
	assert.Equal(t, 1, stats.Errors)
	assert.Contains(t, out.String(), "capture ends inside a frame")
}

// ============================================================
// Console Tests
// ============================================================

func TestParseConsoleLine(t *testing.T) {
	tests := []struct {
		line string
		want coolled.Command
	}{
		{"/brightness 50", coolled.Brightness{Level: 50}},
		{"/speed 7", coolled.Speed{Value: 7}},
		{"/mode laser", coolled.SetMode{Mode: coolled.ModeLaser}},
		{"/power off", coolled.OnOff{On: false}},
		{"/invert on", coolled.Invert{Inverted: true}},
		{"/mirror", coolled.Mirror{}},
		{"/raw 01 00 02 08 ff 03", coolled.Raw{Data: []byte{0x01, 0x00, 0x02, 0x08, 0xFF, 0x03}}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseConsoleLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	txt, err := parseConsoleLine("  Hello <#00ff00>world ")
	require.NoError(t, err)
	assert.Equal(t, "Hello <#00ff00>world", txt.(coolled.Text).Markup)

	txt, err = parseConsoleLine("//not a command")
	require.NoError(t, err)
	assert.Equal(t, "/not a command", txt.(coolled.Text).Markup)

	music, err := parseConsoleLine("/music 1,2,3,4,5,6,7,8 7,6,5,4,3,2,1,0")
	require.NoError(t, err)
	assert.Equal(t, [8]uint8{7, 6, 5, 4, 3, 2, 1, 0}, music.(coolled.Music).Colors)
}

func TestParseConsoleLine_Errors(t *testing.T) {
	for _, line := range []string{"", "/", "/nope", "/brightness", "/brightness 101", "/mode sideways", "/mirror now", "/music 1,2"} {
		_, err := parseConsoleLine(line)
		assert.Error(t, err, line)
	}
}

type fakeSession struct {
	sent  []coolled.Command
	err   error
	state session.State
}

func (f *fakeSession) Send(_ context.Context, cmd coolled.Command) (*session.Result, error) {
	f.sent = append(f.sent, cmd)
	if f.err != nil {
		return nil, f.err
	}
	return &session.Result{Command: cmd.Name(), Attempts: 1, FramesWritten: 1}, nil
}

func (f *fakeSession) Stats() session.Stats {
	return session.Stats{Sends: uint64(len(f.sent))}
}

func (f *fakeSession) State() session.State { return f.state }

func typeLine(t *testing.T, m consoleModel, line string) (consoleModel, tea.Cmd) {
	t.Helper()
	m.input.SetValue(line)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(consoleModel), cmd
}

func TestConsoleModel_Send(t *testing.T) {
	fake := &fakeSession{state: session.StateConnected}
	m := newConsoleModel(context.Background(), fake, "test")

	m, cmd := typeLine(t, m, "/brightness 40")
	require.NotNil(t, cmd)
	assert.Equal(t, "brightness", m.sending)
	assert.Empty(t, m.input.Value())

	// A second line is refused while the first is in flight
	m, busy := typeLine(t, m, "/speed 3")
	assert.Nil(t, busy)
	require.NotEmpty(t, m.events)
	assert.Contains(t, m.events[len(m.events)-1].message, "still sending")

	done := cmd()
	next, _ := m.Update(done)
	m = next.(consoleModel)
	assert.Empty(t, m.sending)
	assert.Nil(t, m.cancel)
	assert.Equal(t, []coolled.Command{coolled.Brightness{Level: 40}}, fake.sent)
	assert.Equal(t, uint64(1), m.stats.Sends)
}

func TestConsoleModel_Errors(t *testing.T) {
	fake := &fakeSession{err: errors.New("encoder exploded")}
	m := newConsoleModel(context.Background(), fake, "test")

	m, cmd := typeLine(t, m, "/mode sideways")
	assert.Nil(t, cmd)
	assert.Equal(t, levelError, m.events[len(m.events)-1].level)

	m, cmd = typeLine(t, m, "hello")
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	m = next.(consoleModel)
	assert.Contains(t, m.events[len(m.events)-1].message, "encoder exploded")

	// Faults are already reported by the session event
	before := len(m.events)
	next, _ = m.Update(sendDoneMsg{command: "text", err: &session.FaultError{Attempts: 5, Cause: session.ErrTransportTimeout}})
	m = next.(consoleModel)
	assert.Len(t, m.events, before)
}

func TestConsoleModel_Events(t *testing.T) {
	m := newConsoleModel(context.Background(), &fakeSession{}, "test")

	for _, ev := range []session.Event{
		{Kind: session.EventConnected},
		{Kind: session.EventAttemptFailed, Command: "text", Attempt: 1, Remaining: 4, Err: session.ErrTransportTimeout},
		{Kind: session.EventSent, Result: &session.Result{Command: "text", CacheHit: true, Attempts: 2}},
	} {
		next, _ := m.Update(sessionEventMsg(ev))
		m = next.(consoleModel)
	}

	require.Len(t, m.events, 3)
	assert.Equal(t, levelWarn, m.events[1].level)
	assert.Contains(t, m.events[1].message, "4 left")
	assert.Contains(t, m.events[2].message, "cache hit")
	assert.Contains(t, m.View(), "MARQUEE CONSOLE")
}

func TestConsoleModel_CommandList(t *testing.T) {
	m := newConsoleModel(context.Background(), &fakeSession{}, "test")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(consoleModel)
	assert.Equal(t, focusCommands, m.focus)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(consoleModel)
	assert.Equal(t, focusInput, m.focus)
	assert.Equal(t, "/"+consoleCommands[0].name+" ", m.input.Value())
}
