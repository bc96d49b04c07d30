// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_SingleFrame(t *testing.T) {
	d := NewDecoder()
	raw := mustHex(t, "0100020607020503")

	var got *Frame
	for i, b := range raw {
		f, err := d.DecodeByte(b)
		require.NoError(t, err)
		if i < len(raw)-1 {
			assert.Nil(t, f, "frame returned early at byte %d", i)
			continue
		}
		got = f
	}
	require.NotNil(t, got)
	assert.Equal(t, byte(CmdSpeed), got.CommandID())
	assert.Empty(t, d.GetRawBytes())
}

func TestDecoder_SkipsNoise(t *testing.T) {
	d := NewDecoder()
	frames, errs := d.Feed(append([]byte{0xAA, 0xBB, 0x03}, mustHex(t, "01000206070003")...))
	assert.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, 3, d.Dropped())
}

func TestDecoder_RestartOnStartMarker(t *testing.T) {
	d := NewDecoder()
	stream := append(mustHex(t, "010002"), mustHex(t, "0100020607ff03")...)
	frames, errs := d.Feed(stream)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrIncomplete)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0xFF}, frames[0].Payload())
}

func TestDecoder_ReportsBadFrame(t *testing.T) {
	d := NewDecoder()
	frames, errs := d.Feed(mustHex(t, "01001d0206000206150004150000000000000000000000000000000000000000000703"))
	assert.Empty(t, frames)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrChecksumMismatch)

	// The decoder is usable again after an error
	frames, errs = d.Feed(mustHex(t, "0100020607020503"))
	assert.Empty(t, errs)
	assert.Len(t, frames, 1)
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	_, _ = d.Feed([]byte{0x01, 0x00})
	assert.NotEmpty(t, d.GetRawBytes())
	d.Reset()
	assert.Empty(t, d.GetRawBytes())
}
