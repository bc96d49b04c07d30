// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"bytes"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func commandIDGen() *rapid.Generator[byte] {
	return rapid.SampledFrom([]byte{
		CmdMusic, CmdText, CmdImage, CmdAnimation, CmdIcon, CmdMode, CmdSpeed,
		CmdBrightness, CmdSwitch, CmdTransfer, CmdInvert, CmdShowIcon,
		CmdPowerDown, CmdButtonOn, CmdMirror, CmdInitialize,
	})
}

// TestPropertyFrameRoundTrip verifies decode(encode(cmd, payload)) restores
// the command and payload.
func TestPropertyFrameRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		id := commandIDGen().Draw(t, "id")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 600).Draw(t, "payload")

		frame, err := EncodeFrame(id, payload)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		f, err := DecodeFrame(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if f.CommandID() != id {
			t.Fatalf("command 0x%02X, want 0x%02X", f.CommandID(), id)
		}
		if !bytes.Equal(f.Payload(), payload) {
			t.Fatalf("payload mismatch")
		}
		if f.HasChecksum() != checksummed(id) {
			t.Fatalf("checksum presence %v for 0x%02X", f.HasChecksum(), id)
		}
	})
}

// TestPropertyMarkersOnlyAtEdges verifies escaping leaves marker bytes only
// at the frame boundaries.
func TestPropertyMarkersOnlyAtEdges(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		id := commandIDGen().Draw(t, "id")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 300).Draw(t, "payload")

		frame := MustEncodeFrame(id, payload)
		if frame[0] != StartByte || frame[len(frame)-1] != EndByte {
			t.Fatalf("frame not delimited: % X", frame)
		}
		inner := frame[1 : len(frame)-1]
		if bytes.IndexByte(inner, StartByte) >= 0 || bytes.IndexByte(inner, EndByte) >= 0 {
			t.Fatalf("marker inside frame body: % X", frame)
		}
	})
}

// TestPropertyChecksumDetectsFlip verifies a single flipped payload bit in a
// checksummed frame is rejected.
func TestPropertyChecksumDetectsFlip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		id := rapid.SampledFrom([]byte{CmdText, CmdImage, CmdAnimation}).Draw(t, "id")
		payload := rapid.SliceOfN(rapid.Byte(), 1, 200).Draw(t, "payload")
		pos := rapid.IntRange(0, len(payload)-1).Draw(t, "pos")
		bit := rapid.IntRange(0, 7).Draw(t, "bit")

		sum := XORChecksum(payload)
		tampered := append([]byte(nil), payload...)
		tampered[pos] ^= 1 << bit

		body := []byte{0x00, 0x00, id}
		body = append(body, tampered...)
		body = append(body, sum)
		n := len(body) - lengthSize
		body[0], body[1] = byte(n>>8), byte(n)

		_, err := DecodeFrame(wrap(body))
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("expected checksum mismatch, got %v", err)
		}
	})
}

// TestPropertyChunkReassembly verifies chunks concatenate back to the
// payload and respect the MTU.
func TestPropertyChunkReassembly(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		id := rapid.SampledFrom([]byte{CmdText, CmdImage, CmdAnimation}).Draw(t, "id")
		mtu := rapid.IntRange(1, MaxChunkMTU).Draw(t, "mtu")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 2000).Draw(t, "payload")

		frames, err := EncodeChunks(id, payload, mtu)
		if err != nil {
			t.Fatalf("chunk: %v", err)
		}
		if want := max((len(payload)+mtu-1)/mtu, 1); len(frames) != want {
			t.Fatalf("%d frames, want %d", len(frames), want)
		}

		var r Reassembler
		var out []byte
		for i, raw := range frames {
			f, err := DecodeFrame(raw)
			if err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
			c, err := ParseChunk(f.Payload())
			if err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
			if len(c.Data) > mtu || (i < len(frames)-1 && len(c.Data) != mtu) {
				t.Fatalf("chunk %d has %d bytes with mtu %d", i, len(c.Data), mtu)
			}
			out, err = r.Add(f)
			if err != nil {
				t.Fatalf("reassemble %d: %v", i, err)
			}
			if out != nil && i != len(frames)-1 {
				t.Fatalf("payload complete after chunk %d of %d", i, len(frames))
			}
		}
		if !bytes.Equal(out, payload) {
			t.Fatalf("reassembled payload differs")
		}
	})
}

// TestPropertySplitChunks verifies splitting alone round trips for any mtu,
// including sizes the wire format cannot carry.
func TestPropertySplitChunks(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		mtu := rapid.IntRange(1, 4096).Draw(t, "mtu")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 6000).Draw(t, "payload")

		chunks, err := SplitChunks(payload, mtu)
		if err != nil {
			t.Fatalf("split: %v", err)
		}
		var out []byte
		for i, c := range chunks {
			if c.Index != i || c.Total != len(payload) {
				t.Fatalf("chunk %d tagged index %d total %d", i, c.Index, c.Total)
			}
			if len(c.Data) > mtu || (i < len(chunks)-1 && len(c.Data) != mtu) {
				t.Fatalf("chunk %d has %d bytes with mtu %d", i, len(c.Data), mtu)
			}
			if c.Terminal != (i == len(chunks)-1) {
				t.Fatalf("chunk %d terminal=%v", i, c.Terminal)
			}
			out = append(out, c.Data...)
		}
		if !bytes.Equal(out, payload) {
			t.Fatalf("concatenated chunks differ from payload")
		}
	})
}

// TestPropertyDecoderStream verifies the streaming decoder recovers every
// frame from a concatenated stream with junk between frames.
func TestPropertyDecoderStream(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 8).Draw(t, "count")
		var stream []byte
		var want [][]byte
		for i := 0; i < count; i++ {
			junk := rapid.SliceOfN(rapid.ByteRange(0x04, 0xFF), 0, 5).Draw(t, "junk")
			payload := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "payload")
			stream = append(stream, junk...)
			stream = append(stream, MustEncodeFrame(CmdSpeed, payload)...)
			want = append(want, payload)
		}

		frames, errs := NewDecoder().Feed(stream)
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if len(frames) != count {
			t.Fatalf("%d frames, want %d", len(frames), count)
		}
		for i, f := range frames {
			if !bytes.Equal(f.Payload(), want[i]) {
				t.Fatalf("frame %d payload mismatch", i)
			}
		}
	})
}
