// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package coolled implements the CoolLED sign wire protocol.
//
// The package is pure: frame encoding and decoding, the pixel packer, the
// command encoders and payload chunking never touch a transport. Sessions,
// retries and acknowledgements live in pkg/session.
package coolled

// Protocol framing bytes
const (
	StartByte = 0x01
	EscByte   = 0x02
	EndByte   = 0x03
	EscOffset = 0x04
)

// Frame size limits
const (
	MaxFrameLength  = 0xFFFF // largest value of the 16-bit length field
	DefaultChunkMTU = 128
	MaxChunkMTU     = 0xFF // chunk length travels in a single byte
	lengthSize      = 2
	maxEscapedFrame = 2 + 2*(lengthSize+MaxFrameLength)
)

// Command bytes
const (
	CmdMusic       = 0x01
	CmdText        = 0x02
	CmdImage       = 0x03
	CmdAnimation   = 0x04
	CmdButtonOff   = 0x05 // shares the icon byte
	CmdMode        = 0x06
	CmdSpeed       = 0x07
	CmdBrightness  = 0x08
	CmdSwitch      = 0x09
	CmdTransfer    = 0x0A
	CmdInvert      = 0x0C
	CmdClear       = 0x0D
	CmdShowIcon    = 0x11
	CmdPowerDown   = 0x12
	CmdButtonOn    = 0x13
	CmdMirror      = 0x15
	CmdRequest     = 0x1F
	CmdInitialize  = 0x23
	CmdIcon        = CmdButtonOff
	musicBarCount  = 8
	maxMusicColour = 7
)

// Display modes
const (
	ModeStatic    Mode = 0x01
	ModeLeft      Mode = 0x02
	ModeRight     Mode = 0x03
	ModeUp        Mode = 0x04
	ModeDown      Mode = 0x05
	ModeSnowflake Mode = 0x06
	ModePicture   Mode = 0x07
	ModeLaser     Mode = 0x08
)

// Device status codes carried in acknowledgement replies
const (
	StatusSuccess            Status = 0x00
	StatusTransmissionFailed Status = 0x01
	StatusDeviceAbnormality  Status = 0x02
	StatusDataError          Status = 0x03
	StatusDataLengthError    Status = 0x04
	StatusDataIDError        Status = 0x05
	StatusDataChecksumError  Status = 0x06
)

// Cache probe reply codes
const (
	ProbeNeedFull byte = 0x00
	ProbeCached   byte = 0x01
)

// Image payload layout
const (
	imageHeaderSize       = 24
	textMetaBuffer        = 80
	textMetaBufferLong    = 79
	textMetaChar          = 0x30
	maxShortTextLength    = 0xFF
	maxAnimationFrames    = 0xFF
	DefaultAnimationSpeed = 512
)

// Default panel geometry of a CoolLEDX sign
const (
	DefaultPanelWidth  = 96
	DefaultPanelHeight = 16
	pixelsPerByte      = 8
)

// CRC-16-CCITT configuration used for payload fingerprints
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Mode selects how the sign moves its content.
type Mode uint8

// Status is a device status code.
type Status uint8

// checksummed reports whether frames of the given command family carry a
// trailing XOR checksum.
func checksummed(commandID byte) bool {
	switch commandID {
	case CmdText, CmdImage, CmdAnimation:
		return true
	}
	return false
}
