// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import "fmt"

var statusNames = map[Status]string{
	StatusSuccess:            "success",
	StatusTransmissionFailed: "transmission failed",
	StatusDeviceAbnormality:  "device abnormality",
	StatusDataError:          "data error",
	StatusDataLengthError:    "data length error",
	StatusDataIDError:        "data id error",
	StatusDataChecksumError:  "data checksum error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%02X", uint8(s))
}

// Failed reports whether the device rejected the data it acknowledged
func (s Status) Failed() bool {
	return s >= StatusTransmissionFailed && s <= StatusDataChecksumError
}

// Reply is a device notification reduced to the command it answers and a
// status code.
type Reply struct {
	CommandID byte
	Status    Status
	HasStatus bool
	Data      []byte // notification bytes after unframing
}

// ParseReply interprets one notification. Devices answer either with a
// framed reply or with bare [command, status] bytes; both are accepted.
// An empty notification is still an acknowledgement.
func ParseReply(notification []byte) Reply {
	data := notification
	if len(data) >= 2 && data[0] == StartByte && data[len(data)-1] == EndByte {
		if f, err := DecodeFrame(data); err == nil {
			data = append([]byte{f.CommandID()}, f.Payload()...)
		}
	}

	r := Reply{Data: append([]byte(nil), data...)}
	if len(data) > 0 {
		r.CommandID = data[0]
	}
	if len(data) > 1 {
		r.Status = Status(data[1])
		r.HasStatus = true
	}
	return r
}

// Rejected reports whether the reply carries a failure status. Transfer
// replies answer cache probes and are never rejections.
func (r Reply) Rejected() bool {
	return r.CommandID != CmdTransfer && r.HasStatus && r.Status.Failed()
}

// Cached interprets the reply to a cache probe. Anything other than an
// explicit cached answer means the payload must be sent in full.
func (r Reply) Cached() bool {
	return r.CommandID == CmdTransfer && r.HasStatus && byte(r.Status) == ProbeCached
}
