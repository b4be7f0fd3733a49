package protocol

import (
	"fmt"
)

// MaxPayloadLen is the hard cap imposed by the single-byte length field.
// Payloads above this cannot be represented on the wire.
const MaxPayloadLen = 255

const headerLen = 3

// Frame is one `[class][instruction][length][payload]` unit exchanged with
// the terminal.
type Frame struct {
	Class       byte
	Instruction byte
	Payload     []byte
}

func NewFrame(class, instruction byte, payload []byte) Frame {
	return Frame{Class: class, Instruction: instruction, Payload: payload}
}

// Encode serializes the frame for the wire.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayloadLen {
		return nil, fmt.Errorf("payload too large: %d", len(f.Payload))
	}

	raw := make([]byte, headerLen+len(f.Payload))
	raw[0] = f.Class
	raw[1] = f.Instruction
	raw[2] = byte(len(f.Payload))
	copy(raw[headerLen:], f.Payload)

	return raw, nil
}

// IsAck reports whether the frame is the fixed acknowledgement frame.
func (f Frame) IsAck() bool {
	return f.Class == ClassAck && f.Instruction == InsAck && len(f.Payload) == 0
}

// Text returns the payload interpreted as text.
func (f Frame) Text() string {
	return string(f.Payload)
}

// Decode attempts to parse one complete frame from the front of buf. It
// returns the frame, the unconsumed remainder, and ok=true on success.
// ok=false means buf does not yet hold a full frame and the caller must keep
// accumulating bytes; how the transport chunked the stream never matters.
func Decode(buf []byte) (Frame, []byte, bool) {
	if len(buf) < headerLen {
		return Frame{}, buf, false
	}
	ln := int(buf[2])
	if len(buf) < headerLen+ln {
		return Frame{}, buf, false
	}

	frame := Frame{
		Class:       buf[0],
		Instruction: buf[1],
	}
	if ln > 0 {
		frame.Payload = make([]byte, ln)
		copy(frame.Payload, buf[headerLen:headerLen+ln])
	}

	return frame, buf[headerLen+ln:], true
}

var ackFrame = []byte{ClassAck, InsAck, 0x00}

// AckBytes returns the literal 3-byte acknowledgement frame.
func AckBytes() []byte {
	out := make([]byte, len(ackFrame))
	copy(out, ackFrame)

	return out
}
