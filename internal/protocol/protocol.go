// Package protocol implements the byte-level command codec for the cable
// resistance machine. Every frame the firmware understands is a fixed-length
// binary packet; this package is the only place wire encoding, fixed-point
// conversion and checksums happen. It is pure: no state, no I/O.
package protocol

import (
	"errors"
	"fmt"
)

const (
	// FrameLen is the fixed length of every packet, chosen by the firmware
	// to fit a default-MTU BLE notification.
	FrameLen = 20

	// SyncByte starts every frame.
	SyncByte = 0xA5

	payloadStart = 2
	payloadEnd   = FrameLen - 1
)

// Opcodes understood by the machine. These are firmware-defined constants;
// do not renumber.
const (
	OpInit         byte = 0x01
	OpInitPreset   byte = 0x02
	OpSetProgram   byte = 0x04
	OpStart        byte = 0x05
	OpStop         byte = 0x06
	OpOfficialStop byte = 0x0A
	OpTelemetry    byte = 0x61
)

var (
	// ErrMalformedPacket indicates a frame with the wrong length, a bad sync
	// byte or a checksum mismatch. Callers drop the frame and log; they must
	// never crash on it.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrUnknownOpcode indicates a structurally valid frame whose opcode is
	// not recognized.
	ErrUnknownOpcode = errors.New("unknown opcode")
)

// buildFrame assembles a frame with the given opcode and payload. The
// payload must fit in the fixed payload area; it is zero-padded.
func buildFrame(opcode byte, payload []byte) []byte {
	if len(payload) > payloadEnd-payloadStart {
		panic(fmt.Sprintf("protocol: payload too long: %d", len(payload)))
	}
	frame := make([]byte, FrameLen)
	frame[0] = SyncByte
	frame[1] = opcode
	copy(frame[payloadStart:], payload)
	frame[FrameLen-1] = checksum(frame[:FrameLen-1])
	return frame
}

// checksum is an XOR over all bytes before the checksum byte.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// ParseFrame validates the framing of buf and returns its opcode and a view
// of its payload. It does not interpret the payload.
func ParseFrame(buf []byte) (opcode byte, payload []byte, err error) {
	if len(buf) != FrameLen {
		return 0, nil, fmt.Errorf("%w: length %d, want %d", ErrMalformedPacket, len(buf), FrameLen)
	}
	if buf[0] != SyncByte {
		return 0, nil, fmt.Errorf("%w: bad sync byte 0x%02X", ErrMalformedPacket, buf[0])
	}
	if got, want := buf[FrameLen-1], checksum(buf[:FrameLen-1]); got != want {
		return 0, nil, fmt.Errorf("%w: checksum 0x%02X, want 0x%02X", ErrMalformedPacket, got, want)
	}
	switch buf[1] {
	case OpInit, OpInitPreset, OpSetProgram, OpStart, OpStop, OpOfficialStop, OpTelemetry:
	default:
		return 0, nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, buf[1])
	}
	return buf[1], buf[payloadStart:payloadEnd], nil
}
