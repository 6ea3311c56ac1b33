package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// NumCables is how many independent cables the machine drives.
const NumCables = 2

// Telemetry is one decoded telemetry sample. The machine pushes these over
// the notify characteristic at roughly 10 Hz while a set is running.
type Telemetry struct {
	// PositionMM is cable extension from the fully retracted stop, per cable.
	PositionMM [NumCables]uint16

	// VelocityMMS is signed cable velocity; positive is pulling out.
	VelocityMMS [NumCables]int16

	// TotalLoadKg is the combined resistance currently applied across both
	// cables, as reported by the machine.
	TotalLoadKg float64
}

// EncodeTelemetry builds a telemetry frame. The machine is the normal
// sender; this side only encodes for the simulated device and tests.
func EncodeTelemetry(t Telemetry) []byte {
	payload := make([]byte, 10)
	binary.LittleEndian.PutUint16(payload[0:2], t.PositionMM[0])
	binary.LittleEndian.PutUint16(payload[2:4], t.PositionMM[1])
	binary.LittleEndian.PutUint16(payload[4:6], uint16(t.VelocityMMS[0]))
	binary.LittleEndian.PutUint16(payload[6:8], uint16(t.VelocityMMS[1]))
	binary.LittleEndian.PutUint16(payload[8:10], loadToCentikg(t.TotalLoadKg))
	return buildFrame(OpTelemetry, payload)
}

// loadToCentikg converts a combined load reading for the wire. Unlike the
// programmed per-cable weight, total load across both cables can exceed
// MaxWeightKg, so it only saturates at the uint16 ceiling.
func loadToCentikg(kg float64) uint16 {
	if kg < 0 {
		return 0
	}
	centikg := math.Round(kg * 100)
	if centikg > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(centikg)
}

// DecodeTelemetry parses a telemetry frame.
func DecodeTelemetry(buf []byte) (Telemetry, error) {
	opcode, payload, err := ParseFrame(buf)
	if err != nil {
		return Telemetry{}, err
	}
	if opcode != OpTelemetry {
		return Telemetry{}, fmt.Errorf("%w: 0x%02X is not telemetry", ErrUnknownOpcode, opcode)
	}
	return Telemetry{
		PositionMM:  [NumCables]uint16{binary.LittleEndian.Uint16(payload[0:2]), binary.LittleEndian.Uint16(payload[2:4])},
		VelocityMMS: [NumCables]int16{int16(binary.LittleEndian.Uint16(payload[4:6])), int16(binary.LittleEndian.Uint16(payload[6:8]))},
		TotalLoadKg: centikgToKg(binary.LittleEndian.Uint16(payload[8:10])),
	}, nil
}

// MaxPosition returns the larger of the two cable positions. Rep detection
// tracks the dominant cable so single-arm exercises still count.
func (t Telemetry) MaxPosition() uint16 {
	if t.PositionMM[1] > t.PositionMM[0] {
		return t.PositionMM[1]
	}
	return t.PositionMM[0]
}

// MaxAbsVelocity returns the largest cable speed regardless of direction.
func (t Telemetry) MaxAbsVelocity() int16 {
	max := absSpeed(t.VelocityMMS[0])
	if v := absSpeed(t.VelocityMMS[1]); v > max {
		max = v
	}
	return max
}

// absSpeed saturates at MaxInt16 because -MinInt16 does not fit in int16.
func absSpeed(v int16) int16 {
	if v == math.MinInt16 {
		return math.MaxInt16
	}
	if v < 0 {
		return -v
	}
	return v
}
