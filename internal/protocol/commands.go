package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Mode is the training mode byte in the program parameters frame.
// Firmware-defined values; do not renumber.
type Mode byte

const (
	ModeOldSchool Mode = iota
	ModeTUT
	ModePump
	ModeEccentricOnly
	ModeTUTBeast
	ModeEcho
)

func (m Mode) String() string {
	switch m {
	case ModeOldSchool:
		return "OldSchool"
	case ModeTUT:
		return "TUT"
	case ModePump:
		return "Pump"
	case ModeEccentricOnly:
		return "EccentricOnly"
	case ModeTUTBeast:
		return "TUTBeast"
	case ModeEcho:
		return "Echo"
	default:
		return fmt.Sprintf("Mode(%d)", byte(m))
	}
}

// MaxWeightKg is the machine's per-cable load ceiling.
const MaxWeightKg = 110.0

// ProgramParameters is the wire form of one set's configuration.
// WeightKg is per cable and travels as centikilograms (uint16), so the
// usable resolution is 0.01 kg; this struct is the single conversion point.
type ProgramParameters struct {
	WeightKg        float64
	Mode            Mode
	TargetReps      uint8 // 0 means AMRAP
	WarmupReps      uint8
	EccentricPct    uint8
	EchoLevel       uint8
	RestSeconds     uint16
	DurationSeconds uint16 // 0 means rep-based, not timed
}

// EncodeInit builds the primary initialization frame.
func EncodeInit() []byte {
	return buildFrame(OpInit, nil)
}

// EncodeInitPreset builds the secondary "preset" initialization frame some
// firmware revisions require after the primary init.
func EncodeInitPreset() []byte {
	return buildFrame(OpInitPreset, nil)
}

// EncodeStart builds the start-set frame. Fire-and-forget: the machine does
// not ack it, telemetry starting to flow is the confirmation.
func EncodeStart() []byte {
	return buildFrame(OpStart, nil)
}

// EncodeStop builds the primary stop frame. Fire-and-forget.
func EncodeStop() []byte {
	return buildFrame(OpStop, nil)
}

// EncodeOfficialStop builds the manufacturer-sanctioned stop sequence. Some
// firmware revisions need both Stop and OfficialStop for full motor
// disengagement, so the two stay separate commands.
func EncodeOfficialStop() []byte {
	return buildFrame(OpOfficialStop, nil)
}

// EncodeProgramParameters builds the program-parameters frame for one set.
func EncodeProgramParameters(p ProgramParameters) []byte {
	payload := make([]byte, 11)
	binary.LittleEndian.PutUint16(payload[0:2], kgToCentikg(p.WeightKg))
	payload[2] = byte(p.Mode)
	payload[3] = p.TargetReps
	payload[4] = p.WarmupReps
	payload[5] = p.EccentricPct
	payload[6] = p.EchoLevel
	binary.LittleEndian.PutUint16(payload[7:9], p.RestSeconds)
	binary.LittleEndian.PutUint16(payload[9:11], p.DurationSeconds)
	return buildFrame(OpSetProgram, payload)
}

// DecodeProgramParameters parses a program-parameters frame.
func DecodeProgramParameters(buf []byte) (ProgramParameters, error) {
	opcode, payload, err := ParseFrame(buf)
	if err != nil {
		return ProgramParameters{}, err
	}
	if opcode != OpSetProgram {
		return ProgramParameters{}, fmt.Errorf("%w: 0x%02X is not program parameters", ErrUnknownOpcode, opcode)
	}
	return ProgramParameters{
		WeightKg:        centikgToKg(binary.LittleEndian.Uint16(payload[0:2])),
		Mode:            Mode(payload[2]),
		TargetReps:      payload[3],
		WarmupReps:      payload[4],
		EccentricPct:    payload[5],
		EchoLevel:       payload[6],
		RestSeconds:     binary.LittleEndian.Uint16(payload[7:9]),
		DurationSeconds: binary.LittleEndian.Uint16(payload[9:11]),
	}, nil
}

func kgToCentikg(kg float64) uint16 {
	if kg < 0 {
		return 0
	}
	if kg > MaxWeightKg {
		kg = MaxWeightKg
	}
	return uint16(math.Round(kg * 100))
}

func centikgToKg(centikg uint16) float64 {
	return float64(centikg) / 100
}
