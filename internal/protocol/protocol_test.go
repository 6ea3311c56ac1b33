package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStartGoldenFrame(t *testing.T) {
	frame := EncodeStart()
	want := make([]byte, FrameLen)
	want[0] = SyncByte
	want[1] = OpStart
	want[FrameLen-1] = 0xA0 // 0xA5 ^ 0x05
	assert.Equal(t, want, frame)
}

func TestEncodeCommandOpcodes(t *testing.T) {
	tests := []struct {
		name   string
		frame  []byte
		opcode byte
	}{
		{"Init", EncodeInit(), OpInit},
		{"InitPreset", EncodeInitPreset(), OpInitPreset},
		{"Start", EncodeStart(), OpStart},
		{"Stop", EncodeStop(), OpStop},
		{"OfficialStop", EncodeOfficialStop(), OpOfficialStop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opcode, payload, err := ParseFrame(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.opcode, opcode)
			assert.Equal(t, make([]byte, payloadEnd-payloadStart), payload)
		})
	}
}

func TestEncodeProgramParametersGoldenBytes(t *testing.T) {
	frame := EncodeProgramParameters(ProgramParameters{
		WeightKg:    42.5,
		Mode:        ModeTUT,
		TargetReps:  10,
		WarmupReps:  2,
		RestSeconds: 60,
	})
	require.Len(t, frame, FrameLen)
	assert.Equal(t, byte(SyncByte), frame[0])
	assert.Equal(t, OpSetProgram, frame[1])
	// 42.5 kg is 4250 centikg, 0x109A little-endian.
	assert.Equal(t, byte(0x9A), frame[2])
	assert.Equal(t, byte(0x10), frame[3])
	assert.Equal(t, byte(ModeTUT), frame[4])
	assert.Equal(t, byte(10), frame[5])
	assert.Equal(t, byte(2), frame[6])
	assert.Equal(t, byte(60), frame[9])
	assert.Equal(t, byte(0x1E), frame[FrameLen-1])
}

func TestProgramParametersRoundTrip(t *testing.T) {
	p := ProgramParameters{
		WeightKg:        77.25,
		Mode:            ModeEcho,
		TargetReps:      0, // AMRAP
		WarmupReps:      3,
		EccentricPct:    120,
		EchoLevel:       2,
		RestSeconds:     90,
		DurationSeconds: 300,
	}
	got, err := DecodeProgramParameters(EncodeProgramParameters(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestWeightResolutionAcrossRange(t *testing.T) {
	// Centikilogram encoding must survive a round trip at the finest
	// increment the UI offers, over the whole supported range.
	for w := 0.0; w <= MaxWeightKg; w += 0.5 {
		p, err := DecodeProgramParameters(EncodeProgramParameters(ProgramParameters{WeightKg: w}))
		require.NoError(t, err)
		assert.InDelta(t, w, p.WeightKg, 0.005, "weight %.2f", w)
	}
}

func TestWeightClamping(t *testing.T) {
	p, err := DecodeProgramParameters(EncodeProgramParameters(ProgramParameters{WeightKg: 500}))
	require.NoError(t, err)
	assert.Equal(t, MaxWeightKg, p.WeightKg)

	p, err = DecodeProgramParameters(EncodeProgramParameters(ProgramParameters{WeightKg: -10}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.WeightKg)
}

func TestTelemetryRoundTrip(t *testing.T) {
	sample := Telemetry{
		PositionMM:  [NumCables]uint16{812, 790},
		VelocityMMS: [NumCables]int16{-340, 120},
		TotalLoadKg: 35.0,
	}
	got, err := DecodeTelemetry(EncodeTelemetry(sample))
	require.NoError(t, err)
	assert.Equal(t, sample, got)
}

func TestTelemetryHelpers(t *testing.T) {
	sample := Telemetry{
		PositionMM:  [NumCables]uint16{100, 450},
		VelocityMMS: [NumCables]int16{-340, 120},
	}
	assert.Equal(t, uint16(450), sample.MaxPosition())
	assert.Equal(t, int16(340), sample.MaxAbsVelocity())
}

func TestTelemetryLoadNotClampedToProgrammedWeightCap(t *testing.T) {
	// Both cables loaded near the per-cable maximum.
	got, err := DecodeTelemetry(EncodeTelemetry(Telemetry{TotalLoadKg: 2 * MaxWeightKg}))
	require.NoError(t, err)
	assert.Equal(t, 2*MaxWeightKg, got.TotalLoadKg)

	got, err = DecodeTelemetry(EncodeTelemetry(Telemetry{TotalLoadKg: 150}))
	require.NoError(t, err)
	assert.Equal(t, 150.0, got.TotalLoadKg)

	got, err = DecodeTelemetry(EncodeTelemetry(Telemetry{TotalLoadKg: -5}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.TotalLoadKg)
}

func TestMaxAbsVelocitySaturatesAtInt16Minimum(t *testing.T) {
	sample := Telemetry{VelocityMMS: [NumCables]int16{math.MinInt16, 0}}
	assert.Equal(t, int16(math.MaxInt16), sample.MaxAbsVelocity())
}

func TestParseFrameRejectsMalformed(t *testing.T) {
	t.Run("WrongLength", func(t *testing.T) {
		_, _, err := ParseFrame([]byte{SyncByte, OpStart})
		assert.ErrorIs(t, err, ErrMalformedPacket)
	})

	t.Run("BadSyncByte", func(t *testing.T) {
		frame := EncodeStart()
		frame[0] = 0x00
		_, _, err := ParseFrame(frame)
		assert.ErrorIs(t, err, ErrMalformedPacket)
	})

	t.Run("ChecksumMismatch", func(t *testing.T) {
		frame := EncodeStart()
		frame[5] ^= 0xFF
		_, _, err := ParseFrame(frame)
		assert.ErrorIs(t, err, ErrMalformedPacket)
	})

	t.Run("UnknownOpcode", func(t *testing.T) {
		frame := make([]byte, FrameLen)
		frame[0] = SyncByte
		frame[1] = 0x7F
		frame[FrameLen-1] = checksum(frame[:FrameLen-1])
		_, _, err := ParseFrame(frame)
		assert.ErrorIs(t, err, ErrUnknownOpcode)
	})
}

func TestDecodeRejectsWrongOpcode(t *testing.T) {
	_, err := DecodeTelemetry(EncodeStart())
	assert.ErrorIs(t, err, ErrUnknownOpcode)

	_, err = DecodeProgramParameters(EncodeTelemetry(Telemetry{}))
	assert.ErrorIs(t, err, ErrUnknownOpcode)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "Echo", ModeEcho.String())
	assert.Equal(t, "OldSchool", ModeOldSchool.String())
	assert.Equal(t, "Mode(99)", Mode(99).String())
}
