package engine

import (
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

// WorkoutParameters is the configuration of one set. It is immutable per
// set: edits made during rest produce a new value that takes effect at the
// next countdown, never the in-flight set. All weights are kilograms per
// cable; display-unit conversion happens outside the engine.
type WorkoutParameters struct {
	ExerciseID      int64
	ExerciseName    string
	Mode            protocol.Mode
	WeightKg        float64
	TargetReps      int // 0 means AMRAP
	WarmupReps      int
	EccentricPct    int
	EchoLevel       int
	RestSeconds     int
	DurationSeconds int // 0 means rep-based
}

// IsAMRAP reports whether the set has no fixed rep target.
func (p WorkoutParameters) IsAMRAP() bool {
	return p.TargetReps == 0
}

// IsTimed reports whether the set ends on a fixed duration.
func (p WorkoutParameters) IsTimed() bool {
	return p.DurationSeconds > 0
}

// program converts to the wire form.
func (p WorkoutParameters) program() protocol.ProgramParameters {
	return protocol.ProgramParameters{
		WeightKg:        p.WeightKg,
		Mode:            p.Mode,
		TargetReps:      clampUint8(p.TargetReps),
		WarmupReps:      clampUint8(p.WarmupReps),
		EccentricPct:    clampUint8(p.EccentricPct),
		EchoLevel:       clampUint8(p.EchoLevel),
		RestSeconds:     clampUint16(p.RestSeconds),
		DurationSeconds: clampUint16(p.DurationSeconds),
	}
}

func clampUint8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func clampUint16(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}
