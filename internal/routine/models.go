// Package routine holds the workout plan model (exercises, routines,
// multi-day training cycles) and the flow controller that sequences a plan
// through the session engine one set at a time.
package routine

import (
	"time"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

// Exercise is one movement from the catalog.
type Exercise struct {
	ID              int64
	Name            string
	MuscleGroup     string
	DefaultWeightKg float64
}

// RoutineItem is one exercise entry inside a routine.
type RoutineItem struct {
	ExerciseID int64
	Sets       int
	Reps       int // 0 means AMRAP
	WeightKg   float64
	Mode       protocol.Mode

	// SupersetGroup links consecutive items into a superset; zero means
	// the item stands alone. Items sharing a non-zero group value execute
	// back-to-back with the shortened superset rest.
	SupersetGroup int

	EccentricPct    int
	EchoLevel       int
	RestSeconds     int
	DurationSeconds int
	WarmupReps      int
}

// Routine is an ordered list of exercise items.
type Routine struct {
	ID    int64
	Name  string
	Items []RoutineItem
}

// DayKind distinguishes workout days from rest days in a cycle.
type DayKind int

const (
	DayWorkout DayKind = iota
	DayRest
)

func (k DayKind) String() string {
	if k == DayRest {
		return "Rest"
	}
	return "Workout"
}

// CycleItem is one day of a training cycle.
type CycleItem struct {
	DayNumber int
	Kind      DayKind
	RoutineID int64 // valid when Kind == DayWorkout
}

// Cycle is a rolling N-day rotation of workout and rest days. It is not
// calendar-aligned; day progression is tracked by CycleProgress.
type Cycle struct {
	ID    int64
	Name  string
	Items []CycleItem
}

// CycleProgress tracks where a user is inside a cycle.
type CycleProgress struct {
	CycleID       int64
	CurrentDay    int
	Rotations     int
	LastCompleted time.Time
}
