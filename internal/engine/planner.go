package engine

import "time"

// RestInfo describes the rest period that follows a set, plus where the
// user is in the larger plan.
type RestInfo struct {
	RestSeconds      int
	NextExerciseName string
	CurrentSet       int
	TotalSets        int

	// SupersetTransition marks a back-to-back exercise change inside a
	// superset, which uses a shorter rest than between straight sets.
	SupersetTransition bool
}

// SetSummary is the record of one finished set.
type SetSummary struct {
	Parameters     WorkoutParameters
	RepsCompleted  int
	WarmupReps     int
	Duration       time.Duration
	PersonalRecord bool
	AutoStopped    bool
}

// SetPlanner supplies the session with successive sets. The session knows
// nothing beyond "one set at a time"; routines, supersets and cycles are
// the planner's business.
type SetPlanner interface {
	// FirstSet returns the opening set, or ok=false when the plan is empty.
	FirstSet() (params WorkoutParameters, rest RestInfo, ok bool)

	// SetStarted tells the planner a set has gone active. Called on every
	// Active entry; planners that track wall-clock duration keep the first.
	SetStarted(at time.Time)

	// NextSet consumes the just-finished set and returns the one that
	// follows, or ok=false when the plan is exhausted.
	NextSet(completed SetSummary) (params WorkoutParameters, rest RestInfo, ok bool)
}

// PersonalRecordStore is the repository the session consults at set end.
// Failures degrade to "no record": they must never block the set summary.
type PersonalRecordStore interface {
	// BestReps returns the best confirmed rep count for the exercise at the
	// given per-cable weight, or 0 if none is recorded.
	BestReps(exerciseID int64, weightKg float64) (int, error)

	// RecordReps persists a new best.
	RecordReps(exerciseID int64, weightKg float64, reps int) error
}

// SingleExercisePlanner runs one exercise for a fixed number of identical
// sets. It is the planner behind the quick-start flow.
type SingleExercisePlanner struct {
	params    WorkoutParameters
	totalSets int
	current   int
}

var _ SetPlanner = (*SingleExercisePlanner)(nil)

// NewSingleExercisePlanner creates a planner for sets identical sets of the
// given parameters. sets < 1 is treated as 1.
func NewSingleExercisePlanner(params WorkoutParameters, sets int) *SingleExercisePlanner {
	if sets < 1 {
		sets = 1
	}
	return &SingleExercisePlanner{params: params, totalSets: sets}
}

func (p *SingleExercisePlanner) FirstSet() (WorkoutParameters, RestInfo, bool) {
	p.current = 1
	return p.params, p.restInfo(), true
}

func (p *SingleExercisePlanner) SetStarted(at time.Time) {}

func (p *SingleExercisePlanner) NextSet(completed SetSummary) (WorkoutParameters, RestInfo, bool) {
	if p.current >= p.totalSets {
		return WorkoutParameters{}, RestInfo{}, false
	}
	p.current++
	return p.params, p.restInfo(), true
}

func (p *SingleExercisePlanner) restInfo() RestInfo {
	return RestInfo{
		RestSeconds:      p.params.RestSeconds,
		NextExerciseName: p.params.ExerciseName,
		CurrentSet:       p.current,
		TotalSets:        p.totalSets,
	}
}
