package routine

import "context"

// ExerciseRepository supplies exercise metadata.
type ExerciseRepository interface {
	GetExerciseByID(ctx context.Context, id int64) (Exercise, error)
	ListExercises(ctx context.Context) ([]Exercise, error)
}

// RoutineRepository supplies persisted routine definitions.
type RoutineRepository interface {
	GetRoutineByID(ctx context.Context, id int64) (Routine, error)
	ListRoutines(ctx context.Context) ([]Routine, error)
	SaveRoutine(ctx context.Context, r *Routine) error
}

// CycleRepository supplies cycle definitions and progression. Writes are
// awaited: a reported save reflects durable state.
type CycleRepository interface {
	GetCycleByID(ctx context.Context, id int64) (Cycle, error)
	ListCycles(ctx context.Context) ([]Cycle, error)
	SaveCycle(ctx context.Context, c *Cycle) error
	UpdateCycle(ctx context.Context, c *Cycle) error
	GetProgress(ctx context.Context, cycleID int64) (CycleProgress, error)
	SaveProgress(ctx context.Context, p CycleProgress) error
}
