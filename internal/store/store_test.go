package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/routine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "phoenix.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestSeedPopulatesOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed(ctx))
	exercises, err := s.ListExercises(ctx)
	require.NoError(t, err)
	assert.Len(t, exercises, len(routine.DefaultExercises()))

	// A second seed must not duplicate anything.
	require.NoError(t, s.Seed(ctx))
	exercises, err = s.ListExercises(ctx)
	require.NoError(t, err)
	assert.Len(t, exercises, len(routine.DefaultExercises()))

	routines, err := s.ListRoutines(ctx)
	require.NoError(t, err)
	assert.Len(t, routines, 3)
}

func TestExerciseLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx))

	e, err := s.GetExerciseByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Squat", e.Name)
	assert.Equal(t, "Legs", e.MuscleGroup)

	_, err = s.GetExerciseByID(ctx, 999)
	assert.Error(t, err)
}

func TestRoutineRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := routine.Routine{
		Name: "Test Day",
		Items: []routine.RoutineItem{
			{ExerciseID: 1, Sets: 3, Reps: 10, WeightKg: 22.5, Mode: protocol.ModeTUT, RestSeconds: 75, WarmupReps: 2},
			{ExerciseID: 2, Sets: 2, Reps: 0, WeightKg: 30, Mode: protocol.ModeEcho, EchoLevel: 2, RestSeconds: 120},
		},
	}
	require.NoError(t, s.SaveRoutine(ctx, &r))
	require.NotZero(t, r.ID)

	loaded, err := s.GetRoutineByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Name, loaded.Name)
	require.Len(t, loaded.Items, 2)
	assert.Equal(t, r.Items[0], loaded.Items[0])
	assert.Equal(t, r.Items[1], loaded.Items[1])
}

func TestSaveRoutineReplacesItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := routine.Routine{
		Name:  "Shrinking",
		Items: []routine.RoutineItem{{ExerciseID: 1, Sets: 3, Reps: 10}, {ExerciseID: 2, Sets: 3, Reps: 8}},
	}
	require.NoError(t, s.SaveRoutine(ctx, &r))

	r.Items = r.Items[:1]
	require.NoError(t, s.SaveRoutine(ctx, &r))

	loaded, err := s.GetRoutineByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Items, 1)
}

func TestCycleProgressDefaultsToDayOne(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx))

	p, err := s.GetProgress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentDay)
	assert.Equal(t, 0, p.Rotations)
	assert.True(t, p.LastCompleted.IsZero())
}

func TestCycleProgressRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx))

	now := time.Now().Round(time.Millisecond)
	saved := routine.CycleProgress{CycleID: 1, CurrentDay: 3, Rotations: 2, LastCompleted: now}
	require.NoError(t, s.SaveProgress(ctx, saved))

	p, err := s.GetProgress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, p.CurrentDay)
	assert.Equal(t, 2, p.Rotations)
	assert.True(t, p.LastCompleted.Equal(now))
}

func TestUpdateCycleRewritesItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx))

	c, err := s.GetCycleByID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, c.Items, 4)

	c.Name = "Trimmed"
	c.Items = c.Items[:2]
	require.NoError(t, s.UpdateCycle(ctx, &c))

	loaded, err := s.GetCycleByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Trimmed", loaded.Name)
	assert.Len(t, loaded.Items, 2)
}

func TestPersonalRecordsKeepTheBest(t *testing.T) {
	s := openTestStore(t)

	best, err := s.BestReps(1, 25)
	require.NoError(t, err)
	assert.Zero(t, best, "no record yet")

	require.NoError(t, s.RecordReps(1, 25, 8))
	require.NoError(t, s.RecordReps(1, 25, 12))
	require.NoError(t, s.RecordReps(1, 25, 10), "a worse result must not overwrite")

	best, err = s.BestReps(1, 25)
	require.NoError(t, err)
	assert.Equal(t, 12, best)

	// Records are per weight.
	best, err = s.BestReps(1, 27.5)
	require.NoError(t, err)
	assert.Zero(t, best)
}
