package routine

import "github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"

// DefaultExercises is the built-in movement catalog used to seed an empty
// database. IDs are stable; routines reference them.
func DefaultExercises() []Exercise {
	return []Exercise{
		{ID: 1, Name: "Bench Press", MuscleGroup: "Chest", DefaultWeightKg: 25},
		{ID: 2, Name: "Squat", MuscleGroup: "Legs", DefaultWeightKg: 35},
		{ID: 3, Name: "Deadlift", MuscleGroup: "Back", DefaultWeightKg: 40},
		{ID: 4, Name: "Overhead Press", MuscleGroup: "Shoulders", DefaultWeightKg: 15},
		{ID: 5, Name: "Bent-Over Row", MuscleGroup: "Back", DefaultWeightKg: 25},
		{ID: 6, Name: "Biceps Curl", MuscleGroup: "Arms", DefaultWeightKg: 10},
		{ID: 7, Name: "Triceps Pushdown", MuscleGroup: "Arms", DefaultWeightKg: 12},
		{ID: 8, Name: "Lateral Raise", MuscleGroup: "Shoulders", DefaultWeightKg: 5},
		{ID: 9, Name: "Romanian Deadlift", MuscleGroup: "Legs", DefaultWeightKg: 30},
		{ID: 10, Name: "Chest Fly", MuscleGroup: "Chest", DefaultWeightKg: 10},
	}
}

// DefaultRoutines is the built-in routine set.
func DefaultRoutines() []Routine {
	return []Routine{
		{
			ID:   1,
			Name: "Full Body A",
			Items: []RoutineItem{
				{ExerciseID: 2, Sets: 3, Reps: 8, WeightKg: 35, Mode: protocol.ModeOldSchool, RestSeconds: 90},
				{ExerciseID: 1, Sets: 3, Reps: 10, WeightKg: 25, Mode: protocol.ModeOldSchool, RestSeconds: 90},
				{ExerciseID: 5, Sets: 3, Reps: 10, WeightKg: 25, Mode: protocol.ModeOldSchool, RestSeconds: 90},
			},
		},
		{
			ID:   2,
			Name: "Arm Superset Day",
			Items: []RoutineItem{
				{ExerciseID: 6, Sets: 3, Reps: 12, WeightKg: 10, Mode: protocol.ModeTUT, SupersetGroup: 1, RestSeconds: 60},
				{ExerciseID: 7, Sets: 3, Reps: 12, WeightKg: 12, Mode: protocol.ModeTUT, SupersetGroup: 1, RestSeconds: 60},
				{ExerciseID: 8, Sets: 2, Reps: 15, WeightKg: 5, Mode: protocol.ModePump, RestSeconds: 45},
			},
		},
		{
			ID:   3,
			Name: "Echo Burnout",
			Items: []RoutineItem{
				{ExerciseID: 1, Sets: 2, Reps: 0, WeightKg: 20, Mode: protocol.ModeEcho, EchoLevel: 2, RestSeconds: 120},
				{ExerciseID: 10, Sets: 2, Reps: 0, WeightKg: 8, Mode: protocol.ModeEcho, EchoLevel: 1, RestSeconds: 90},
			},
		},
	}
}

// DefaultCycle is the built-in 4-day rolling rotation.
func DefaultCycle() Cycle {
	return Cycle{
		ID:   1,
		Name: "Push Pull Rotation",
		Items: []CycleItem{
			{DayNumber: 1, Kind: DayWorkout, RoutineID: 1},
			{DayNumber: 2, Kind: DayWorkout, RoutineID: 2},
			{DayNumber: 3, Kind: DayRest},
			{DayNumber: 4, Kind: DayWorkout, RoutineID: 3},
		},
	}
}
