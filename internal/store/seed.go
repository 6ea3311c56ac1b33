package store

import (
	"context"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/routine"
)

// Seed populates an empty database with the built-in exercise catalog, the
// starter routines and the default training cycle. A database that already
// has exercises is left untouched.
func (s *Store) Seed(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exercises`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, e := range routine.DefaultExercises() {
		if err := s.SaveExercise(ctx, &e); err != nil {
			return err
		}
	}
	for _, r := range routine.DefaultRoutines() {
		if err := s.SaveRoutine(ctx, &r); err != nil {
			return err
		}
	}
	cycle := routine.DefaultCycle()
	return s.SaveCycle(ctx, &cycle)
}
