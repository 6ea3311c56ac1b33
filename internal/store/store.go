// Package store handles SQLite persistence for the exercise catalog,
// routines, training cycles and personal records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/engine"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/routine"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access. It implements the routine repositories and
// the personal-record store.
type Store struct {
	db *sql.DB
}

var (
	_ routine.ExerciseRepository = (*Store)(nil)
	_ routine.RoutineRepository  = (*Store)(nil)
	_ routine.CycleRepository    = (*Store)(nil)
	_ engine.PersonalRecordStore = (*Store)(nil)
)

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS exercises (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			muscle_group TEXT NOT NULL,
			default_weight_kg REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS routines (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS routine_items (
			routine_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			exercise_id INTEGER NOT NULL,
			sets INTEGER NOT NULL,
			reps INTEGER NOT NULL,
			weight_kg REAL NOT NULL,
			mode INTEGER NOT NULL,
			superset_group INTEGER NOT NULL,
			eccentric_pct INTEGER NOT NULL,
			echo_level INTEGER NOT NULL,
			rest_seconds INTEGER NOT NULL,
			duration_seconds INTEGER NOT NULL,
			warmup_reps INTEGER NOT NULL,
			PRIMARY KEY (routine_id, position)
		);`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cycle_items (
			cycle_id INTEGER NOT NULL,
			day_number INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			routine_id INTEGER NOT NULL,
			PRIMARY KEY (cycle_id, day_number)
		);`,
		`CREATE TABLE IF NOT EXISTS cycle_progress (
			cycle_id INTEGER PRIMARY KEY,
			current_day INTEGER NOT NULL,
			rotations INTEGER NOT NULL,
			last_completed TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS personal_records (
			exercise_id INTEGER NOT NULL,
			weight_centikg INTEGER NOT NULL,
			best_reps INTEGER NOT NULL,
			achieved_at TEXT NOT NULL,
			PRIMARY KEY (exercise_id, weight_centikg)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- routine.ExerciseRepository ---

// GetExerciseByID loads one exercise.
func (s *Store) GetExerciseByID(ctx context.Context, id int64) (routine.Exercise, error) {
	var e routine.Exercise
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, muscle_group, default_weight_kg FROM exercises WHERE id = ?`, id).
		Scan(&e.ID, &e.Name, &e.MuscleGroup, &e.DefaultWeightKg)
	if err != nil {
		return routine.Exercise{}, fmt.Errorf("exercise %d: %w", id, err)
	}
	return e, nil
}

// ListExercises returns the catalog ordered by id.
func (s *Store) ListExercises(ctx context.Context) ([]routine.Exercise, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, muscle_group, default_weight_kg FROM exercises ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var out []routine.Exercise
	for rows.Next() {
		var e routine.Exercise
		if err := rows.Scan(&e.ID, &e.Name, &e.MuscleGroup, &e.DefaultWeightKg); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveExercise inserts or replaces a catalog entry.
func (s *Store) SaveExercise(ctx context.Context, e *routine.Exercise) error {
	if e.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO exercises (name, muscle_group, default_weight_kg) VALUES (?, ?, ?)`,
			e.Name, e.MuscleGroup, e.DefaultWeightKg)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		e.ID = id
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO exercises (id, name, muscle_group, default_weight_kg) VALUES (?, ?, ?, ?)`,
		e.ID, e.Name, e.MuscleGroup, e.DefaultWeightKg)
	return err
}

// --- routine.RoutineRepository ---

// GetRoutineByID loads a routine and its items in plan order.
func (s *Store) GetRoutineByID(ctx context.Context, id int64) (routine.Routine, error) {
	var r routine.Routine
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM routines WHERE id = ?`, id).
		Scan(&r.ID, &r.Name)
	if err != nil {
		return routine.Routine{}, fmt.Errorf("routine %d: %w", id, err)
	}
	r.Items, err = s.routineItems(ctx, id)
	if err != nil {
		return routine.Routine{}, err
	}
	return r, nil
}

// ListRoutines returns all routines with their items.
func (s *Store) ListRoutines(ctx context.Context) ([]routine.Routine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM routines ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var out []routine.Routine
	for rows.Next() {
		var r routine.Routine
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items, err = s.routineItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) routineItems(ctx context.Context, routineID int64) ([]routine.RoutineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exercise_id, sets, reps, weight_kg, mode, superset_group,
			eccentric_pct, echo_level, rest_seconds, duration_seconds, warmup_reps
		 FROM routine_items WHERE routine_id = ? ORDER BY position`, routineID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var items []routine.RoutineItem
	for rows.Next() {
		var item routine.RoutineItem
		var mode int
		if err := rows.Scan(&item.ExerciseID, &item.Sets, &item.Reps, &item.WeightKg,
			&mode, &item.SupersetGroup, &item.EccentricPct, &item.EchoLevel,
			&item.RestSeconds, &item.DurationSeconds, &item.WarmupReps); err != nil {
			return nil, err
		}
		item.Mode = protocol.Mode(mode)
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveRoutine stores a routine and its items in one transaction. A zero ID
// gets assigned; a non-zero ID replaces the existing routine.
func (s *Store) SaveRoutine(ctx context.Context, r *routine.Routine) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if r.ID == 0 {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `INSERT INTO routines (name) VALUES (?)`, r.Name)
		if err != nil {
			return err
		}
		r.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	} else {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO routines (id, name) VALUES (?, ?)`, r.ID, r.Name); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM routine_items WHERE routine_id = ?`, r.ID); err != nil {
			return err
		}
	}

	for position, item := range r.Items {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO routine_items (routine_id, position, exercise_id, sets, reps,
				weight_kg, mode, superset_group, eccentric_pct, echo_level,
				rest_seconds, duration_seconds, warmup_reps)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, position, item.ExerciseID, item.Sets, item.Reps,
			item.WeightKg, int(item.Mode), item.SupersetGroup, item.EccentricPct,
			item.EchoLevel, item.RestSeconds, item.DurationSeconds, item.WarmupReps); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- routine.CycleRepository ---

// GetCycleByID loads a cycle and its day items.
func (s *Store) GetCycleByID(ctx context.Context, id int64) (routine.Cycle, error) {
	var c routine.Cycle
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM cycles WHERE id = ?`, id).
		Scan(&c.ID, &c.Name)
	if err != nil {
		return routine.Cycle{}, fmt.Errorf("cycle %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT day_number, kind, routine_id FROM cycle_items WHERE cycle_id = ? ORDER BY day_number`, id)
	if err != nil {
		return routine.Cycle{}, err
	}
	defer closeRows(rows)

	for rows.Next() {
		var item routine.CycleItem
		var kind int
		if err := rows.Scan(&item.DayNumber, &kind, &item.RoutineID); err != nil {
			return routine.Cycle{}, err
		}
		item.Kind = routine.DayKind(kind)
		c.Items = append(c.Items, item)
	}
	return c, rows.Err()
}

// ListCycles returns all cycles with their items.
func (s *Store) ListCycles(ctx context.Context) ([]routine.Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM cycles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			closeRows(rows)
			return nil, err
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	closeRows(rows)
	if err != nil {
		return nil, err
	}

	out := make([]routine.Cycle, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCycleByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// SaveCycle stores a new cycle and its items in one transaction.
func (s *Store) SaveCycle(ctx context.Context, c *routine.Cycle) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if c.ID == 0 {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `INSERT INTO cycles (name) VALUES (?)`, c.Name)
		if err != nil {
			return err
		}
		c.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	} else {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO cycles (id, name) VALUES (?, ?)`, c.ID, c.Name); err != nil {
			return err
		}
	}

	if err = writeCycleItems(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateCycle rewrites an existing cycle's name and items.
func (s *Store) UpdateCycle(ctx context.Context, c *routine.Cycle) (err error) {
	if c.ID == 0 {
		return fmt.Errorf("cannot update cycle without an id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`UPDATE cycles SET name = ? WHERE id = ?`, c.Name, c.ID); err != nil {
		return err
	}
	if err = writeCycleItems(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

func writeCycleItems(ctx context.Context, tx *sql.Tx, c *routine.Cycle) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cycle_items WHERE cycle_id = ?`, c.ID); err != nil {
		return err
	}
	for _, item := range c.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cycle_items (cycle_id, day_number, kind, routine_id) VALUES (?, ?, ?, ?)`,
			c.ID, item.DayNumber, int(item.Kind), item.RoutineID); err != nil {
			return err
		}
	}
	return nil
}

// GetProgress returns the cycle's progression, defaulting to day 1 when
// none has been recorded yet.
func (s *Store) GetProgress(ctx context.Context, cycleID int64) (routine.CycleProgress, error) {
	var p routine.CycleProgress
	var lastCompleted string
	err := s.db.QueryRowContext(ctx,
		`SELECT cycle_id, current_day, rotations, last_completed FROM cycle_progress WHERE cycle_id = ?`,
		cycleID).Scan(&p.CycleID, &p.CurrentDay, &p.Rotations, &lastCompleted)
	if err == sql.ErrNoRows {
		return routine.CycleProgress{CycleID: cycleID, CurrentDay: 1}, nil
	}
	if err != nil {
		return routine.CycleProgress{}, err
	}
	if lastCompleted != "" {
		p.LastCompleted, err = time.Parse(time.RFC3339Nano, lastCompleted)
		if err != nil {
			return routine.CycleProgress{}, err
		}
	}
	return p, nil
}

// SaveProgress upserts the cycle's progression.
func (s *Store) SaveProgress(ctx context.Context, p routine.CycleProgress) error {
	lastCompleted := ""
	if !p.LastCompleted.IsZero() {
		lastCompleted = p.LastCompleted.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cycle_progress (cycle_id, current_day, rotations, last_completed)
		 VALUES (?, ?, ?, ?)`,
		p.CycleID, p.CurrentDay, p.Rotations, lastCompleted)
	return err
}

// --- engine.PersonalRecordStore ---

// Records are keyed by exercise and per-cable weight. Weight is stored as
// centikilograms so the key is exact; this matches the wire resolution.
func weightKey(weightKg float64) int64 {
	return int64(math.Round(weightKg * 100))
}

// BestReps returns the best confirmed rep count for the exercise at the
// given weight, or 0 if none is recorded.
func (s *Store) BestReps(exerciseID int64, weightKg float64) (int, error) {
	var best int
	err := s.db.QueryRow(
		`SELECT best_reps FROM personal_records WHERE exercise_id = ? AND weight_centikg = ?`,
		exerciseID, weightKey(weightKg)).Scan(&best)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return best, nil
}

// RecordReps persists a rep count, keeping the higher of the stored and
// offered values.
func (s *Store) RecordReps(exerciseID int64, weightKg float64, reps int) error {
	_, err := s.db.Exec(
		`INSERT INTO personal_records (exercise_id, weight_centikg, best_reps, achieved_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (exercise_id, weight_centikg)
		 DO UPDATE SET best_reps = excluded.best_reps, achieved_at = excluded.achieved_at
		 WHERE excluded.best_reps > personal_records.best_reps`,
		exerciseID, weightKey(weightKg), reps, time.Now().Format(time.RFC3339Nano))
	return err
}

func closeRows(rows *sql.Rows) {
	if cerr := rows.Close(); cerr != nil {
		// Best-effort rows close.
		_ = cerr
	}
}
