package routine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/engine"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/events"
)

// FlowStateKind identifies the flow controller's sequencing state.
type FlowStateKind int

const (
	FlowNotInRoutine FlowStateKind = iota
	FlowSetReady
	FlowComplete
)

func (k FlowStateKind) String() string {
	switch k {
	case FlowSetReady:
		return "SetReady"
	case FlowComplete:
		return "Complete"
	default:
		return "NotInRoutine"
	}
}

// FlowState is the flow controller's published snapshot.
type FlowState struct {
	Kind FlowStateKind

	// SetReady fields: the position of the upcoming set.
	ExerciseIndex int
	SetIndex      int
	ExerciseName  string
	WeightKg      float64
	TargetReps    int

	// Complete fields: aggregate stats for the finished routine.
	RoutineName    string
	TotalExercises int
	TotalSets      int
	TotalDuration  time.Duration
}

// plannedSet is one fully resolved entry of the execution order.
type plannedSet struct {
	item          RoutineItem
	exercise      Exercise
	exerciseIndex int
	setIndex      int // 0-based within the exercise

	// supersetWithPrev marks a back-to-back exercise change inside a
	// superset round; the gap before this set uses the superset rest.
	supersetWithPrev bool
}

// DefaultSupersetRestSeconds is the shortened rest used between exercises
// of a superset round.
const DefaultSupersetRestSeconds = 15

// FlowController sequences a routine's exercises and sets through the
// session engine. It implements engine.SetPlanner; the session stays
// unaware of routines and asks only for "the next set".
//
// The planner methods are called from the session's event loop only; the
// published FlowState is safe to read from anywhere.
type FlowController struct {
	routine            Routine
	planned            []plannedSet
	cursor             int
	supersetRestSecond int
	logger             *log.Logger

	firstActive time.Time
	totalSets   int

	stateMu    sync.RWMutex
	state      FlowState
	stateEvent *events.CallbackEvent[FlowState]
}

var _ engine.SetPlanner = (*FlowController)(nil)

// NewFlowController loads a routine into an execution plan, resolving
// exercise metadata through the repository. Superset groups are expanded
// round by round: for items A and B in one group with 3 sets each, the
// order is A1 B1 A2 B2 A3 B3.
func NewFlowController(ctx context.Context, r Routine, exercises ExerciseRepository, logger *log.Logger) (*FlowController, error) {
	if exercises == nil {
		panic("FlowController: exercises cannot be nil")
	}
	if logger == nil {
		panic("FlowController: logger cannot be nil")
	}
	if len(r.Items) == 0 {
		return nil, fmt.Errorf("routine %q has no items", r.Name)
	}

	planned, err := expandPlan(ctx, r, exercises)
	if err != nil {
		return nil, err
	}

	f := &FlowController{
		routine:            r,
		planned:            planned,
		supersetRestSecond: DefaultSupersetRestSeconds,
		logger:             logger,
		stateEvent:         events.NewCallbackEvent[FlowState](true),
	}
	f.publishSetReady()
	logger.Printf("FlowController: Loaded routine %q, %d planned sets", r.Name, len(planned))
	return f, nil
}

// expandPlan flattens routine items into execution order, interleaving
// superset groups.
func expandPlan(ctx context.Context, r Routine, exercises ExerciseRepository) ([]plannedSet, error) {
	// Group consecutive items that share a non-zero superset group.
	type group struct {
		items   []RoutineItem
		indices []int
	}
	var groups []group
	for i, item := range r.Items {
		if item.SupersetGroup != 0 && len(groups) > 0 {
			last := &groups[len(groups)-1]
			if last.items[0].SupersetGroup == item.SupersetGroup {
				last.items = append(last.items, item)
				last.indices = append(last.indices, i)
				continue
			}
		}
		groups = append(groups, group{items: []RoutineItem{item}, indices: []int{i}})
	}

	var planned []plannedSet
	for _, g := range groups {
		rounds := 0
		for _, item := range g.items {
			if item.Sets > rounds {
				rounds = item.Sets
			}
		}
		if rounds < 1 {
			rounds = 1
		}
		for round := 0; round < rounds; round++ {
			first := true
			for n, item := range g.items {
				if round >= item.Sets && item.Sets > 0 {
					continue
				}
				exercise, err := exercises.GetExerciseByID(ctx, item.ExerciseID)
				if err != nil {
					return nil, fmt.Errorf("failed to load exercise %d: %w", item.ExerciseID, err)
				}
				planned = append(planned, plannedSet{
					item:             item,
					exercise:         exercise,
					exerciseIndex:    g.indices[n],
					setIndex:         round,
					supersetWithPrev: len(g.items) > 1 && !first,
				})
				first = false
			}
		}
	}
	return planned, nil
}

// State returns the latest published flow state.
func (f *FlowController) State() FlowState {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.state
}

// ListenToState registers a callback for flow state changes. The current
// state is replayed on registration. Returns a deregistration function.
func (f *FlowController) ListenToState(callback func(FlowState)) func() {
	return f.stateEvent.Listen(callback)
}

func (f *FlowController) publish(state FlowState) {
	f.stateMu.Lock()
	f.state = state
	f.stateMu.Unlock()
	f.stateEvent.Notify(state)
}

// --- engine.SetPlanner ---

func (f *FlowController) FirstSet() (engine.WorkoutParameters, engine.RestInfo, bool) {
	f.cursor = 0
	if len(f.planned) == 0 {
		return engine.WorkoutParameters{}, engine.RestInfo{}, false
	}
	return f.params(0), f.restInto(0), true
}

func (f *FlowController) SetStarted(at time.Time) {
	if f.firstActive.IsZero() {
		f.firstActive = at
	}
}

func (f *FlowController) NextSet(completed engine.SetSummary) (engine.WorkoutParameters, engine.RestInfo, bool) {
	f.totalSets++
	f.cursor++
	if f.cursor >= len(f.planned) {
		f.publishComplete()
		return engine.WorkoutParameters{}, engine.RestInfo{}, false
	}
	f.publishSetReady()
	return f.params(f.cursor), f.restInto(f.cursor), true
}

// HasNextStep reports whether a set follows the current one.
func (f *FlowController) HasNextStep() bool {
	return f.cursor+1 < len(f.planned)
}

// HasPreviousStep reports whether the current set is not the first.
func (f *FlowController) HasPreviousStep() bool {
	return f.cursor > 0
}

func (f *FlowController) params(idx int) engine.WorkoutParameters {
	p := f.planned[idx]
	return engine.WorkoutParameters{
		ExerciseID:      p.exercise.ID,
		ExerciseName:    p.exercise.Name,
		Mode:            p.item.Mode,
		WeightKg:        p.item.WeightKg,
		TargetReps:      p.item.Reps,
		WarmupReps:      p.item.WarmupReps,
		EccentricPct:    p.item.EccentricPct,
		EchoLevel:       p.item.EchoLevel,
		RestSeconds:     p.item.RestSeconds,
		DurationSeconds: p.item.DurationSeconds,
	}
}

// restInto describes the rest gap that precedes the set at idx.
func (f *FlowController) restInto(idx int) engine.RestInfo {
	p := f.planned[idx]
	rest := engine.RestInfo{
		NextExerciseName:   p.exercise.Name,
		CurrentSet:         p.setIndex + 1,
		TotalSets:          p.item.Sets,
		SupersetTransition: p.supersetWithPrev,
	}
	if p.supersetWithPrev {
		rest.RestSeconds = f.supersetRestSecond
	} else if idx > 0 {
		rest.RestSeconds = f.planned[idx-1].item.RestSeconds
	} else {
		rest.RestSeconds = p.item.RestSeconds
	}
	return rest
}

func (f *FlowController) publishSetReady() {
	p := f.planned[f.cursor]
	f.publish(FlowState{
		Kind:          FlowSetReady,
		ExerciseIndex: p.exerciseIndex,
		SetIndex:      p.setIndex,
		ExerciseName:  p.exercise.Name,
		WeightKg:      p.item.WeightKg,
		TargetReps:    p.item.Reps,
	})
}

func (f *FlowController) publishComplete() {
	duration := time.Duration(0)
	if !f.firstActive.IsZero() {
		duration = time.Since(f.firstActive)
	}
	seen := make(map[int]bool)
	for _, p := range f.planned {
		seen[p.exerciseIndex] = true
	}
	state := FlowState{
		Kind:           FlowComplete,
		RoutineName:    f.routine.Name,
		TotalExercises: len(seen),
		TotalSets:      f.totalSets,
		TotalDuration:  duration,
	}
	f.logger.Printf("FlowController: Routine %q complete, %d exercises, %d sets in %v",
		state.RoutineName, state.TotalExercises, state.TotalSets, duration.Round(time.Second))
	f.publish(state)
}
