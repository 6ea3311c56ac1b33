package engine

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

type fakeSender struct {
	mu      sync.Mutex
	frames  [][]byte
	failAll bool
}

func (f *fakeSender) SendCommand(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("link down")
	}
	copied := make([]byte, len(frame))
	copy(copied, frame)
	f.frames = append(f.frames, copied)
	return nil
}

func (f *fakeSender) opcodes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, 0, len(f.frames))
	for _, frame := range f.frames {
		opcode, _, err := protocol.ParseFrame(frame)
		if err == nil {
			out = append(out, opcode)
		}
	}
	return out
}

func (f *fakeSender) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeSender) setFailAll(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
}

type fakePRStore struct {
	mu        sync.Mutex
	best      int
	lookupErr error
	recorded  []int
}

func (s *fakePRStore) BestReps(exerciseID int64, weightKg float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.best, s.lookupErr
}

func (s *fakePRStore) RecordReps(exerciseID int64, weightKg float64, reps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, reps)
	return nil
}

func fastConfig() SessionConfig {
	return SessionConfig{
		CountdownSeconds:    1,
		SummarySeconds:      0, // proceed manually in tests
		DefaultRestSeconds:  1,
		ErrorDismissSeconds: 1,
	}
}

func sessionTuning() Tuning {
	t := DefaultTuning()
	t.RepDebounceSamples = 2
	t.AutoStopSamples = 10
	return t
}

type testSession struct {
	session *Session
	sender  *fakeSender
	frames  chan []byte
	states  chan WorkoutState
}

func newTestSession(t *testing.T, planner SetPlanner, prStore PersonalRecordStore, config SessionConfig) *testSession {
	t.Helper()
	sender := &fakeSender{}
	frames := make(chan []byte, 512)
	session := NewSession(sender, frames, planner, prStore, config, sessionTuning(), log.New(io.Discard, "", 0))

	states := make(chan WorkoutState, 64)
	unlisten := session.ListenToState(states)
	t.Cleanup(func() {
		unlisten()
		session.Shutdown()
	})
	return &testSession{session: session, sender: sender, frames: frames, states: states}
}

func (ts *testSession) waitFor(t *testing.T, kind StateKind) WorkoutState {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case state := <-ts.states:
			if state.Kind == kind {
				return state
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s (currently %s)", kind, ts.session.GetState().Kind)
		}
	}
}

// pushRep feeds one full bottom-top-bottom cycle plus the debounce tail.
func (ts *testSession) pushRep() {
	ts.frames <- protocol.EncodeTelemetry(sample(750, 300, 40))
	ts.frames <- protocol.EncodeTelemetry(sample(100, -300, 40))
	for n := 0; n < 2; n++ {
		ts.frames <- protocol.EncodeTelemetry(sample(100, 0, 0))
	}
}

func (ts *testSession) pushLowMovement(n int) {
	for i := 0; i < n; i++ {
		ts.frames <- protocol.EncodeTelemetry(sample(100, 0, 0))
	}
}

func singleSetParams(weightKg float64, targetReps int) WorkoutParameters {
	return WorkoutParameters{
		ExerciseID:   1,
		ExerciseName: "Bench Press",
		Mode:         protocol.ModeOldSchool,
		WeightKg:     weightKg,
		TargetReps:   targetReps,
		RestSeconds:  1,
	}
}

func TestFullSetLifecycle(t *testing.T) {
	ts := newTestSession(t, NewSingleExercisePlanner(singleSetParams(20, 10), 1), nil, fastConfig())

	require.Equal(t, StateIdle, ts.session.GetState().Kind)
	assert.Equal(t, 20.0, ts.session.GetState().Parameters.WeightKg)

	ts.session.Start()
	state := ts.waitFor(t, StateCountdown)
	assert.Equal(t, 1, state.SecondsRemaining)

	ts.waitFor(t, StateActive)

	for n := 0; n < 10; n++ {
		ts.pushRep()
	}

	state = ts.waitFor(t, StateSetSummary)
	require.NotNil(t, state.Summary)
	assert.Equal(t, 10, state.Summary.RepsCompleted)
	assert.Equal(t, 20.0, state.Summary.Parameters.WeightKg)
	assert.False(t, state.Summary.AutoStopped)

	ts.session.Proceed()
	state = ts.waitFor(t, StateCompleted)
	require.NotNil(t, state.Totals)
	assert.Equal(t, 1, state.Totals.Sets)
	assert.Equal(t, 10, state.Totals.Reps)
	assert.Greater(t, state.Totals.Duration, time.Duration(0))

	assert.Equal(t, []byte{
		protocol.OpSetProgram, protocol.OpStart,
		protocol.OpStop, protocol.OpOfficialStop,
	}, ts.sender.opcodes())
}

func TestAMRAPEndsOnlyOnAutoStop(t *testing.T) {
	ts := newTestSession(t, NewSingleExercisePlanner(singleSetParams(20, 0), 1), nil, fastConfig())

	ts.session.Start()
	ts.session.SkipCountdown()
	ts.waitFor(t, StateActive)

	for n := 0; n < 55; n++ {
		ts.pushRep()
	}

	// Rep count alone never ends an AMRAP set.
	assert.Eventually(t, func() bool {
		state := ts.session.GetState()
		return state.Kind == StateActive && state.Reps.WorkingReps == 55
	}, 5*time.Second, 10*time.Millisecond)

	ts.pushLowMovement(15)

	state := ts.waitFor(t, StateSetSummary)
	require.NotNil(t, state.Summary)
	assert.Equal(t, 55, state.Summary.RepsCompleted)
	assert.True(t, state.Summary.AutoStopped)
}

func TestAutoStopStopsTelemetryProcessing(t *testing.T) {
	ts := newTestSession(t, NewSingleExercisePlanner(singleSetParams(20, 0), 1), nil, fastConfig())

	ts.session.Start()
	ts.session.SkipCountdown()
	ts.waitFor(t, StateActive)

	ts.pushRep()
	ts.pushLowMovement(15)
	state := ts.waitFor(t, StateSetSummary)
	assert.Equal(t, 1, state.Summary.RepsCompleted)

	// Telemetry after the set ends must not alter the summary.
	ts.pushRep()
	ts.pushRep()
	time.Sleep(100 * time.Millisecond)
	current := ts.session.GetState()
	require.Equal(t, StateSetSummary, current.Kind)
	assert.Equal(t, 1, current.Summary.RepsCompleted)
}

func TestStopIsIdempotent(t *testing.T) {
	ts := newTestSession(t, NewSingleExercisePlanner(singleSetParams(20, 0), 1), nil, fastConfig())

	ts.session.Start()
	ts.session.SkipCountdown()
	ts.waitFor(t, StateActive)
	ts.pushRep()

	ts.session.StopSet()
	ts.waitFor(t, StateSetSummary)
	sent := len(ts.sender.opcodes())

	// A second stop changes nothing.
	ts.session.StopSet()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateSetSummary, ts.session.GetState().Kind)
	assert.Equal(t, sent, len(ts.sender.opcodes()))
}

func TestCancelCountdownReturnsToIdle(t *testing.T) {
	ts := newTestSession(t, NewSingleExercisePlanner(singleSetParams(20, 10), 1), nil, fastConfig())

	ts.session.Start()
	ts.waitFor(t, StateCountdown)
	ts.session.Cancel()
	ts.waitFor(t, StateIdle)

	// Cancelled before Active: nothing was sent to the machine.
	assert.Empty(t, ts.sender.opcodes())
}

func TestEditDuringRestAppliesToNextSet(t *testing.T) {
	params := singleSetParams(20, 2)
	ts := newTestSession(t, NewSingleExercisePlanner(params, 2), nil, fastConfig())

	ts.session.Start()
	ts.session.SkipCountdown()
	ts.waitFor(t, StateActive)
	ts.pushRep()
	ts.pushRep()

	summary := ts.waitFor(t, StateSetSummary)
	assert.Equal(t, 20.0, summary.Summary.Parameters.WeightKg)

	ts.session.Proceed()
	ts.waitFor(t, StateResting)

	edited := params
	edited.WeightKg = 25
	ts.session.EditParameters(edited)
	ts.session.SkipRest()

	state := ts.waitFor(t, StateCountdown)
	assert.Equal(t, 25.0, state.Parameters.WeightKg)

	ts.session.SkipCountdown()
	state = ts.waitFor(t, StateActive)
	assert.Equal(t, 25.0, state.Parameters.WeightKg)

	// The second program frame carries the edited weight.
	var programs []protocol.ProgramParameters
	for _, frame := range ts.sender.sentFrames() {
		if p, err := protocol.DecodeProgramParameters(frame); err == nil {
			programs = append(programs, p)
		}
	}
	require.Len(t, programs, 2)
	assert.Equal(t, 20.0, programs[0].WeightKg)
	assert.Equal(t, 25.0, programs[1].WeightKg)
}

func TestSkipRestCancelsStaleTimer(t *testing.T) {
	config := fastConfig()
	config.DefaultRestSeconds = 2
	params := singleSetParams(20, 1)
	params.RestSeconds = 2
	ts := newTestSession(t, NewSingleExercisePlanner(params, 2), nil, config)

	ts.session.Start()
	ts.session.SkipCountdown()
	ts.waitFor(t, StateActive)
	ts.pushRep()
	ts.waitFor(t, StateSetSummary)
	ts.session.Proceed()
	ts.waitFor(t, StateResting)

	ts.session.SkipRest()
	ts.waitFor(t, StateCountdown)
	ts.session.SkipCountdown()
	ts.waitFor(t, StateActive)

	// Wait past the abandoned rest countdown's horizon: the stale timer
	// must not drag the session anywhere.
	time.Sleep(2200 * time.Millisecond)
	assert.Equal(t, StateActive, ts.session.GetState().Kind)
}

func TestTimedSetExpires(t *testing.T) {
	params := singleSetParams(20, 0)
	params.DurationSeconds = 1
	ts := newTestSession(t, NewSingleExercisePlanner(params, 1), nil, fastConfig())

	ts.session.Start()
	ts.session.SkipCountdown()
	ts.waitFor(t, StateActive)

	state := ts.waitFor(t, StateSetSummary)
	assert.False(t, state.Summary.AutoStopped)
}

func TestLinkLostEscalatesToErrorThenIdle(t *testing.T) {
	ts := newTestSession(t, NewSingleExercisePlanner(singleSetParams(20, 10), 1), nil, fastConfig())

	ts.session.Start()
	ts.session.SkipCountdown()
	ts.waitFor(t, StateActive)

	ts.session.LinkLost()
	state := ts.waitFor(t, StateError)
	assert.Contains(t, state.Message, "connection lost")

	// Error auto-dismisses back to Idle.
	ts.waitFor(t, StateIdle)
}

func TestSendFailureDuringStartEscalates(t *testing.T) {
	ts := newTestSession(t, NewSingleExercisePlanner(singleSetParams(20, 10), 1), nil, fastConfig())

	ts.sender.setFailAll(true)
	ts.session.Start()
	ts.session.SkipCountdown()

	state := ts.waitFor(t, StateError)
	assert.Contains(t, state.Message, "failed to program machine")
}

func TestPersonalRecordDetection(t *testing.T) {
	prStore := &fakePRStore{best: 1}
	ts := newTestSession(t, NewSingleExercisePlanner(singleSetParams(20, 2), 1), prStore, fastConfig())

	ts.session.Start()
	ts.session.SkipCountdown()
	ts.waitFor(t, StateActive)
	ts.pushRep()
	ts.pushRep()

	state := ts.waitFor(t, StateSetSummary)
	assert.True(t, state.Summary.PersonalRecord)
	assert.Equal(t, []int{2}, prStore.recorded)
}

func TestPersonalRecordLookupFailureDegrades(t *testing.T) {
	prStore := &fakePRStore{lookupErr: errors.New("database locked")}
	ts := newTestSession(t, NewSingleExercisePlanner(singleSetParams(20, 2), 1), prStore, fastConfig())

	ts.session.Start()
	ts.session.SkipCountdown()
	ts.waitFor(t, StateActive)
	ts.pushRep()
	ts.pushRep()

	state := ts.waitFor(t, StateSetSummary)
	assert.False(t, state.Summary.PersonalRecord)
	assert.Empty(t, prStore.recorded)
}

func TestAutoStartOnGrip(t *testing.T) {
	config := fastConfig()
	config.CountdownSeconds = 30
	config.AutoStartOnGrip = true
	ts := newTestSession(t, NewSingleExercisePlanner(singleSetParams(20, 10), 1), nil, config)

	ts.session.Start()
	ts.waitFor(t, StateCountdown)

	ts.frames <- protocol.EncodeTelemetry(sample(300, 20, 10))
	ts.waitFor(t, StateActive)
}
