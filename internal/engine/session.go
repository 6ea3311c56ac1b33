package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/events"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/go_func_utils"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

// StateKind identifies the session state machine's current state.
type StateKind int

const (
	StateIdle StateKind = iota
	StateCountdown
	StateActive
	StateSetSummary
	StateResting
	StateCompleted
	StateError
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "Idle"
	case StateCountdown:
		return "Countdown"
	case StateActive:
		return "Active"
	case StateSetSummary:
		return "SetSummary"
	case StateResting:
		return "Resting"
	case StateCompleted:
		return "Completed"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// SessionTotals aggregates a finished session. Duration is wall-clock from
// the first Active entry to completion, rest included.
type SessionTotals struct {
	Sets     int
	Reps     int
	Duration time.Duration
}

// WorkoutState is a snapshot of the session. Exactly one state is active at
// a time; the fields beyond Kind are populated per state and zero
// otherwise.
type WorkoutState struct {
	Kind StateKind

	// Parameters of the upcoming or in-flight set. Valid in Idle,
	// Countdown, Active and SetSummary.
	Parameters WorkoutParameters

	// SecondsRemaining counts down in Countdown and Resting.
	SecondsRemaining int

	// Reps is the live tally. Valid in Active.
	Reps RepCount

	// Summary of the just-finished set. Valid in SetSummary.
	Summary *SetSummary

	// Rest describes the current rest period. Valid in Resting.
	Rest RestInfo

	// Totals of the whole session. Valid in Completed.
	Totals *SessionTotals

	// Message describes what went wrong. Valid in Error.
	Message string
}

// CommandSender is the slice of the connection manager the session needs.
type CommandSender interface {
	SendCommand(frame []byte) error
}

type sessionCommandKind int

const (
	cmdStartWorkout sessionCommandKind = iota
	cmdCancel
	cmdSkipCountdown
	cmdStopSet
	cmdProceed
	cmdSkipRest
	cmdEditParameters
	cmdLinkLost
)

type sessionCommand struct {
	kind   sessionCommandKind
	params WorkoutParameters // cmdEditParameters
}

type timerFiring struct {
	generation uint64
}

// Session is the authoritative per-set state machine. One goroutine owns
// all mutable state; the exported methods enqueue commands into it, so
// telemetry samples and user intents are processed strictly in order.
type Session struct {
	sender  CommandSender
	planner SetPlanner
	prStore PersonalRecordStore // nil disables PR detection
	logger  *log.Logger
	config  SessionConfig
	tuning  Tuning

	frames <-chan []byte

	stateEvent     *events.ChannelEvent[WorkoutState]
	telemetryEvent *events.ChannelEvent[TelemetryEvent]

	cmdChan      chan sessionCommand
	timerChan    chan timerFiring
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once

	// Published snapshot for synchronous reads; the loop is the only writer.
	snapshotMu sync.RWMutex
	snapshot   WorkoutState

	// Everything below is owned by the run goroutine.
	state       WorkoutState
	interpreter *Interpreter
	nextParams  WorkoutParameters
	nextRest    RestInfo
	staged      *WorkoutParameters
	generation  uint64
	timer       *time.Timer
	activeStart time.Time
	firstActive time.Time
	totals      SessionTotals
}

// NewSession creates a session fed by the given raw telemetry frames and
// starts its event loop. The planner supplies the sets; prStore may be nil
// to disable personal-record detection.
func NewSession(
	sender CommandSender,
	frames <-chan []byte,
	planner SetPlanner,
	prStore PersonalRecordStore,
	config SessionConfig,
	tuning Tuning,
	logger *log.Logger,
) *Session {
	if sender == nil {
		panic("Session: sender cannot be nil")
	}
	if frames == nil {
		panic("Session: frames cannot be nil")
	}
	if planner == nil {
		panic("Session: planner cannot be nil")
	}
	if logger == nil {
		panic("Session: logger cannot be nil")
	}

	s := &Session{
		sender:         sender,
		planner:        planner,
		prStore:        prStore,
		logger:         logger,
		config:         config,
		tuning:         tuning,
		frames:         frames,
		stateEvent:     events.NewChannelEvent[WorkoutState](true),
		telemetryEvent: events.NewChannelEvent[TelemetryEvent](false),
		cmdChan:        make(chan sessionCommand, 8),
		timerChan:      make(chan timerFiring, 4),
		doneChan:       make(chan struct{}),
	}

	params, rest, ok := planner.FirstSet()
	if !ok {
		s.state = WorkoutState{Kind: StateCompleted, Totals: &SessionTotals{}}
	} else {
		s.nextParams = params
		s.nextRest = rest
		s.state = WorkoutState{Kind: StateIdle, Parameters: params}
	}
	s.publish()

	s.wg.Add(1)
	go_func_utils.SafeGo(logger, func() { s.run() })
	return s
}

// GetState returns the latest published snapshot.
func (s *Session) GetState() WorkoutState {
	s.snapshotMu.RLock()
	defer s.snapshotMu.RUnlock()
	return s.snapshot
}

// ListenToState registers a channel for state snapshots. The current state
// is replayed to new listeners. Returns a deregistration function.
func (s *Session) ListenToState(ch chan<- WorkoutState) func() {
	return s.stateEvent.Listen(ch)
}

// ListenToTelemetryEvents registers a channel for rep and auto-stop events.
// Returns a deregistration function.
func (s *Session) ListenToTelemetryEvents(ch chan<- TelemetryEvent) func() {
	return s.telemetryEvent.Listen(ch)
}

// Start begins the workout: Idle -> Countdown.
func (s *Session) Start() { s.enqueue(sessionCommand{kind: cmdStartWorkout}) }

// Cancel abandons the countdown: Countdown -> Idle.
func (s *Session) Cancel() { s.enqueue(sessionCommand{kind: cmdCancel}) }

// SkipCountdown starts the set immediately: Countdown -> Active.
func (s *Session) SkipCountdown() { s.enqueue(sessionCommand{kind: cmdSkipCountdown}) }

// StopSet ends the in-flight set: Active -> SetSummary. A no-op in any
// other state, so double stops and stale UI taps are safe.
func (s *Session) StopSet() { s.enqueue(sessionCommand{kind: cmdStopSet}) }

// Proceed leaves the set summary early: SetSummary -> Resting/Completed.
func (s *Session) Proceed() { s.enqueue(sessionCommand{kind: cmdProceed}) }

// SkipRest ends the rest period early: Resting -> Countdown.
func (s *Session) SkipRest() { s.enqueue(sessionCommand{kind: cmdSkipRest}) }

// EditParameters stages a new parameter snapshot. It never touches the
// in-flight set; the staged value is applied at the next countdown.
func (s *Session) EditParameters(params WorkoutParameters) {
	s.enqueue(sessionCommand{kind: cmdEditParameters, params: params})
}

// LinkLost tells the session the machine connection dropped. Fatal for an
// in-flight set; ignored otherwise.
func (s *Session) LinkLost() { s.enqueue(sessionCommand{kind: cmdLinkLost}) }

// Shutdown stops the event loop. Safe to call multiple times.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Println("Session: Shutting down")
		close(s.doneChan)
		s.wg.Wait()
	})
}

func (s *Session) enqueue(cmd sessionCommand) {
	select {
	case s.cmdChan <- cmd:
	case <-s.doneChan:
	}
}

// --- Event loop. Everything below runs on the single session goroutine. ---

func (s *Session) run() {
	defer s.wg.Done()
	defer s.cancelTimer()

	for {
		select {
		case <-s.doneChan:
			s.logger.Println("Session: Event loop exiting")
			return

		case cmd := <-s.cmdChan:
			s.handleCommand(cmd)

		case firing := <-s.timerChan:
			if firing.generation != s.generation {
				s.logger.Printf("Session: Ignoring stale timer (generation %d, now %d)", firing.generation, s.generation)
				continue
			}
			s.handleTimer()

		case frame, ok := <-s.frames:
			if !ok {
				s.frames = nil
				continue
			}
			s.handleFrame(frame)
		}
	}
}

func (s *Session) handleCommand(cmd sessionCommand) {
	switch cmd.kind {
	case cmdStartWorkout:
		if s.state.Kind != StateIdle {
			s.logger.Printf("Session: Ignoring start in state %s", s.state.Kind)
			return
		}
		s.enterCountdown()

	case cmdCancel:
		if s.state.Kind != StateCountdown {
			s.logger.Printf("Session: Ignoring cancel in state %s", s.state.Kind)
			return
		}
		s.cancelTimer()
		s.setState(WorkoutState{Kind: StateIdle, Parameters: s.nextParams})

	case cmdSkipCountdown:
		if s.state.Kind != StateCountdown {
			s.logger.Printf("Session: Ignoring countdown skip in state %s", s.state.Kind)
			return
		}
		s.enterActive()

	case cmdStopSet:
		if s.state.Kind != StateActive {
			s.logger.Printf("Session: Ignoring stop in state %s", s.state.Kind)
			return
		}
		s.finishSet(false)

	case cmdProceed:
		if s.state.Kind != StateSetSummary {
			s.logger.Printf("Session: Ignoring proceed in state %s", s.state.Kind)
			return
		}
		s.leaveSummary()

	case cmdSkipRest:
		if s.state.Kind != StateResting {
			s.logger.Printf("Session: Ignoring rest skip in state %s", s.state.Kind)
			return
		}
		s.enterCountdown()

	case cmdEditParameters:
		if s.state.Kind == StateActive {
			s.logger.Println("Session: Ignoring parameter edit during active set")
			return
		}
		staged := cmd.params
		s.staged = &staged
		s.logger.Printf("Session: Staged parameter edit (%.1fkg, %d reps)", staged.WeightKg, staged.TargetReps)

	case cmdLinkLost:
		switch s.state.Kind {
		case StateCountdown, StateActive, StateResting:
			s.fail("machine connection lost")
		default:
			s.logger.Printf("Session: Link lost in state %s, nothing to abort", s.state.Kind)
		}
	}
}

func (s *Session) handleTimer() {
	switch s.state.Kind {
	case StateCountdown:
		remaining := s.state.SecondsRemaining - 1
		if remaining > 0 {
			s.scheduleTimer(time.Second)
			state := s.state
			state.SecondsRemaining = remaining
			s.setState(state)
			return
		}
		s.enterActive()

	case StateActive:
		// Fixed-duration expiry.
		s.logger.Println("Session: Timed set duration elapsed")
		s.finishSet(false)

	case StateSetSummary:
		s.leaveSummary()

	case StateResting:
		remaining := s.state.SecondsRemaining - 1
		if remaining > 0 {
			s.scheduleTimer(time.Second)
			state := s.state
			state.SecondsRemaining = remaining
			s.setState(state)
			return
		}
		s.enterCountdown()

	case StateError:
		s.setState(WorkoutState{Kind: StateIdle, Parameters: s.nextParams})

	default:
		s.logger.Printf("Session: Timer fired in unexpected state %s", s.state.Kind)
	}
}

func (s *Session) handleFrame(frame []byte) {
	switch s.state.Kind {
	case StateActive:
	case StateCountdown:
		if !s.config.AutoStartOnGrip {
			return
		}
		sample, err := protocol.DecodeTelemetry(frame)
		if err != nil {
			s.logger.Printf("Session: Dropping bad telemetry frame: %v", err)
			return
		}
		if sample.MaxPosition() >= s.tuning.GripThresholdMM {
			s.logger.Println("Session: Handles gripped, starting early")
			s.enterActive()
		}
		return
	default:
		// Telemetry outside a set carries nothing the session needs.
		return
	}

	sample, err := protocol.DecodeTelemetry(frame)
	if err != nil {
		s.logger.Printf("Session: Dropping bad telemetry frame: %v", err)
		return
	}

	telemetryEvents := s.interpreter.Process(sample)
	repsChanged := false
	for _, ev := range telemetryEvents {
		s.telemetryEvent.Notify(ev)
		switch ev.Kind {
		case EventAutoStop:
			s.finishSet(true)
			return
		case EventRepPending, EventRepConfirmed, EventRepRolledBack:
			repsChanged = true
		}
	}

	if repsChanged {
		reps := s.interpreter.Reps()
		params := s.state.Parameters
		if !params.IsAMRAP() && reps.WorkingReps >= params.TargetReps {
			s.logger.Printf("Session: Target of %d reps reached", params.TargetReps)
			s.finishSet(false)
			return
		}
		state := s.state
		state.Reps = reps
		s.setState(state)
	}
}

// enterCountdown applies any staged parameter edit and starts the pre-set
// countdown. Reached from Idle (start) and from Resting (elapsed or skip).
func (s *Session) enterCountdown() {
	s.cancelTimer()
	if s.staged != nil {
		s.logger.Println("Session: Applying staged parameter edit")
		s.nextParams = *s.staged
		s.staged = nil
	}

	seconds := s.config.CountdownSeconds
	if seconds <= 0 {
		seconds = 1
	}
	s.setState(WorkoutState{
		Kind:             StateCountdown,
		Parameters:       s.nextParams,
		SecondsRemaining: seconds,
	})
	s.scheduleTimer(time.Second)
}

// enterActive programs the machine and sends Start. Countdown -> Active.
func (s *Session) enterActive() {
	s.cancelTimer()
	params := s.state.Parameters

	if err := s.sender.SendCommand(protocol.EncodeProgramParameters(params.program())); err != nil {
		s.fail(fmt.Sprintf("failed to program machine: %v", err))
		return
	}
	if err := s.sender.SendCommand(protocol.EncodeStart()); err != nil {
		s.fail(fmt.Sprintf("failed to start machine: %v", err))
		return
	}

	s.interpreter = NewInterpreter(s.tuning, params.WarmupReps, s.logger)
	s.activeStart = time.Now()
	if s.firstActive.IsZero() {
		s.firstActive = s.activeStart
	}
	s.planner.SetStarted(s.activeStart)

	s.setState(WorkoutState{Kind: StateActive, Parameters: params})

	if params.IsTimed() {
		s.scheduleTimer(time.Duration(params.DurationSeconds) * time.Second)
	}
	s.logger.Printf("Session: Set active (%s, %.1fkg)", params.ExerciseName, params.WeightKg)
}

// finishSet ends the in-flight set: Active -> SetSummary. Stop commands are
// sent exactly once per set; a send failure here means the link is gone and
// escalates.
func (s *Session) finishSet(autoStopped bool) {
	s.cancelTimer()
	params := s.state.Parameters
	reps := s.interpreter.Reps()

	for _, frame := range [][]byte{protocol.EncodeStop(), protocol.EncodeOfficialStop()} {
		if err := s.sender.SendCommand(frame); err != nil {
			s.fail(fmt.Sprintf("failed to stop machine: %v", err))
			return
		}
	}

	summary := SetSummary{
		Parameters:    params,
		RepsCompleted: reps.WorkingReps,
		WarmupReps:    reps.WarmupReps,
		Duration:      time.Since(s.activeStart),
		AutoStopped:   autoStopped,
	}
	summary.PersonalRecord = s.checkPersonalRecord(params, reps.WorkingReps)

	s.totals.Sets++
	s.totals.Reps += reps.WorkingReps

	s.setState(WorkoutState{
		Kind:       StateSetSummary,
		Parameters: params,
		Summary:    &summary,
	})
	if s.config.SummarySeconds > 0 {
		s.scheduleTimer(time.Duration(s.config.SummarySeconds) * time.Second)
	}
	s.logger.Printf("Session: Set finished, %d reps in %v (auto-stop=%v)", summary.RepsCompleted, summary.Duration.Round(time.Millisecond), autoStopped)
}

// checkPersonalRecord is best-effort: repository failures mean "no PR",
// never a blocked transition.
func (s *Session) checkPersonalRecord(params WorkoutParameters, reps int) bool {
	if s.prStore == nil || reps == 0 {
		return false
	}
	best, err := s.prStore.BestReps(params.ExerciseID, params.WeightKg)
	if err != nil {
		s.logger.Printf("Session: PR lookup failed, assuming no record: %v", err)
		return false
	}
	if reps <= best {
		return false
	}
	if err := s.prStore.RecordReps(params.ExerciseID, params.WeightKg, reps); err != nil {
		s.logger.Printf("Session: PR write failed: %v", err)
	}
	s.logger.Printf("Session: New personal record, %d reps at %.1fkg", reps, params.WeightKg)
	return true
}

// leaveSummary moves on from the set summary: to Resting when the planner
// has another set, to Completed when it does not.
func (s *Session) leaveSummary() {
	s.cancelTimer()
	summary := *s.state.Summary

	params, rest, ok := s.planner.NextSet(summary)
	if !ok {
		totals := s.totals
		if !s.firstActive.IsZero() {
			totals.Duration = time.Since(s.firstActive)
		}
		s.setState(WorkoutState{Kind: StateCompleted, Totals: &totals})
		s.logger.Printf("Session: Completed, %d sets, %d reps, %v", totals.Sets, totals.Reps, totals.Duration.Round(time.Second))
		return
	}

	s.nextParams = params
	s.nextRest = rest

	seconds := rest.RestSeconds
	if seconds <= 0 {
		seconds = s.config.DefaultRestSeconds
	}
	s.setState(WorkoutState{
		Kind:             StateResting,
		SecondsRemaining: seconds,
		Rest:             rest,
	})
	s.scheduleTimer(time.Second)
}

// fail transitions to Error and schedules the auto-return to Idle.
func (s *Session) fail(message string) {
	s.cancelTimer()
	s.logger.Printf("Session: Error: %s", message)
	s.setState(WorkoutState{Kind: StateError, Message: message})
	if s.config.ErrorDismissSeconds > 0 {
		s.scheduleTimer(time.Duration(s.config.ErrorDismissSeconds) * time.Second)
	}
}

// scheduleTimer arms the session timer. Each call bumps the generation, so
// a firing from an earlier schedule is recognized as stale and discarded.
func (s *Session) scheduleTimer(d time.Duration) {
	s.cancelTimer()
	s.generation++
	generation := s.generation
	s.timer = time.AfterFunc(d, func() {
		select {
		case s.timerChan <- timerFiring{generation: generation}:
		case <-s.doneChan:
		}
	})
}

func (s *Session) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}

func (s *Session) setState(state WorkoutState) {
	s.state = state
	s.publish()
}

func (s *Session) publish() {
	s.snapshotMu.Lock()
	s.snapshot = s.state
	s.snapshotMu.Unlock()
	s.stateEvent.Notify(s.state)
}
