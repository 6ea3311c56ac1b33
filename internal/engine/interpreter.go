package engine

import (
	"log"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

// RepCount is the interpreter's running tally for one set. Pending marks a
// rep crossing that has been detected but not yet survived the debounce
// window; the UI may show it as an optimistic increment.
type RepCount struct {
	WarmupReps  int
	WorkingReps int
	Pending     bool
}

// Total returns warm-up plus working reps, counting a pending rep as not
// yet happened.
func (r RepCount) Total() int {
	return r.WarmupReps + r.WorkingReps
}

// TelemetryEventKind identifies what the interpreter derived from a sample.
type TelemetryEventKind int

const (
	// EventRepPending fires the instant a rep crossing is detected, before
	// debounce confirms it.
	EventRepPending TelemetryEventKind = iota

	// EventRepConfirmed fires when debounce confirms a pending rep and the
	// count has been incremented.
	EventRepConfirmed

	// EventRepRolledBack fires when motion reverses during debounce and the
	// pending rep is discarded without counting.
	EventRepRolledBack

	// EventWarmupComplete fires once, when the configured warm-up rep count
	// has been reached.
	EventWarmupComplete

	// EventAutoStop fires once per set, when movement has stayed below the
	// auto-stop threshold for the configured window.
	EventAutoStop
)

func (k TelemetryEventKind) String() string {
	switch k {
	case EventRepPending:
		return "RepPending"
	case EventRepConfirmed:
		return "RepConfirmed"
	case EventRepRolledBack:
		return "RepRolledBack"
	case EventWarmupComplete:
		return "WarmupComplete"
	case EventAutoStop:
		return "AutoStop"
	default:
		return "Unknown"
	}
}

// TelemetryEvent is one derived event plus the rep tally after it.
type TelemetryEvent struct {
	Kind TelemetryEventKind
	Reps RepCount
}

type repPhase int

const (
	phaseBottom repPhase = iota // cable near full retraction
	phaseTop                    // concentric extreme reached, returning
)

// Interpreter turns raw telemetry samples into rep, warm-up and auto-stop
// events for one set. It tracks the dominant cable's position through a
// bottom-top-bottom cycle with a velocity gate and a debounce window.
//
// Not safe for concurrent use: it is owned by the session's event loop and
// fed samples strictly in arrival order.
type Interpreter struct {
	tuning       Tuning
	warmupTarget int
	logger       *log.Logger

	reps  RepCount
	phase repPhase

	pendingSamples int
	warmupDone     bool

	autoStopLow   int
	autoStopFired bool

	echoEstimateKg float64
	echoSeeded     bool
}

// NewInterpreter creates an interpreter for one set.
func NewInterpreter(tuning Tuning, warmupReps int, logger *log.Logger) *Interpreter {
	if logger == nil {
		panic("Interpreter: logger cannot be nil")
	}
	return &Interpreter{
		tuning:       tuning,
		warmupTarget: warmupReps,
		warmupDone:   warmupReps == 0,
		logger:       logger,
	}
}

// Reps returns the current tally.
func (i *Interpreter) Reps() RepCount {
	return i.reps
}

// EchoEstimateKg returns the adaptive one-cable load estimate, or 0 before
// any load has been observed.
func (i *Interpreter) EchoEstimateKg() float64 {
	return i.echoEstimateKg
}

// AutoStopProgress returns how many consecutive low-movement samples have
// accumulated and the window size that triggers auto-stop.
func (i *Interpreter) AutoStopProgress() (current, window int) {
	return i.autoStopLow, i.tuning.AutoStopSamples
}

// Process consumes one sample and returns the events it produced, in order.
func (i *Interpreter) Process(sample protocol.Telemetry) []TelemetryEvent {
	var out []TelemetryEvent

	pos := sample.MaxPosition()
	speed := sample.MaxAbsVelocity()

	out = i.processRep(pos, speed, out)
	out = i.processAutoStop(speed, out)
	i.processEcho(sample)

	return out
}

func (i *Interpreter) processRep(pos uint16, speed int16, out []TelemetryEvent) []TelemetryEvent {
	switch i.phase {
	case phaseBottom:
		if i.reps.Pending {
			// Debounce: the cable must hold the bottom. Rising back above
			// the bottom threshold means the crossing was noise.
			if pos > i.tuning.RepBottomThresholdMM {
				i.reps.Pending = false
				i.pendingSamples = 0
				i.logger.Printf("Interpreter: Pending rep rolled back at pos=%d", pos)
				out = append(out, TelemetryEvent{Kind: EventRepRolledBack, Reps: i.reps})
				// Still past the top from the original crossing, so the
				// rep can complete on the next clean bottom arrival.
				i.phase = phaseTop
				return out
			}
			i.pendingSamples++
			if i.pendingSamples >= i.tuning.RepDebounceSamples {
				out = i.confirmRep(out)
			}
			return out
		}
		if pos >= i.tuning.RepTopThresholdMM && speed >= i.tuning.RepMinVelocityMMS {
			i.phase = phaseTop
		}
	case phaseTop:
		if pos <= i.tuning.RepBottomThresholdMM {
			i.phase = phaseBottom
			i.reps.Pending = true
			i.pendingSamples = 0
			out = append(out, TelemetryEvent{Kind: EventRepPending, Reps: i.reps})
		}
	}
	return out
}

func (i *Interpreter) confirmRep(out []TelemetryEvent) []TelemetryEvent {
	i.reps.Pending = false
	i.pendingSamples = 0

	if !i.warmupDone {
		i.reps.WarmupReps++
		out = append(out, TelemetryEvent{Kind: EventRepConfirmed, Reps: i.reps})
		if i.reps.WarmupReps >= i.warmupTarget {
			i.warmupDone = true
			i.logger.Printf("Interpreter: Warm-up complete after %d reps", i.reps.WarmupReps)
			out = append(out, TelemetryEvent{Kind: EventWarmupComplete, Reps: i.reps})
		}
		return out
	}

	i.reps.WorkingReps++
	out = append(out, TelemetryEvent{Kind: EventRepConfirmed, Reps: i.reps})
	return out
}

func (i *Interpreter) processAutoStop(speed int16, out []TelemetryEvent) []TelemetryEvent {
	if i.autoStopFired {
		return out
	}
	if speed >= i.tuning.AutoStopVelocityMMS {
		i.autoStopLow = 0
		return out
	}
	i.autoStopLow++
	if i.autoStopLow >= i.tuning.AutoStopSamples {
		i.autoStopFired = true
		i.logger.Printf("Interpreter: Auto-stop after %d low-movement samples", i.autoStopLow)
		out = append(out, TelemetryEvent{Kind: EventAutoStop, Reps: i.reps})
	}
	return out
}

// processEcho updates the adaptive load estimate from samples where the
// cable is actually moving under load. The estimate moves smoothly: EWMA
// with a per-sample step bound, clamped to the configured plausible range.
func (i *Interpreter) processEcho(sample protocol.Telemetry) {
	if sample.MaxAbsVelocity() < i.tuning.RepMinVelocityMMS {
		return
	}
	perCableKg := sample.TotalLoadKg / protocol.NumCables
	if perCableKg <= 0 {
		return
	}

	if !i.echoSeeded {
		i.echoEstimateKg = clampFloat(perCableKg, i.tuning.EchoMinKg, i.tuning.EchoMaxKg)
		i.echoSeeded = true
		return
	}

	next := (1-i.tuning.EchoAlpha)*i.echoEstimateKg + i.tuning.EchoAlpha*perCableKg
	delta := next - i.echoEstimateKg
	if delta > i.tuning.EchoMaxStepKg {
		next = i.echoEstimateKg + i.tuning.EchoMaxStepKg
	} else if delta < -i.tuning.EchoMaxStepKg {
		next = i.echoEstimateKg - i.tuning.EchoMaxStepKg
	}
	i.echoEstimateKg = clampFloat(next, i.tuning.EchoMinKg, i.tuning.EchoMaxKg)
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
