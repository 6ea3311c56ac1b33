package engine

// Tuning holds the telemetry interpretation thresholds. These are
// hardware-dependent and validated against device logs; the defaults below
// suit the reference machine at its stock 10 Hz telemetry rate but every
// value is overridable through configuration.
type Tuning struct {
	// RepTopThresholdMM is the cable extension above which the concentric
	// extreme of a rep is considered reached.
	RepTopThresholdMM uint16

	// RepBottomThresholdMM is the cable extension below which the cable is
	// considered returned to the eccentric extreme.
	RepBottomThresholdMM uint16

	// RepMinVelocityMMS gates rep detection: the top crossing only counts if
	// cable speed is at least this, rejecting slow creep.
	RepMinVelocityMMS int16

	// RepDebounceSamples is how many consecutive samples the cable must hold
	// the bottom position before a pending rep is confirmed.
	RepDebounceSamples int

	// AutoStopVelocityMMS is the speed below which a sample counts as "no
	// movement" for auto-stop.
	AutoStopVelocityMMS int16

	// AutoStopSamples is how many consecutive no-movement samples end the
	// set.
	AutoStopSamples int

	// EchoAlpha is the smoothing factor of the adaptive-load estimate.
	EchoAlpha float64

	// EchoMinKg and EchoMaxKg clamp the adaptive-load estimate to a
	// plausible range.
	EchoMinKg float64
	EchoMaxKg float64

	// EchoMaxStepKg bounds how far the estimate may move on a single
	// sample.
	EchoMaxStepKg float64

	// GripThresholdMM is the cable extension that counts as "handles
	// gripped" for the auto-start countdown variant.
	GripThresholdMM uint16
}

// DefaultTuning returns the reference machine's thresholds.
func DefaultTuning() Tuning {
	return Tuning{
		RepTopThresholdMM:    700,
		RepBottomThresholdMM: 150,
		RepMinVelocityMMS:    50,
		RepDebounceSamples:   3,
		AutoStopVelocityMMS:  30,
		AutoStopSamples:      30,
		EchoAlpha:            0.2,
		EchoMinKg:            5,
		EchoMaxKg:            110,
		EchoMaxStepKg:        2.5,
		GripThresholdMM:      250,
	}
}

// SessionConfig holds the session's user-facing timings.
type SessionConfig struct {
	CountdownSeconds    int
	SummarySeconds      int
	DefaultRestSeconds  int
	ErrorDismissSeconds int

	// AutoStartOnGrip begins the set as soon as telemetry shows the
	// handles gripped, instead of waiting out the full countdown.
	AutoStartOnGrip bool
}

// DefaultSessionConfig returns the stock timings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		CountdownSeconds:    3,
		SummarySeconds:      5,
		DefaultRestSeconds:  60,
		ErrorDismissSeconds: 5,
	}
}
