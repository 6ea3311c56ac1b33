package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/bt"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/machine"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

// Scanner is the scanning slice of the connection manager the exercise
// cycle uses to verify the device is discoverable before connecting.
type Scanner interface {
	StartScanning()
	StopScanning() error
	Machines() []bt.BTDevice
}

var _ Scanner = (*machine.Manager)(nil)

// PhaseResult records one phase of the exercise cycle.
type PhaseResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// CycleResult is the outcome of one end-to-end exercise cycle.
type CycleResult struct {
	Phases  []PhaseResult
	Success bool
}

// CycleOptions tunes the exercise cycle.
type CycleOptions struct {
	ScanTimeout time.Duration
	ConnTimeout time.Duration
	FrameGap    time.Duration
	Hold        time.Duration
	WeightKg    float64
}

func (o *CycleOptions) applyDefaults() {
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = 15 * time.Second
	}
	if o.ConnTimeout <= 0 {
		o.ConnTimeout = 10 * time.Second
	}
	if o.FrameGap <= 0 {
		o.FrameGap = 100 * time.Millisecond
	}
	if o.Hold <= 0 {
		o.Hold = 3 * time.Second
	}
	if o.WeightKg <= 0 {
		o.WeightKg = 10
	}
}

// ExerciseCycle runs one fixed end-to-end pass through the machine's
// command surface: scan, connect, initialize, configure, start, hold,
// stop-primary, stop-official, cleanup. A failing phase aborts the
// remainder, except cleanup, which always runs.
func (h *Harness) ExerciseCycle(ctx context.Context, scanner Scanner, opts CycleOptions) CycleResult {
	opts.applyDefaults()

	type phase struct {
		name string
		run  func(context.Context) error
	}
	phases := []phase{
		{"scan", func(ctx context.Context) error { return h.scanForDevice(ctx, scanner, opts.ScanTimeout) }},
		{"connect", func(ctx context.Context) error {
			connCtx, cancel := context.WithTimeout(ctx, opts.ConnTimeout)
			defer cancel()
			return h.connector.Connect(connCtx, h.deviceID)
		}},
		{"initialize", func(ctx context.Context) error {
			return h.sendFrames(ctx, opts.FrameGap, protocol.EncodeInit(), protocol.EncodeInitPreset())
		}},
		{"configure", func(ctx context.Context) error {
			frame := protocol.EncodeProgramParameters(protocol.ProgramParameters{
				WeightKg:   opts.WeightKg,
				Mode:       protocol.ModeOldSchool,
				TargetReps: 0,
			})
			return h.sendFrames(ctx, opts.FrameGap, frame)
		}},
		{"start", func(ctx context.Context) error {
			return h.sendFrames(ctx, opts.FrameGap, protocol.EncodeStart())
		}},
		{"hold", func(ctx context.Context) error { return sleepCtx(ctx, opts.Hold) }},
		{"stop-primary", func(ctx context.Context) error {
			return h.sendFrames(ctx, opts.FrameGap, protocol.EncodeStop())
		}},
		{"stop-official", func(ctx context.Context) error {
			return h.sendFrames(ctx, opts.FrameGap, protocol.EncodeOfficialStop())
		}},
	}

	result := CycleResult{Success: true}
	defer func() {
		// Cleanup runs no matter how far the cycle got.
		start := time.Now()
		err := h.connector.Disconnect()
		result.Phases = append(result.Phases, PhaseResult{
			Name:     "cleanup",
			Duration: time.Since(start),
			Err:      err,
		})
		if err != nil {
			h.logger.Printf("Discovery: Cleanup failed: %v", err)
		}
	}()

	for _, p := range phases {
		h.logger.Printf("Discovery: Exercise cycle phase %q", p.name)
		start := time.Now()
		err := p.run(ctx)
		result.Phases = append(result.Phases, PhaseResult{
			Name:     p.name,
			Duration: time.Since(start),
			Err:      err,
		})
		if err != nil {
			h.logger.Printf("Discovery: Phase %q failed, aborting cycle: %v", p.name, err)
			result.Success = false
			break
		}
	}
	return result
}

func (h *Harness) scanForDevice(ctx context.Context, scanner Scanner, timeout time.Duration) error {
	if scanner == nil {
		return fmt.Errorf("no scanner available")
	}
	scanner.StartScanning()
	defer func() {
		if err := scanner.StopScanning(); err != nil {
			h.logger.Printf("Discovery: Failed to stop scan: %v", err)
		}
	}()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, device := range scanner.Machines() {
			if device.GetAddressString() == h.deviceID {
				return nil
			}
		}
		if err := sleepCtx(ctx, 200*time.Millisecond); err != nil {
			return err
		}
	}
	return fmt.Errorf("device %s not seen in scan within %v", h.deviceID, timeout)
}

func (h *Harness) sendFrames(ctx context.Context, gap time.Duration, frames ...[]byte) error {
	for _, frame := range frames {
		if err := h.connector.SendCommand(frame); err != nil {
			return err
		}
		if err := sleepCtx(ctx, gap); err != nil {
			return err
		}
	}
	return nil
}
