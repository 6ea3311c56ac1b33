package discovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/machine"
)

// Connector is the slice of the connection manager the harness drives.
type Connector interface {
	Connect(ctx context.Context, deviceID string) error
	Disconnect() error
	SendCommand(frame []byte) error
}

var _ Connector = (*machine.Manager)(nil)

// TestResult records the outcome of one catalog entry.
type TestResult struct {
	Config      TestConfig
	Success     bool
	ConnectTime time.Duration
	InitTime    time.Duration
	Err         error
}

// TotalTime is the combined connect and init latency, the metric results
// are ranked by.
func (r TestResult) TotalTime() time.Duration {
	return r.ConnectTime + r.InitTime
}

// Harness runs discovery tests against one device. It must not be used
// while a workout session owns the connection.
type Harness struct {
	connector Connector
	deviceID  string
	logger    *log.Logger
}

// NewHarness creates a discovery harness for the given device.
func NewHarness(connector Connector, deviceID string, logger *log.Logger) *Harness {
	if connector == nil {
		panic("Harness: connector cannot be nil")
	}
	if logger == nil {
		panic("Harness: logger cannot be nil")
	}
	return &Harness{connector: connector, deviceID: deviceID, logger: logger}
}

// Run executes the tier's catalog prefix in order. A failing entry is
// recorded and the run continues; the returned slice always has one result
// per config. Cancelling the context stops the run early with the results
// collected so far.
func (h *Harness) Run(ctx context.Context, tier Tier) []TestResult {
	configs := TierConfigs(tier)
	h.logger.Printf("Discovery: Starting %s tier, %d configurations", tier, len(configs))

	results := make([]TestResult, 0, len(configs))
	for _, config := range configs {
		if ctx.Err() != nil {
			h.logger.Printf("Discovery: Run cancelled after %d of %d tests", len(results), len(configs))
			break
		}
		result := h.runOne(ctx, config)
		if result.Success {
			h.logger.Printf("Discovery: Test %d (%s / %v) passed in %v",
				config.Index, config.Protocol, config.Delay.Duration(), result.TotalTime())
		} else {
			h.logger.Printf("Discovery: Test %d (%s / %v) failed: %v",
				config.Index, config.Protocol, config.Delay.Duration(), result.Err)
		}
		results = append(results, result)
	}
	return results
}

func (h *Harness) runOne(ctx context.Context, config TestConfig) TestResult {
	result := TestResult{Config: config}

	testCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	connectStart := time.Now()
	if err := h.connector.Connect(testCtx, h.deviceID); err != nil {
		result.Err = fmt.Errorf("connect: %w", err)
		return result
	}
	result.ConnectTime = time.Since(connectStart)
	defer func() {
		if err := h.connector.Disconnect(); err != nil {
			h.logger.Printf("Discovery: Disconnect after test %d failed: %v", config.Index, err)
		}
	}()

	if err := sleepCtx(testCtx, config.Delay.Duration()); err != nil {
		result.Err = err
		return result
	}

	initStart := time.Now()
	for _, frame := range config.Protocol.Frames() {
		if err := h.connector.SendCommand(frame); err != nil {
			result.Err = fmt.Errorf("init sequence: %w", err)
			return result
		}
		if err := sleepCtx(testCtx, config.Delay.Duration()); err != nil {
			result.Err = err
			return result
		}
	}
	result.InitTime = time.Since(initStart)
	result.Success = true
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
