package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/bt"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/machine"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

type fakeConnector struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	sent        [][]byte
	failConnect bool
	failSendAt  int // 1-based frame index that fails; 0 disables
}

func (c *fakeConnector) Connect(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.failConnect {
		return machine.ErrTimeout
	}
	return nil
}

func (c *fakeConnector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *fakeConnector) SendCommand(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSendAt > 0 && len(c.sent)+1 == c.failSendAt {
		return fmt.Errorf("write rejected")
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *fakeConnector) sentOpcodes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]byte, len(c.sent))
	for i, f := range c.sent {
		ops[i] = f[1]
	}
	return ops
}

type fakeScanner struct {
	devices []bt.BTDevice
}

func (s *fakeScanner) StartScanning()          {}
func (s *fakeScanner) StopScanning() error     { return nil }
func (s *fakeScanner) Machines() []bt.BTDevice { return s.devices }

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

const testDeviceID = "00:11:22:33:44:01"

func fastCatalogConfigs(tier Tier) []TestConfig {
	configs := TierConfigs(tier)
	for i := range configs {
		configs[i].Timeout = 500 * time.Millisecond
	}
	return configs
}

func TestCatalogHasThirtyFiveOrderedEntries(t *testing.T) {
	configs := Catalog()
	require.Len(t, configs, 35)
	for i, c := range configs {
		assert.Equal(t, i, c.Index)
	}
	// Tiers are prefixes of the same catalog.
	assert.Equal(t, configs[:3], TierConfigs(TierQuick))
	assert.Equal(t, configs[:7], TierConfigs(TierRecommended))
	assert.Equal(t, configs, TierConfigs(TierFull))
}

func TestQuickTierRunsExactlyThreeTests(t *testing.T) {
	conn := &fakeConnector{}
	h := NewHarness(conn, testDeviceID, discardLogger())

	results := h.Run(context.Background(), TierQuick)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.Equal(t, 3, conn.connects)
	assert.Equal(t, 3, conn.disconnects)
}

func TestFailuresDoNotAbortTheRun(t *testing.T) {
	conn := &fakeConnector{failConnect: true}
	h := NewHarness(conn, testDeviceID, discardLogger())

	results := h.Run(context.Background(), TierQuick)
	require.Len(t, results, 3, "all configs produce a result even when every test fails")
	for _, r := range results {
		assert.False(t, r.Success)
		assert.ErrorIs(t, r.Err, machine.ErrTimeout)
	}

	report := Report(results)
	assert.Contains(t, report, "0/3 passed")
	assert.Contains(t, report, "No working combination found")
}

func TestRunSendsVariantInitSequence(t *testing.T) {
	conn := &fakeConnector{}
	h := NewHarness(conn, testDeviceID, discardLogger())

	configs := fastCatalogConfigs(TierQuick)
	result := h.runOne(context.Background(), configs[0])
	require.True(t, result.Success)
	// The first catalog entry is the standard init handshake.
	assert.Equal(t, []byte{protocol.OpInit, protocol.OpInitPreset}, conn.sentOpcodes())
}

func TestSendFailureRecordedAsResult(t *testing.T) {
	conn := &fakeConnector{failSendAt: 2}
	h := NewHarness(conn, testDeviceID, discardLogger())

	result := h.runOne(context.Background(), fastCatalogConfigs(TierQuick)[0])
	assert.False(t, result.Success)
	assert.ErrorContains(t, result.Err, "init sequence")
	assert.Equal(t, 1, conn.disconnects, "disconnect still runs after a failed test")
}

func TestReportNamesBestCombination(t *testing.T) {
	configs := Catalog()
	results := []TestResult{
		{Config: configs[0], Success: true, ConnectTime: 900 * time.Millisecond, InitTime: 300 * time.Millisecond},
		{Config: configs[1], Success: true, ConnectTime: 400 * time.Millisecond, InitTime: 200 * time.Millisecond},
		{Config: configs[2], Success: false, Err: errors.New("connect: connection timeout")},
	}

	report := Report(results)
	assert.Contains(t, report, "2/3 passed")
	assert.Contains(t, report, "Best combination: standard with 250ms delay (total 600ms)")
	assert.Contains(t, report, "connection timeout")
}

func TestExerciseCycleRunsAllPhases(t *testing.T) {
	conn := &fakeConnector{}
	device := machine.NewMockDevice(discardLogger(), machine.MockDeviceConfig{
		Address:   testDeviceID,
		LocalName: "Mock Machine",
	})
	scanner := &fakeScanner{devices: []bt.BTDevice{device}}
	h := NewHarness(conn, testDeviceID, discardLogger())

	result := h.ExerciseCycle(context.Background(), scanner, CycleOptions{
		FrameGap: time.Millisecond,
		Hold:     10 * time.Millisecond,
	})
	require.True(t, result.Success)

	names := make([]string, len(result.Phases))
	for i, p := range result.Phases {
		names[i] = p.Name
	}
	assert.Equal(t, []string{
		"scan", "connect", "initialize", "configure", "start",
		"hold", "stop-primary", "stop-official", "cleanup",
	}, names)
	assert.Equal(t, []byte{
		protocol.OpInit, protocol.OpInitPreset,
		protocol.OpSetProgram, protocol.OpStart,
		protocol.OpStop, protocol.OpOfficialStop,
	}, conn.sentOpcodes())
}

func TestExerciseCycleAbortsButCleansUp(t *testing.T) {
	conn := &fakeConnector{failSendAt: 3} // configure frame fails
	device := machine.NewMockDevice(discardLogger(), machine.MockDeviceConfig{Address: testDeviceID})
	scanner := &fakeScanner{devices: []bt.BTDevice{device}}
	h := NewHarness(conn, testDeviceID, discardLogger())

	result := h.ExerciseCycle(context.Background(), scanner, CycleOptions{
		FrameGap: time.Millisecond,
		Hold:     10 * time.Millisecond,
	})
	require.False(t, result.Success)

	last := result.Phases[len(result.Phases)-1]
	assert.Equal(t, "cleanup", last.Name)
	assert.NoError(t, last.Err)
	assert.Equal(t, 1, conn.disconnects)

	report := CycleReport(result)
	assert.Contains(t, report, "Cycle aborted")
	assert.True(t, strings.Contains(report, "configure") && strings.Contains(report, "FAIL"))
}

func TestExerciseCycleScanTimeout(t *testing.T) {
	conn := &fakeConnector{}
	scanner := &fakeScanner{} // device never appears
	h := NewHarness(conn, testDeviceID, discardLogger())

	result := h.ExerciseCycle(context.Background(), scanner, CycleOptions{
		ScanTimeout: 50 * time.Millisecond,
		FrameGap:    time.Millisecond,
		Hold:        time.Millisecond,
	})
	require.False(t, result.Success)
	assert.Equal(t, "scan", result.Phases[0].Name)
	assert.Error(t, result.Phases[0].Err)
	assert.Equal(t, 0, conn.connects)
	assert.Equal(t, 1, conn.disconnects, "cleanup still attempts disconnect")
}
