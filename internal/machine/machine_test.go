package machine

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

func newTestLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestManager(t *testing.T) (*Manager, *MockDeviceManager, *MockDevice) {
	t.Helper()
	logger := newTestLogger()
	btManager := NewMockDeviceManager(logger)
	btManager.SetTiming(10*time.Millisecond, 200*time.Millisecond)
	require.NoError(t, btManager.Enable())

	manager := NewManager(btManager, logger)
	t.Cleanup(func() {
		manager.Shutdown()
		btManager.Shutdown()
	})
	return manager, btManager, btManager.Devices()[0]
}

func TestConnectRunsInitSequence(t *testing.T) {
	manager, _, device := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Connect(ctx, device.GetAddressString()))

	assert.Equal(t, StateConnected, manager.GetState().State)
	assert.Equal(t, device.GetAddressString(), manager.GetState().DeviceID)
	assert.True(t, manager.IsConnected())

	frames := device.WrittenFrames()
	require.Len(t, frames, 2)
	opcode, _, err := protocol.ParseFrame(frames[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.OpInit, opcode)
	opcode, _, err = protocol.ParseFrame(frames[1])
	require.NoError(t, err)
	assert.Equal(t, protocol.OpInitPreset, opcode)
}

func TestConnectTimeout(t *testing.T) {
	manager, btManager, device := newTestManager(t)
	btManager.FailConnections = true

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := manager.Connect(ctx, device.GetAddressString())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateDisconnected, manager.GetState().State)
}

func TestConnectUnknownDevice(t *testing.T) {
	manager, _, _ := newTestManager(t)

	err := manager.Connect(context.Background(), "ff:ff:ff:ff:ff:ff")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, manager.GetState().State)
}

func TestSendCommandWhileDisconnected(t *testing.T) {
	manager, _, _ := newTestManager(t)

	err := manager.SendCommand(protocol.EncodeStart())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStartCommandStartsTelemetry(t *testing.T) {
	manager, _, device := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Connect(ctx, device.GetAddressString()))

	require.NoError(t, manager.SendCommand(protocol.EncodeStart()))
	assert.True(t, device.IsRunning())

	select {
	case frame := <-manager.Notifications():
		sample, err := protocol.DecodeTelemetry(frame)
		require.NoError(t, err)
		assert.Greater(t, sample.MaxPosition(), uint16(0))
	case <-time.After(2 * time.Second):
		t.Fatal("no telemetry received after start command")
	}

	require.NoError(t, manager.SendCommand(protocol.EncodeStop()))
	assert.False(t, device.IsRunning())
}

func TestLinkLossDetection(t *testing.T) {
	manager, btManager, device := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Connect(ctx, device.GetAddressString()))

	btManager.DropLink(device.GetAddressString())

	assert.Eventually(t, func() bool {
		return manager.GetState().State == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond, "link loss not detected")

	err := manager.SendCommand(protocol.EncodeStart())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectPublishesDisconnectingFirst(t *testing.T) {
	manager, _, device := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Connect(ctx, device.GetAddressString()))

	ch := make(chan ConnectionState, 8)
	unlisten := manager.ListenToState(ch)
	defer unlisten()

	require.NoError(t, manager.Disconnect())

	var states []ConnectionState
	deadline := time.After(time.Second)
	for len(states) < 3 {
		select {
		case state := <-ch:
			states = append(states, state)
		case <-deadline:
			t.Fatalf("expected 3 state transitions, saw %v", states)
		}
	}
	assert.Equal(t, StateConnected, states[0].State)
	assert.Equal(t, StateDisconnecting, states[1].State)
	assert.Equal(t, device.GetAddressString(), states[1].DeviceID)
	assert.Equal(t, StateDisconnected, states[2].State)
}

func TestStateListenerReplaysCurrentState(t *testing.T) {
	manager, _, _ := newTestManager(t)

	ch := make(chan ConnectionState, 8)
	unlisten := manager.ListenToState(ch)
	defer unlisten()

	select {
	case state := <-ch:
		assert.Equal(t, StateDisconnected, state.State)
	case <-time.After(time.Second):
		t.Fatal("no replayed state received")
	}
}

func TestInjectedTelemetryReachesNotifications(t *testing.T) {
	manager, _, device := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Connect(ctx, device.GetAddressString()))

	want := protocol.Telemetry{
		PositionMM:  [protocol.NumCables]uint16{700, 695},
		VelocityMMS: [protocol.NumCables]int16{250, 245},
		TotalLoadKg: 40,
	}
	device.InjectTelemetry(want)

	select {
	case frame := <-manager.Notifications():
		got, err := protocol.DecodeTelemetry(frame)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("injected telemetry not delivered")
	}
}
