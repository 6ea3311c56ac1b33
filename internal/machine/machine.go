// Package machine manages the BLE link to the resistance machine: scanning,
// the connect/initialize handshake, command writes and the raw telemetry
// stream. Frame contents are internal/protocol's business; workout semantics
// live in internal/engine.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/bt"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/events"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/go_func_utils"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

// Vendor GATT UUIDs. The machine exposes a single proprietary service with a
// write characteristic for commands and a notify characteristic for
// telemetry.
const (
	ServiceUUIDMachine = "0000fff0-0000-1000-8000-00805f9b34fb"
	CharUUIDCommand    = "0000fff1-0000-1000-8000-00805f9b34fb"
	CharUUIDTelemetry  = "0000fff2-0000-1000-8000-00805f9b34fb"
)

// State is the connection lifecycle phase.
type State int

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateInitializing
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateScanning:
		return "Scanning"
	case StateConnecting:
		return "Connecting"
	case StateInitializing:
		return "Initializing"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// ConnectionState pairs the lifecycle phase with the device it refers to.
// DeviceID is empty unless a connection attempt is in progress or
// established.
type ConnectionState struct {
	State    State
	DeviceID string
}

var (
	// ErrTimeout indicates the device did not reach the connected state in
	// time. The attempt is abandoned; callers may retry.
	ErrTimeout = errors.New("connection timeout")

	// ErrNotConnected indicates a command was attempted with no machine link.
	ErrNotConnected = errors.New("not connected to machine")
)

const (
	defaultConnectTimeout = 10 * time.Second

	// initFrameGap paces the two init frames. The firmware drops the second
	// write if it lands in the same connection event as the first.
	initFrameGap = 100 * time.Millisecond

	frameBufferLen = 64
)

// Manager owns the link to one machine at a time. All methods are safe for
// concurrent use.
type Manager struct {
	btManager bt.BTManagerInterface
	logger    *log.Logger

	mu     sync.RWMutex
	state  ConnectionState
	device bt.BTDevice // nil unless connected

	stateEvent *events.ChannelEvent[ConnectionState]
	frames     chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager and starts its link supervision goroutine.
func NewManager(btManager bt.BTManagerInterface, logger *log.Logger) *Manager {
	if btManager == nil {
		panic("Manager: btManager cannot be nil")
	}
	if logger == nil {
		panic("Manager: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		btManager:  btManager,
		logger:     logger,
		state:      ConnectionState{State: StateDisconnected},
		stateEvent: events.NewChannelEvent[ConnectionState](true),
		frames:     make(chan []byte, frameBufferLen),
		ctx:        ctx,
		cancel:     cancel,
	}
	m.stateEvent.Notify(m.state)

	// Watch the adapter's connected-device list to detect link loss. The
	// machine drops the link itself when idle too long, so this fires in
	// normal use, not just on radio faults.
	connectedCh := make(chan []bt.BTDevice, 8)
	stopListening := btManager.ListenToConnectedDevices(connectedCh)

	m.wg.Add(1)
	go_func_utils.SafeGo(logger, func() {
		defer m.wg.Done()
		defer stopListening()
		for {
			select {
			case <-m.ctx.Done():
				return
			case devices := <-connectedCh:
				m.checkLinkLoss(devices)
			}
		}
	})

	return m
}

func (m *Manager) checkLinkLoss(connected []bt.BTDevice) {
	m.mu.Lock()
	if m.device == nil {
		m.mu.Unlock()
		return
	}
	deviceID := m.device.GetAddressString()
	for _, d := range connected {
		if d.GetAddressString() == deviceID {
			m.mu.Unlock()
			return
		}
	}
	m.device = nil
	m.mu.Unlock()

	m.logger.Printf("Machine: Link lost to %s", deviceID)
	m.setState(ConnectionState{State: StateDisconnected})
}

// StartScanning starts a scan filtered to the machine's vendor service.
func (m *Manager) StartScanning() {
	m.logger.Println("Machine: Scanning for machines")
	m.btManager.StartScan([]string{ServiceUUIDMachine})

	m.mu.RLock()
	idle := m.state.State == StateDisconnected
	m.mu.RUnlock()
	if idle {
		m.setState(ConnectionState{State: StateScanning})
	}
}

// StopScanning stops an active scan. The state returns to Disconnected
// unless a connection is in progress.
func (m *Manager) StopScanning() error {
	err := m.btManager.StopScan()

	m.mu.RLock()
	scanning := m.state.State == StateScanning
	m.mu.RUnlock()
	if scanning {
		m.setState(ConnectionState{State: StateDisconnected})
	}
	return err
}

// Machines returns the machines visible in the current scan.
func (m *Manager) Machines() []bt.BTDevice {
	devices := m.btManager.GetScanDevices()
	result := make([]bt.BTDevice, 0, len(devices))
	for _, d := range devices {
		if d.HasServiceUUID(ServiceUUIDMachine) {
			result = append(result, d)
		}
	}
	return result
}

// ListenToMachines registers a channel for scan result updates. Returns a
// deregistration function.
func (m *Manager) ListenToMachines(ch chan<- []bt.BTDevice) func() {
	return m.btManager.ListenToDeviceList(ch)
}

// Connect establishes the link to the machine with the given address and
// runs the initialization handshake. The ctx deadline bounds the wait for
// the BLE connection; without one a default applies. Returns ErrTimeout if
// the machine does not come up in time.
func (m *Manager) Connect(ctx context.Context, deviceID string) error {
	device := m.btManager.GetBTDeviceByAddressString(deviceID)
	if device == nil {
		return fmt.Errorf("machine not found: %s", deviceID)
	}

	m.logger.Printf("Machine: Connecting to %s (%s)", device.GetLocalName(), deviceID)
	m.setState(ConnectionState{State: StateConnecting, DeviceID: deviceID})

	if err := m.btManager.Connect(device); err != nil {
		m.setState(ConnectionState{State: StateDisconnected})
		return fmt.Errorf("failed to initiate connection: %w", err)
	}

	timeout := defaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := device.WaitForConnection(timeout); err != nil {
		m.setState(ConnectionState{State: StateDisconnected})
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	m.setState(ConnectionState{State: StateInitializing, DeviceID: deviceID})
	if err := m.initialize(device); err != nil {
		if dErr := m.btManager.Disconnect(device); dErr != nil {
			m.logger.Printf("Machine: Error disconnecting after failed init: %v", dErr)
		}
		m.setState(ConnectionState{State: StateDisconnected})
		return err
	}

	m.mu.Lock()
	m.device = device
	m.mu.Unlock()

	m.logger.Printf("Machine: Connected to %s", deviceID)
	m.setState(ConnectionState{State: StateConnected, DeviceID: deviceID})
	return nil
}

// initialize subscribes to telemetry and sends the init frames. The machine
// stays in a dormant state until it has seen both.
func (m *Manager) initialize(device bt.BTDevice) error {
	if err := device.EnableNotifications(ServiceUUIDMachine, CharUUIDTelemetry, m.handleTelemetry); err != nil {
		return fmt.Errorf("failed to enable telemetry notifications: %w", err)
	}

	for _, frame := range [][]byte{protocol.EncodeInit(), protocol.EncodeInitPreset()} {
		if err := device.WriteCharacteristicWithoutResponse(ServiceUUIDMachine, CharUUIDCommand, frame); err != nil {
			return fmt.Errorf("init write failed: %w", err)
		}
		time.Sleep(initFrameGap)
	}
	return nil
}

func (m *Manager) handleTelemetry(buf []byte) {
	// The callback runs on the BLE stack's goroutine; it must never block.
	frame := make([]byte, len(buf))
	copy(frame, buf)
	select {
	case m.frames <- frame:
	default:
		m.logger.Printf("Machine: Telemetry buffer full, dropping frame")
	}
}

// Disconnect tears down the link. Safe to call when already disconnected.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	device := m.device
	m.device = nil
	m.mu.Unlock()

	if device == nil {
		return nil
	}

	m.logger.Printf("Machine: Disconnecting from %s", device.GetAddressString())
	m.setState(ConnectionState{State: StateDisconnecting, DeviceID: device.GetAddressString()})
	err := m.btManager.Disconnect(device)
	m.setState(ConnectionState{State: StateDisconnected})
	return err
}

// SendCommand writes one command frame to the machine. Returns
// ErrNotConnected if there is no link; the write itself is fire-and-forget.
func (m *Manager) SendCommand(frame []byte) error {
	m.mu.RLock()
	device := m.device
	m.mu.RUnlock()

	if device == nil {
		return ErrNotConnected
	}
	if err := device.WriteCharacteristicWithoutResponse(ServiceUUIDMachine, CharUUIDCommand, frame); err != nil {
		return fmt.Errorf("command write failed: %w", err)
	}
	return nil
}

// Notifications returns the stream of raw telemetry frames. Decoding and
// validation happen downstream; a slow consumer loses frames rather than
// stalling the BLE callback.
func (m *Manager) Notifications() <-chan []byte {
	return m.frames
}

// GetState returns the current connection state.
func (m *Manager) GetState() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether a machine link is established.
func (m *Manager) IsConnected() bool {
	return m.GetState().State == StateConnected
}

// ListenToState registers a channel for connection state changes. The
// current state is replayed to new listeners. Returns a deregistration
// function.
func (m *Manager) ListenToState(ch chan<- ConnectionState) func() {
	return m.stateEvent.Listen(ch)
}

func (m *Manager) setState(state ConnectionState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.logger.Printf("Machine: State -> %s", state.State)
	m.stateEvent.Notify(state)
}

// Shutdown disconnects and stops the supervision goroutine.
func (m *Manager) Shutdown() {
	m.logger.Println("Machine: Shutting down")
	if err := m.Disconnect(); err != nil {
		m.logger.Printf("Machine: Error disconnecting during shutdown: %v", err)
	}
	m.cancel()
	m.wg.Wait()
}
