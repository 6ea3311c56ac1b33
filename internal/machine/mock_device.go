package machine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/bt"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/events"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/go_func_utils"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

// MockDevice implements bt.BTDevice for a simulated resistance machine. It
// understands the real command frames: a start frame makes it stream
// oscillating cable telemetry, a stop frame silences it. Every written frame
// is recorded for inspection.
type MockDevice struct {
	logger    *log.Logger
	address   string
	localName string

	mu                sync.RWMutex
	state             bt.BTDeviceState
	telemetryCallback func([]byte)
	running           bool
	program           protocol.ProgramParameters
	phase             float64

	writtenMu     sync.RWMutex
	writtenFrames [][]byte
}

// MockDeviceConfig holds configuration for creating a mock machine.
type MockDeviceConfig struct {
	Address   string
	LocalName string

	// NotifyInterval paces telemetry while a set runs. Defaults to 100ms,
	// matching real hardware.
	NotifyInterval time.Duration

	// RepPeriod is the duration of one simulated rep cycle. Defaults to 2s.
	RepPeriod time.Duration
}

// NewMockDevice creates a mock machine device.
func NewMockDevice(logger *log.Logger, config MockDeviceConfig) *MockDevice {
	if logger == nil {
		panic("MockDevice: logger cannot be nil")
	}
	return &MockDevice{
		logger:    logger,
		address:   config.Address,
		localName: config.LocalName,
		state:     bt.Disconnected,
	}
}

// SetConnected changes the simulated connection state.
func (d *MockDevice) SetConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if connected {
		d.state = bt.Connected
	} else {
		d.state = bt.Disconnected
		d.running = false
		d.telemetryCallback = nil
	}
	d.logger.Printf("MockDevice [%s]: State changed to %v", d.localName, d.state)
}

// --- bt.BTDevice implementation ---

func (d *MockDevice) GetAddressString() string { return d.address }

func (d *MockDevice) GetScanRSSI() (int16, error) { return -48, nil }

func (d *MockDevice) GetScanLastSeen() time.Time { return time.Now() }

func (d *MockDevice) SetScanLastSeen(t time.Time) {}

func (d *MockDevice) GetLocalName() string { return d.localName }

func (d *MockDevice) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state == bt.Connected
}

func (d *MockDevice) GetState() bt.BTDeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *MockDevice) GetStateDescription() string {
	switch d.GetState() {
	case bt.Connected:
		return "Connected"
	case bt.Connecting:
		return "Connecting"
	default:
		return "Disconnected"
	}
}

func (d *MockDevice) IsRecentlyScanned() bool { return true }

// WaitForConnection polls like the real transport does, so connection
// timeout paths are exercisable against the mock.
func (d *MockDevice) WaitForConnection(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.IsConnected() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("timeout after %v waiting for connection", timeout)
}

func (d *MockDevice) EnableNotifications(serviceUuid string, characteristicUuid string, callbackFunc func(buf []byte)) error {
	if serviceUuid != ServiceUUIDMachine || characteristicUuid != CharUUIDTelemetry {
		return fmt.Errorf("unknown service/characteristic: %s/%s", serviceUuid, characteristicUuid)
	}
	d.mu.Lock()
	d.telemetryCallback = callbackFunc
	d.mu.Unlock()
	d.logger.Printf("MockDevice [%s]: Telemetry notifications enabled", d.localName)
	return nil
}

func (d *MockDevice) DisableNotifications(serviceUuid string, characteristicUuid string) error {
	if serviceUuid != ServiceUUIDMachine || characteristicUuid != CharUUIDTelemetry {
		return fmt.Errorf("unknown service/characteristic: %s/%s", serviceUuid, characteristicUuid)
	}
	d.mu.Lock()
	d.telemetryCallback = nil
	d.mu.Unlock()
	d.logger.Printf("MockDevice [%s]: Telemetry notifications disabled", d.localName)
	return nil
}

func (d *MockDevice) WriteCharacteristic(serviceUuid string, characteristicUuid string, data []byte) error {
	return d.writeInternal(serviceUuid, characteristicUuid, data)
}

func (d *MockDevice) WriteCharacteristicWithoutResponse(serviceUuid string, characteristicUuid string, data []byte) error {
	return d.writeInternal(serviceUuid, characteristicUuid, data)
}

func (d *MockDevice) writeInternal(serviceUuid string, characteristicUuid string, data []byte) error {
	if serviceUuid != ServiceUUIDMachine || characteristicUuid != CharUUIDCommand {
		return fmt.Errorf("unknown service/characteristic: %s/%s", serviceUuid, characteristicUuid)
	}
	if !d.IsConnected() {
		return fmt.Errorf("device not connected")
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	d.writtenMu.Lock()
	d.writtenFrames = append(d.writtenFrames, frame)
	d.writtenMu.Unlock()

	opcode, _, err := protocol.ParseFrame(data)
	if err != nil {
		d.logger.Printf("MockDevice [%s]: Ignoring unparseable frame: %v", d.localName, err)
		return nil
	}

	switch opcode {
	case protocol.OpInit, protocol.OpInitPreset:
		d.logger.Printf("MockDevice [%s]: Init frame 0x%02X", d.localName, opcode)
	case protocol.OpSetProgram:
		program, err := protocol.DecodeProgramParameters(data)
		if err != nil {
			d.logger.Printf("MockDevice [%s]: Bad program frame: %v", d.localName, err)
			return nil
		}
		d.mu.Lock()
		d.program = program
		d.mu.Unlock()
		d.logger.Printf("MockDevice [%s]: Program set: %.1fkg %s", d.localName, program.WeightKg, program.Mode)
	case protocol.OpStart:
		d.mu.Lock()
		d.running = true
		d.phase = 0
		d.mu.Unlock()
		d.logger.Printf("MockDevice [%s]: Set started", d.localName)
	case protocol.OpStop, protocol.OpOfficialStop:
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		d.logger.Printf("MockDevice [%s]: Set stopped (0x%02X)", d.localName, opcode)
	default:
		d.logger.Printf("MockDevice [%s]: Unhandled opcode 0x%02X", d.localName, opcode)
	}
	return nil
}

func (d *MockDevice) GetServiceUUIDs() []string {
	return []string{ServiceUUIDMachine}
}

func (d *MockDevice) HasServiceUUID(uuid string) bool {
	return uuid == ServiceUUIDMachine
}

// --- Telemetry simulation ---

// IsRunning reports whether a start frame has been received without a
// subsequent stop frame.
func (d *MockDevice) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// WrittenFrames returns a copy of every frame written to the command
// characteristic.
func (d *MockDevice) WrittenFrames() [][]byte {
	d.writtenMu.RLock()
	defer d.writtenMu.RUnlock()
	frames := make([][]byte, len(d.writtenFrames))
	copy(frames, d.writtenFrames)
	return frames
}

// InjectTelemetry delivers one telemetry sample to the subscriber, bypassing
// the simulated movement. No-op without a subscriber.
func (d *MockDevice) InjectTelemetry(sample protocol.Telemetry) {
	d.mu.RLock()
	callback := d.telemetryCallback
	d.mu.RUnlock()
	if callback != nil {
		callback(protocol.EncodeTelemetry(sample))
	}
}

// tick advances the simulated cables by dt and emits a telemetry frame if a
// set is running. Position sweeps a cosine between a bottom near full
// retraction and a top near full extension, one cycle per rep.
func (d *MockDevice) tick(dt time.Duration, repPeriod time.Duration) {
	d.mu.Lock()
	if !d.running || d.telemetryCallback == nil {
		d.mu.Unlock()
		return
	}
	d.phase += dt.Seconds() / repPeriod.Seconds()
	phase := d.phase
	callback := d.telemetryCallback
	weightKg := d.program.WeightKg
	d.mu.Unlock()

	const (
		centerMM    = 450.0
		amplitudeMM = 400.0
	)
	angle := 2 * math.Pi * phase
	pos := uint16(centerMM - amplitudeMM*math.Cos(angle))
	vel := int16(amplitudeMM * (2 * math.Pi / repPeriod.Seconds()) * math.Sin(angle))

	callback(protocol.EncodeTelemetry(protocol.Telemetry{
		PositionMM:  [protocol.NumCables]uint16{pos, pos},
		VelocityMMS: [protocol.NumCables]int16{vel, vel},
		TotalLoadKg: 2 * weightKg,
	}))
}

// --- MockDeviceManager ---

// MockDeviceManager implements bt.BTManagerInterface over a set of mock
// machines, so the whole stack runs without Bluetooth hardware.
type MockDeviceManager struct {
	logger      *log.Logger
	mockDevices []*MockDevice

	notifyInterval time.Duration
	repPeriod      time.Duration

	// FailConnections makes Connect leave devices disconnected, for
	// exercising timeout paths.
	FailConnections bool

	mu       sync.RWMutex
	scanning bool

	scanDeviceListEvent   *events.ChannelEvent[[]bt.BTDevice]
	connectedDevicesEvent *events.ChannelEvent[[]bt.BTDevice]
	ctx                   context.Context
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
}

// Verify MockDeviceManager implements bt.BTManagerInterface
var _ bt.BTManagerInterface = (*MockDeviceManager)(nil)

// NewMockDeviceManager creates a manager with the given mock machines. With
// none given, a single default machine is created.
func NewMockDeviceManager(logger *log.Logger, devices ...*MockDevice) *MockDeviceManager {
	if logger == nil {
		panic("MockDeviceManager: logger cannot be nil")
	}

	if len(devices) == 0 {
		devices = []*MockDevice{
			NewMockDevice(logger, MockDeviceConfig{
				Address:   "00:11:22:33:44:01",
				LocalName: "Mock Machine",
			}),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &MockDeviceManager{
		logger:                logger,
		mockDevices:           devices,
		notifyInterval:        100 * time.Millisecond,
		repPeriod:             2 * time.Second,
		scanDeviceListEvent:   events.NewChannelEvent[[]bt.BTDevice](true),
		connectedDevicesEvent: events.NewChannelEvent[[]bt.BTDevice](true),
		ctx:                   ctx,
		cancel:                cancel,
	}
}

// SetTiming overrides telemetry pacing. Tests shrink both to run fast.
func (m *MockDeviceManager) SetTiming(notifyInterval, repPeriod time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyInterval = notifyInterval
	m.repPeriod = repPeriod
}

// Devices returns the mock machines for direct manipulation in tests.
func (m *MockDeviceManager) Devices() []*MockDevice {
	return m.mockDevices
}

// Enable starts the telemetry simulation loop.
func (m *MockDeviceManager) Enable() error {
	m.logger.Println("MockDeviceManager: Enabling")
	m.connectedDevicesEvent.Notify([]bt.BTDevice{})

	m.mu.RLock()
	interval := m.notifyInterval
	repPeriod := m.repPeriod
	m.mu.RUnlock()

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				for _, dev := range m.mockDevices {
					dev.tick(interval, repPeriod)
				}
			}
		}
	})
	return nil
}

func (m *MockDeviceManager) GetBTDeviceByAddressString(addressString string) bt.BTDevice {
	for _, dev := range m.mockDevices {
		if dev.address == addressString {
			return dev
		}
	}
	return nil
}

func (m *MockDeviceManager) StartScan(serviceUuidFilter []string) {
	m.logger.Println("MockDeviceManager: Starting scan")
	m.mu.Lock()
	m.scanning = true
	m.mu.Unlock()

	devices := make([]bt.BTDevice, len(m.mockDevices))
	for i, dev := range m.mockDevices {
		devices[i] = dev
		m.logger.Printf("MockDeviceManager: Found device: %s (%s)", dev.localName, dev.address)
	}
	m.scanDeviceListEvent.Notify(devices)
}

func (m *MockDeviceManager) StopScan() error {
	m.mu.Lock()
	m.scanning = false
	m.mu.Unlock()
	return nil
}

func (m *MockDeviceManager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

func (m *MockDeviceManager) Connect(device bt.BTDevice) error {
	m.logger.Printf("MockDeviceManager: Connecting to %s", device.GetAddressString())
	if m.FailConnections {
		m.logger.Println("MockDeviceManager: FailConnections set, leaving device disconnected")
		return nil
	}
	for _, dev := range m.mockDevices {
		if dev.address == device.GetAddressString() {
			dev.SetConnected(true)
			m.connectedDevicesEvent.Notify(m.GetConnectedDevices())
			return nil
		}
	}
	return fmt.Errorf("unknown device: %s", device.GetAddressString())
}

func (m *MockDeviceManager) Disconnect(device bt.BTDevice) error {
	for _, dev := range m.mockDevices {
		if dev.address == device.GetAddressString() {
			dev.SetConnected(false)
			break
		}
	}
	m.connectedDevicesEvent.Notify(m.GetConnectedDevices())
	return nil
}

// DropLink simulates the machine dropping the connection on its own, the
// way real hardware does after an idle period.
func (m *MockDeviceManager) DropLink(addressString string) {
	for _, dev := range m.mockDevices {
		if dev.address == addressString {
			dev.SetConnected(false)
			break
		}
	}
	m.connectedDevicesEvent.Notify(m.GetConnectedDevices())
}

func (m *MockDeviceManager) GetConnectedDevices() []bt.BTDevice {
	result := make([]bt.BTDevice, 0)
	for _, dev := range m.mockDevices {
		if dev.IsConnected() {
			result = append(result, dev)
		}
	}
	return result
}

func (m *MockDeviceManager) GetScanDevices() []bt.BTDevice {
	result := make([]bt.BTDevice, 0, len(m.mockDevices))
	for _, dev := range m.mockDevices {
		result = append(result, dev)
	}
	return result
}

func (m *MockDeviceManager) ListenToDeviceList(ch chan<- []bt.BTDevice) func() {
	return m.scanDeviceListEvent.Listen(ch)
}

func (m *MockDeviceManager) ListenToConnectedDevices(ch chan<- []bt.BTDevice) func() {
	return m.connectedDevicesEvent.Listen(ch)
}

func (m *MockDeviceManager) Shutdown() {
	m.logger.Println("MockDeviceManager: Shutting down")
	for _, dev := range m.mockDevices {
		dev.SetConnected(false)
	}
	m.cancel()
	m.wg.Wait()
}
