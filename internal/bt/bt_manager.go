package bt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/events"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/go_func_utils"

	"tinygo.org/x/bluetooth"
)

// BTManagerInterface is the adapter-level surface the rest of the app builds
// on. The mock machine (internal/machine) implements the same interface so
// everything above runs without real hardware.
type BTManagerInterface interface {
	Enable() error
	GetBTDeviceByAddressString(addressString string) BTDevice
	StartScan(serviceUuidFilter []string)
	StopScan() error
	IsScanning() bool
	Connect(device BTDevice) error
	Disconnect(device BTDevice) error
	GetConnectedDevices() []BTDevice
	GetScanDevices() []BTDevice
	ListenToDeviceList(ch chan<- []BTDevice) func()
	ListenToConnectedDevices(ch chan<- []BTDevice) func()
	Shutdown()
}

// Verify BTManager implements BTManagerInterface
var _ BTManagerInterface = (*BTManager)(nil)

type BTManager struct {
	adapter               *bluetooth.Adapter
	devicesByAddress      map[string]*btDeviceImpl
	mu                    sync.RWMutex
	scanning              bool
	scanTimeout           time.Duration
	scanDeviceListEvent   *events.ChannelEvent[[]BTDevice]
	scanContext           context.Context
	scanContextCancel     context.CancelFunc
	connectedDevicesEvent *events.ChannelEvent[[]BTDevice]
	ctx                   context.Context
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
	logger                *log.Logger
}

func NewBTManager(adapter *bluetooth.Adapter, logger *log.Logger, scanTimeout ...time.Duration) *BTManager {
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	timeout := 10 * time.Second
	if len(scanTimeout) > 0 && scanTimeout[0] > 0 {
		timeout = scanTimeout[0]
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BTManager{
		adapter:               adapter,
		devicesByAddress:      make(map[string]*btDeviceImpl),
		scanTimeout:           timeout,
		scanDeviceListEvent:   events.NewChannelEvent[[]BTDevice](true),
		connectedDevicesEvent: events.NewChannelEvent[[]BTDevice](true),
		ctx:                   ctx,
		cancel:                cancel,
		logger:                logger,
	}
}

// GetBTDeviceByAddressString returns a BTDevice by its address string, or nil if not found
func (m *BTManager) GetBTDeviceByAddressString(addressString string) BTDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	device, ok := m.devicesByAddress[addressString]
	if ok {
		return device
	}
	return nil
}

func (m *BTManager) getBTDeviceImpl(address bluetooth.Address) (*btDeviceImpl, bool) {
	addressStr := address.String()

	result, ok := m.devicesByAddress[addressStr]
	newObj := false
	if !ok {
		newObj = true
		result = newBtDeviceImpl(m.logger, address, m.scanTimeout)
		m.devicesByAddress[addressStr] = result
	}
	return result, newObj
}

func (m *BTManager) Enable() error {
	// Track connects and disconnects reported by the adapter.
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addressStr := device.Address.String()

		m.mu.Lock()
		d, _ := m.getBTDeviceImpl(device.Address)
		m.mu.Unlock()

		if connected {
			m.logger.Printf("Device connected: %s", addressStr)
			d.setConnectedDevice(&device)
			d.setState(Connected)
		} else {
			m.logger.Printf("Device disconnected: %s", addressStr)
			d.setConnectedDevice(nil)
			d.setState(Disconnected)
		}

		m.emitConnectedDevicesChange()
	})

	return m.adapter.Enable()
}

func (m *BTManager) StartScan(serviceUuidFilter []string) {
	m.logger.Println("Starting scan")
	m.mu.Lock()
	defer m.mu.Unlock()

	filterSet := make(map[string]struct{})
	for _, filter := range serviceUuidFilter {
		filterSet[filter] = struct{}{}
	}

	// Cancel any scan already running before starting a new context.
	if m.scanning && m.scanContextCancel != nil {
		m.logger.Printf("A scan is already running. Stopping the old scan first...")
		m.scanContextCancel()
	}

	m.scanning = true
	m.scanContext, m.scanContextCancel = context.WithCancel(m.ctx)

	// Drop devices not seen within the scan timeout.
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		m.cleanupStaleDevices(m.scanContext)
	})

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		defer m.logger.Printf("exiting scan handling loop")

		err := m.adapter.Scan(func(adapter *bluetooth.Adapter, device bluetooth.ScanResult) {
			select {
			case <-m.scanContext.Done():
				// ignore the result - still need to StopScan on the adapter
				return
			default:
			}

			if len(filterSet) > 0 {
				found := false
				for _, uuid := range device.ServiceUUIDs() {
					if _, ok := filterSet[uuid.String()]; ok {
						found = true
						break
					}
				}
				if !found {
					return
				}
			}

			m.mu.Lock()
			d, newObj := m.getBTDeviceImpl(device.Address)
			m.mu.Unlock()

			d.setScanResult(&device)
			d.SetScanLastSeen(time.Now())
			if newObj {
				d.setServiceUUIDs(device.ServiceUUIDs())
				name := device.LocalName()
				if name == "" {
					name = "Unknown"
				}
				m.logger.Printf("Found device: %s (%s) [RSSI: %d]", name, device.Address.String(), device.RSSI)
			}
		})
		if err != nil {
			m.logger.Printf("Scan error: %v", err)
		}
	})

	// Emit current scan results every second.
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		defer m.logger.Printf("exiting scan emit event ticker loop")

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-m.scanContext.Done():
				return
			case <-ticker.C:
				m.scanDeviceListEvent.Notify(m.GetScanDevices())
			}
		}
	})
}

func (m *BTManager) cleanupStaleDevices(ctx context.Context) {
	defer m.wg.Done()
	defer m.logger.Printf("exiting cleanup stale devices loop")
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			var removed []string
			for mac, btDevice := range m.devicesByAddress {
				if btDevice.IsConnected() {
					continue
				}
				if now.Sub(btDevice.GetScanLastSeen()) > m.scanTimeout {
					delete(m.devicesByAddress, mac)
					removed = append(removed, mac)
				}
			}
			m.mu.Unlock()

			for _, mac := range removed {
				m.logger.Printf("Device timeout: %s (not seen for %v)", mac, m.scanTimeout)
			}
		}
	}
}

func (m *BTManager) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanning = false
	if m.scanContextCancel != nil {
		m.scanContextCancel()
		m.scanContextCancel = nil
	}
	return m.adapter.StopScan()
}

// IsScanning returns whether the BTManager is currently scanning
func (m *BTManager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

// Connect initiates a connection to a device found by a previous scan.
// Success or failure is reported asynchronously via the adapter's connect
// handler; callers use device.WaitForConnection to bound the wait.
func (m *BTManager) Connect(device BTDevice) error {
	addressStr := device.GetAddressString()
	m.logger.Printf("BTManager: Attempting to connect to device: %s", addressStr)

	m.mu.RLock()
	impl, ok := m.devicesByAddress[addressStr]
	m.mu.RUnlock()
	if !ok || impl == nil {
		return fmt.Errorf("unknown device: %s", addressStr)
	}

	_, err := m.adapter.Connect(impl.getAddress(), bluetooth.ConnectionParams{})
	if err != nil {
		m.logger.Printf("BTManager: Connection error: %v", err)
		return err
	}

	impl.setState(Connecting)
	m.logger.Printf("BTManager: Connection initiated to device: %s", addressStr)
	return nil
}

func (m *BTManager) Disconnect(device BTDevice) error {
	addressStr := device.GetAddressString()
	m.logger.Printf("BTManager: Attempting to disconnect from device: %s", addressStr)

	m.mu.RLock()
	impl, ok := m.devicesByAddress[addressStr]
	m.mu.RUnlock()
	if !ok || impl == nil {
		return fmt.Errorf("unknown device: %s", addressStr)
	}
	if impl.GetState() == Disconnected {
		m.logger.Printf("BTDevice already in disconnected state")
		return nil
	}
	innerDevice := impl.getConnectedDevice()
	if innerDevice == nil {
		m.logger.Printf("Tried to disconnect but device was nil")
		return nil
	}
	return innerDevice.Disconnect()
}

// GetConnectedDevices returns all currently connected devices
func (m *BTManager) GetConnectedDevices() []BTDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]BTDevice, 0)
	for _, btDevice := range m.devicesByAddress {
		if btDevice.IsConnected() {
			result = append(result, btDevice)
		}
	}
	return result
}

func (m *BTManager) GetScanDevices() []BTDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]BTDevice, 0)
	for _, btDevice := range m.devicesByAddress {
		if btDevice.IsRecentlyScanned() {
			result = append(result, btDevice)
		}
	}
	return result
}

// ListenToDeviceList registers a channel to receive scan device list changes.
// Returns a deregistration function.
func (m *BTManager) ListenToDeviceList(ch chan<- []BTDevice) func() {
	return m.scanDeviceListEvent.Listen(ch)
}

// ListenToConnectedDevices registers a channel to receive connected device
// list changes. Returns a deregistration function.
func (m *BTManager) ListenToConnectedDevices(ch chan<- []BTDevice) func() {
	return m.connectedDevicesEvent.Listen(ch)
}

func (m *BTManager) emitConnectedDevicesChange() {
	m.connectedDevicesEvent.Notify(m.GetConnectedDevices())
}

// Shutdown disconnects everything, stops scanning and waits for goroutines.
func (m *BTManager) Shutdown() {
	m.logger.Println("BTManager: Shutting down")
	for _, dev := range m.GetConnectedDevices() {
		if err := m.Disconnect(dev); err != nil {
			m.logger.Printf("Error disconnecting from %v: %v", dev.GetAddressString(), err)
		}
	}
	if err := m.StopScan(); err != nil {
		m.logger.Printf("BTManager: Error stopping scan: %v", err)
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Println("BTManager: Shutdown complete")
}
