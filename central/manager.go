// Package central implements the central-role façade applications
// use to scan for and connect to peripherals, generalizing teacher
// swift.CBCentralManager from a dedicated *wire.Wire per manager to a
// shared *bus.Bus plus this manager's own ID.
package central

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/user/blebus/adv"
	"github.com/user/blebus/atterr"
	"github.com/user/blebus/bleuuid"
	"github.com/user/blebus/bus"
	"github.com/user/blebus/dispatch"
	"github.com/user/blebus/logger"
	"github.com/user/blebus/remote"
)

// Delegate receives central-manager lifecycle events, matching
// CBCentralManagerDelegate's exported surface.
type Delegate interface {
	DidDiscoverPeripheral(p *remote.Peripheral, rssi int)
	DidConnectPeripheral(p *remote.Peripheral)
	DidFailToConnectPeripheral(p *remote.Peripheral, err error)
	DidDisconnectPeripheral(p *remote.Peripheral, err error)

	// StateDidUpdate fires once the manager finishes its simulated
	// power-on (and again on any later transition, though this
	// emulator only ever makes the one), matching
	// CBCentralManagerDelegate.centralManagerDidUpdateState(_:).
	StateDidUpdate(state bus.ManagerState)

	// WillRestoreState fires before the power-on transition when the
	// manager was constructed with a restoreID that had a previously
	// saved blob, matching
	// CBCentralManagerDelegate.centralManager(_:willRestoreState:).
	WillRestoreState(state bus.RestoredCentralState)

	// IsReadyToSendWriteWithoutResponse fires when p's
	// write-without-response queue drains from the cap down to cap-1,
	// matching
	// CBPeripheralDelegate.peripheralIsReady(toSendWriteWithoutResponse:).
	// The real platform delivers this per-CBPeripheral delegate; this
	// emulator's Bus keeps one queue per (central,peripheral) pair but
	// registers a single ready callback per central, so it always names
	// the peripheral whose queue just drained.
	IsReadyToSendWriteWithoutResponse(p *remote.Peripheral)
}

// Manager is a central-role identity registered against a Bus.
type Manager struct {
	ID        string
	Delegate  Delegate
	restoreID string

	bus   *bus.Bus
	queue *dispatch.Queue

	mu          sync.Mutex
	scope       map[string]*remote.Peripheral
	state       bus.ManagerState
	isScanning  bool

	autoReconnect bool
	pending       map[string]struct{} // peripheralIDs to keep retrying, like teacher's pendingPeripherals
}

// New registers a new central identity against b and returns a
// Manager for it. id is normally minted by the caller via
// uuid.NewString. A non-empty restoreID opts the manager into state
// restoration (§4.2.11): if a blob was previously saved under it,
// Delegate.WillRestoreState fires before the manager reaches
// poweredOn.
func New(b *bus.Bus, id, restoreID string, delegate Delegate) (*Manager, error) {
	if err := b.RegisterCentral(id); err != nil {
		return nil, err
	}
	m := &Manager{
		ID:            id,
		Delegate:      delegate,
		restoreID:     restoreID,
		bus:           b,
		queue:         dispatch.NewQueue(64),
		scope:         make(map[string]*remote.Peripheral),
		autoReconnect: true,
		pending:       make(map[string]struct{}),
	}
	if err := b.SetConnectionCallbacks(id,
		func(peripheralID string) { m.handleConnect(peripheralID) },
		func(peripheralID string, err error) { m.handleFail(peripheralID, err) },
		func(peripheralID string, err error) { m.handleDisconnect(peripheralID, err) },
	); err != nil {
		return nil, err
	}
	if err := b.SetWriteWithoutResponseReadyCallback(id, m.handleWriteWithoutResponseReady); err != nil {
		return nil, err
	}

	if restoreID != "" {
		restored, found, err := b.RestoreCentralState(restoreID)
		if err != nil {
			return nil, err
		}
		if found && delegate != nil {
			m.queue.Submit(func() { delegate.WillRestoreState(restored) })
		}
	}

	go m.powerOn()
	return m, nil
}

func (m *Manager) powerOn() {
	if delay := m.bus.GetConfiguration().StateUpdateDelay; delay > 0 {
		time.Sleep(delay)
	}
	m.mu.Lock()
	m.state = bus.ManagerStatePoweredOn
	m.mu.Unlock()
	m.queue.Submit(func() {
		if m.Delegate != nil {
			m.Delegate.StateDidUpdate(bus.ManagerStatePoweredOn)
		}
	})
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() bus.ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsScanning reports whether ScanForPeripherals is currently active.
func (m *Manager) IsScanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isScanning
}

// ScanForPeripherals begins scanning, optionally filtered to
// peripherals advertising at least one of withServices and subject to
// opts' duplicate-delivery and solicited-UUID behavior, matching
// CBCentralManager.scanForPeripherals(withServices:options:). It
// requires the manager to have reached poweredOn.
func (m *Manager) ScanForPeripherals(withServices []bleuuid.UUID, opts bus.ScanOptions) error {
	if m.State() != bus.ManagerStatePoweredOn {
		return errors.WithStack(atterr.ErrNotPoweredOn)
	}
	if err := m.bus.StartScan(m.ID, withServices, opts, func(peripheralID string, record adv.Record, rssi int) {
		m.queue.Submit(func() {
			m.mu.Lock()
			p := remote.NewPeripheral(m.bus, m.ID, peripheralID, record)
			m.scope[peripheralID] = p
			m.mu.Unlock()
			if m.Delegate != nil {
				m.Delegate.DidDiscoverPeripheral(p, rssi)
			}
		})
	}); err != nil {
		return err
	}
	m.mu.Lock()
	m.isScanning = true
	m.mu.Unlock()
	return nil
}

// StopScan cancels the active scan.
func (m *Manager) StopScan() error {
	m.mu.Lock()
	m.isScanning = false
	m.mu.Unlock()
	return m.bus.StopScan(m.ID)
}

// Connect initiates a connection to a discovered peripheral, matching
// CBCentralManager.connect(_:options:). The attempt runs in the
// background and reports through Delegate; a failed or dropped
// connection is retried in the background until
// CancelPeripheralConnection, matching the teacher's attemptReconnect
// behavior.
func (m *Manager) Connect(peripheralID string) {
	m.mu.Lock()
	m.pending[peripheralID] = struct{}{}
	m.mu.Unlock()
	go m.attemptConnect(peripheralID)
}

func (m *Manager) attemptConnect(peripheralID string) {
	err := m.bus.Connect(m.ID, peripheralID)
	if err == nil {
		return // success is reported via SetConnectionCallbacks
	}
	if m.isPending(peripheralID) && m.autoReconnect {
		logger.Debug("central:"+m.ID, "connect to %s failed, retrying: %v", peripheralID, err)
		go m.retryConnect(peripheralID)
	}
}

func (m *Manager) retryConnect(peripheralID string) {
	time.Sleep(2 * time.Second)
	if !m.isPending(peripheralID) {
		return
	}
	m.attemptConnect(peripheralID)
}

func (m *Manager) isPending(peripheralID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[peripheralID]
	return ok
}

// CancelPeripheralConnection disconnects from a peripheral and stops
// any pending auto-reconnect attempts for it, matching
// CBCentralManager.cancelPeripheralConnection(_:).
func (m *Manager) CancelPeripheralConnection(peripheralID string) error {
	m.mu.Lock()
	delete(m.pending, peripheralID)
	m.mu.Unlock()
	return m.bus.Disconnect(m.ID, peripheralID)
}

// RetrievePeripherals returns a Peripheral view for each of
// peripheralIDs that is currently registered on the Bus, matching
// CBCentralManager.retrievePeripherals(withIdentifiers:).
func (m *Manager) RetrievePeripherals(peripheralIDs []string) []*remote.Peripheral {
	known := make(map[string]bool)
	for _, id := range m.bus.GetAllPeripherals() {
		known[id] = true
	}
	out := make([]*remote.Peripheral, 0, len(peripheralIDs))
	for _, id := range peripheralIDs {
		if known[id] {
			out = append(out, m.peripheralFor(id))
		}
	}
	return out
}

// RetrieveConnectedPeripherals returns a Peripheral view for every
// peripheral this manager currently holds a connection to, matching
// CBCentralManager.retrieveConnectedPeripherals(withServices:).
func (m *Manager) RetrieveConnectedPeripherals() ([]*remote.Peripheral, error) {
	ids, err := m.bus.ConnectedPeripherals(m.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*remote.Peripheral, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.peripheralFor(id))
	}
	return out, nil
}

// RegisterForConnectionEvents opts this manager in or out of the
// one-shot connection events connecting/disconnecting any peripheral
// fires, matching CBCentralManager.registerForConnectionEvents(options:).
func (m *Manager) RegisterForConnectionEvents(enabled bool, opts bus.ConnectionEventOptions, onEvent func(peripheralID string, connected bool)) error {
	return m.bus.RegisterForConnectionEvents(m.ID, enabled, opts, onEvent)
}

// SaveState persists this manager's connected peripherals and active
// scan filter under restoreID, for a later process to pick back up
// via New's restoreID parameter.
func (m *Manager) SaveState(restoreID string) error {
	return m.bus.SaveCentralState(m.ID, restoreID)
}

// ShouldInitiateConnection is a convenience wrapper around
// bus.ShouldInitiateConnection scoped to this manager's own ID.
func (m *Manager) ShouldInitiateConnection(remoteID string) bool {
	return bus.ShouldInitiateConnection(m.ID, remoteID)
}

// Close stops this manager's dispatch queue and unregisters it from
// the Bus.
func (m *Manager) Close() error {
	m.queue.Stop()
	return m.bus.Unregister(m.ID)
}

func (m *Manager) handleConnect(peripheralID string) {
	m.queue.Submit(func() {
		if m.Delegate == nil {
			return
		}
		m.Delegate.DidConnectPeripheral(m.peripheralFor(peripheralID))
	})
}

func (m *Manager) handleFail(peripheralID string, err error) {
	m.queue.Submit(func() {
		if m.Delegate == nil {
			return
		}
		m.Delegate.DidFailToConnectPeripheral(m.peripheralFor(peripheralID), err)
	})
}

func (m *Manager) handleDisconnect(peripheralID string, err error) {
	m.queue.Submit(func() {
		if m.Delegate != nil {
			m.Delegate.DidDisconnectPeripheral(m.peripheralFor(peripheralID), err)
		}
	})
	if m.isPending(peripheralID) && m.autoReconnect {
		go m.retryConnect(peripheralID)
	}
}

func (m *Manager) handleWriteWithoutResponseReady(peripheralID string) {
	m.queue.Submit(func() {
		if m.Delegate != nil {
			m.Delegate.IsReadyToSendWriteWithoutResponse(m.peripheralFor(peripheralID))
		}
	})
}

func (m *Manager) peripheralFor(peripheralID string) *remote.Peripheral {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.scope[peripheralID]; ok {
		return p
	}
	p := remote.NewPeripheral(m.bus, m.ID, peripheralID, adv.Record{})
	m.scope[peripheralID] = p
	return p
}
