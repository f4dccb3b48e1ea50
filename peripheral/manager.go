// Package peripheral implements the peripheral-role façade
// applications use to advertise GATT services and respond to central
// requests, generalizing teacher swift.CBPeripheralManager from a
// dedicated *wire.Wire per manager to a shared *bus.Bus plus this
// manager's own ID.
package peripheral

import (
	"net"
	"sync"
	"time"

	"github.com/user/blebus/adv"
	"github.com/user/blebus/bus"
	"github.com/user/blebus/dispatch"
	"github.com/user/blebus/gatt"
	"github.com/user/blebus/remote"
)

// maxLocalPendingUpdates is the façade's own per-characteristic cap
// on outstanding UpdateValue calls, independent of the Bus's simulated
// MaxNotificationQueue and checked before the Bus is called (§4.4).
const maxLocalPendingUpdates = 10

// Delegate receives peripheral-manager lifecycle events, matching
// CBPeripheralManagerDelegate's exported surface.
type Delegate interface {
	DidStartAdvertising(err error)
	CentralDidSubscribe(central *remote.Central, characteristicID string)
	CentralDidUnsubscribe(central *remote.Central, characteristicID string)
	ReadyToUpdateSubscribers()

	// StateDidUpdate fires once the manager finishes its simulated
	// power-on, matching
	// CBPeripheralManagerDelegate.peripheralManagerDidUpdateState(_:).
	StateDidUpdate(state bus.ManagerState)

	// WillRestoreState fires before the power-on transition when the
	// manager was constructed with a restoreID that had a previously
	// saved blob, matching
	// CBPeripheralManagerDelegate.peripheralManager(_:willRestoreState:).
	WillRestoreState(state bus.RestoredPeripheralState)

	// DidReceiveRead and DidReceiveWrite fire for every attribute
	// request a connected central makes against this peripheral's GATT
	// database, matching
	// CBPeripheralManagerDelegate.peripheralManager(_:didReceiveRead:)
	// and didReceiveWrite: (§4.2.5, §6.2).
	DidReceiveRead(central *remote.Central, characteristicID string)
	DidReceiveWrite(central *remote.Central, characteristicID string, value []byte)

	// DidUpdateANCSAuthorizationFor fires when a connected central's
	// ANCS authorization changes, matching
	// CBPeripheralManagerDelegate.peripheralManager(_:didUpdateANCSAuthorizationFor:)
	// (§4.2.10).
	DidUpdateANCSAuthorizationFor(central *remote.Central, authorized bool)

	// DidOpenL2CAPChannel fires when a central opens a channel on one
	// of this peripheral's published PSMs, matching
	// CBPeripheralManagerDelegate.peripheralManager(_:didOpen:error:).
	DidOpenL2CAPChannel(central *remote.Central, psm uint16, conn net.Conn)
}

// Manager is a peripheral-role identity registered against a Bus. It
// owns the set of GATT services advertised under its ID.
type Manager struct {
	ID        string
	Delegate  Delegate
	restoreID string

	bus   *bus.Bus
	queue *dispatch.Queue

	mu       sync.Mutex
	services []*gatt.Service
	centrals map[string]*remote.Central
	state    bus.ManagerState

	pendingMu sync.Mutex
	pending   map[string]int // characteristicID -> outstanding local update count
}

// New registers a new peripheral identity against b with the given
// services and returns a Manager for it, matching
// CBPeripheralManager.add(_:) performed up front rather than
// incrementally, since the Bus builds one immutable attribute
// database per RegisterPeripheral call. A non-empty restoreID opts
// the manager into state restoration (§4.2.11): if a blob was
// previously saved under it, Delegate.WillRestoreState fires before
// the manager reaches poweredOn.
func New(b *bus.Bus, id, restoreID string, services []*gatt.Service, delegate Delegate) (*Manager, error) {
	if err := b.RegisterPeripheral(id, services); err != nil {
		return nil, err
	}
	m := &Manager{
		ID:        id,
		Delegate:  delegate,
		restoreID: restoreID,
		bus:       b,
		queue:     dispatch.NewQueue(64),
		services:  services,
		centrals:  make(map[string]*remote.Central),
		pending:   make(map[string]int),
	}
	if err := b.SetReadyToUpdateSubscribersCallback(id, m.handleReadyToUpdateSubscribers); err != nil {
		return nil, err
	}
	if err := b.SetSubscriptionCallback(id, m.NotifySubscriptionChange); err != nil {
		return nil, err
	}
	if err := b.SetAttributeCallbacks(id, m.handleRead, m.handleWrite); err != nil {
		return nil, err
	}
	if err := b.SetANCSAuthorizationCallback(id, m.handleANCSAuthorization); err != nil {
		return nil, err
	}
	if err := b.SetL2CAPOpenCallback(id, m.handleL2CAPOpen); err != nil {
		return nil, err
	}

	if restoreID != "" {
		restored, found, err := b.RestorePeripheralState(restoreID)
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

// StartAdvertising makes this peripheral visible to scanning
// centrals, matching
// CBPeripheralManager.startAdvertising(_:). connectable governs
// whether centrals may connect, as opposed to only observing
// advertisements (beacon-style use).
func (m *Manager) StartAdvertising(record adv.Record, connectable bool) error {
	err := m.bus.StartAdvertising(m.ID, record, connectable)
	m.queue.Submit(func() {
		if m.Delegate != nil {
			m.Delegate.DidStartAdvertising(err)
		}
	})
	return err
}

// StopAdvertising cancels advertising, matching
// CBPeripheralManager.stopAdvertising().
func (m *Manager) StopAdvertising() error {
	return m.bus.StopAdvertising(m.ID)
}

// UpdateValue pushes an updated characteristic value to every
// subscribed central, matching
// CBPeripheralManager.updateValue(_:for:onSubscribedCentrals:). A nil
// onSubscribedCentrals list (here: always, since the Bus already
// scopes subscription per characteristic) notifies every subscriber.
// It returns false without touching the Bus at all once this
// characteristic's local outstanding-update count reaches
// maxLocalPendingUpdates, and false if the Bus's own simulated
// back-pressure rejects it; both cases mean the caller should wait
// for ReadyToUpdateSubscribers before retrying (§4.4).
func (m *Manager) UpdateValue(characteristicID string, value []byte) (bool, error) {
	m.pendingMu.Lock()
	if m.pending[characteristicID] >= maxLocalPendingUpdates {
		m.pendingMu.Unlock()
		return false, nil
	}
	m.pending[characteristicID]++
	m.pendingMu.Unlock()

	admitted, err := m.bus.Notify(m.ID, characteristicID, value, nil)
	if err != nil || !admitted {
		m.pendingMu.Lock()
		m.pending[characteristicID]--
		m.pendingMu.Unlock()
	}
	return admitted, err
}

func (m *Manager) handleReadyToUpdateSubscribers() {
	m.pendingMu.Lock()
	for charID, count := range m.pending {
		if count > 0 {
			m.pending[charID] = count - 1
		}
	}
	m.pendingMu.Unlock()
	m.queue.Submit(func() {
		if m.Delegate != nil {
			m.Delegate.ReadyToUpdateSubscribers()
		}
	})
}

func (m *Manager) centralFor(centralID string) *remote.Central {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.centrals[centralID]; ok {
		return c
	}
	c := remote.NewCentral(m.bus, m.ID, centralID)
	m.centrals[centralID] = c
	return c
}

// NotifySubscriptionChange dispatches the CentralDidSubscribe or
// CentralDidUnsubscribe delegate callback for a CCCD transition. New
// wires this up automatically via bus.SetSubscriptionCallback; it
// stays exported for tests and for callers replaying a
// transport-delivered subscription event directly.
func (m *Manager) NotifySubscriptionChange(centralID, characteristicID string, subscribed bool) {
	central := m.centralFor(centralID)
	m.queue.Submit(func() {
		if m.Delegate == nil {
			return
		}
		if subscribed {
			m.Delegate.CentralDidSubscribe(central, characteristicID)
		} else {
			m.Delegate.CentralDidUnsubscribe(central, characteristicID)
		}
	})
}

func (m *Manager) handleRead(centralID, characteristicID string) {
	central := m.centralFor(centralID)
	m.queue.Submit(func() {
		if m.Delegate != nil {
			m.Delegate.DidReceiveRead(central, characteristicID)
		}
	})
}

func (m *Manager) handleWrite(centralID, characteristicID string, value []byte) {
	central := m.centralFor(centralID)
	m.queue.Submit(func() {
		if m.Delegate != nil {
			m.Delegate.DidReceiveWrite(central, characteristicID, value)
		}
	})
}

func (m *Manager) handleANCSAuthorization(centralID string, authorized bool) {
	central := m.centralFor(centralID)
	m.queue.Submit(func() {
		if m.Delegate != nil {
			m.Delegate.DidUpdateANCSAuthorizationFor(central, authorized)
		}
	})
}

// PublishL2CAPChannel allocates a new PSM this peripheral accepts
// L2CAP channel connections on, matching
// CBPeripheralManager.publishL2CAPChannel(withEncryption:).
func (m *Manager) PublishL2CAPChannel(encryptionRequired bool) (uint16, error) {
	return m.bus.PublishL2CAPChannel(m.ID, encryptionRequired)
}

// UnpublishL2CAPChannel stops accepting new connections on psm,
// matching CBPeripheralManager.unpublishL2CAPChannel(_:).
func (m *Manager) UnpublishL2CAPChannel(psm uint16) error {
	return m.bus.UnpublishL2CAPChannel(m.ID, psm)
}

func (m *Manager) handleL2CAPOpen(centralID string, psm uint16, conn net.Conn) {
	central := m.centralFor(centralID)
	m.queue.Submit(func() {
		if m.Delegate != nil {
			m.Delegate.DidOpenL2CAPChannel(central, psm, conn)
		}
	})
}

// SaveState persists this peripheral's current services and
// advertisement data under restoreID, for a later process to pick
// back up via New's restoreID parameter.
func (m *Manager) SaveState(restoreID string) error {
	return m.bus.SavePeripheralState(m.ID, restoreID)
}

// Close stops this manager's dispatch queue and unregisters it from
// the Bus.
func (m *Manager) Close() error {
	m.queue.Stop()
	return m.bus.Unregister(m.ID)
}
