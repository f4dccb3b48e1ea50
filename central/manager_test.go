package central

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/user/blebus/adv"
	"github.com/user/blebus/bleuuid"
	"github.com/user/blebus/bus"
	"github.com/user/blebus/config"
	"github.com/user/blebus/gatt"
	"github.com/user/blebus/peripheral"
	"github.com/user/blebus/remote"
)

type recordingDelegate struct {
	discovered chan *remote.Peripheral
	connected  chan *remote.Peripheral
	failed     chan error
	stateUp    chan bus.ManagerState
}

func (d *recordingDelegate) DidDiscoverPeripheral(p *remote.Peripheral, rssi int) {
	d.discovered <- p
}
func (d *recordingDelegate) DidConnectPeripheral(p *remote.Peripheral) { d.connected <- p }
func (d *recordingDelegate) DidFailToConnectPeripheral(p *remote.Peripheral, err error) {
	d.failed <- err
}
func (d *recordingDelegate) DidDisconnectPeripheral(p *remote.Peripheral, err error) {}
func (d *recordingDelegate) StateDidUpdate(state bus.ManagerState) {
	if d.stateUp != nil {
		select {
		case d.stateUp <- state:
		default:
		}
	}
}
func (d *recordingDelegate) WillRestoreState(state bus.RestoredCentralState)       {}
func (d *recordingDelegate) IsReadyToSendWriteWithoutResponse(p *remote.Peripheral) {}

func waitPoweredOn(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != bus.ManagerStatePoweredOn {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for manager to reach poweredOn")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManagerScanAndConnect(t *testing.T) {
	b := bus.New(config.Instant(), nil, nil)
	defer b.Close()

	svc := gatt.NewService(bleuuid.From16(0x180D), true)
	svc.AddCharacteristic(bleuuid.From16(0x2A37), gatt.PropNotify, []byte{0x00})

	pm, err := peripheral.New(b, uuid.NewString(), "", []*gatt.Service{svc}, stubPeripheralDelegate{})
	if err != nil {
		t.Fatalf("peripheral.New: %v", err)
	}
	record := adv.Record{
		adv.KeyServiceUUIDs:  adv.List(adv.UUIDValue(bleuuid.From16(0x180D))),
		adv.KeyIsConnectable: adv.Bool(true),
	}
	if err := pm.StartAdvertising(record, true); err != nil {
		t.Fatalf("StartAdvertising: %v", err)
	}

	delegate := &recordingDelegate{
		discovered: make(chan *remote.Peripheral, 4),
		connected:  make(chan *remote.Peripheral, 1),
		failed:     make(chan error, 1),
	}
	cm, err := New(b, uuid.NewString(), "", delegate)
	if err != nil {
		t.Fatalf("central.New: %v", err)
	}
	defer cm.Close()
	waitPoweredOn(t, cm)

	if err := cm.ScanForPeripherals([]bleuuid.UUID{bleuuid.From16(0x180D)}, bus.ScanOptions{AllowDuplicates: true}); err != nil {
		t.Fatalf("ScanForPeripherals: %v", err)
	}

	var discoveredID string
	select {
	case p := <-delegate.discovered:
		discoveredID = p.ID
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for discovery")
	}

	cm.Connect(discoveredID)

	select {
	case p := <-delegate.connected:
		if p.ID != discoveredID {
			t.Errorf("connected to %s, want %s", p.ID, discoveredID)
		}
	case err := <-delegate.failed:
		t.Fatalf("connect failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
	}
}

// TestScanForPeripheralsRequiresPoweredOn checks that a manager refuses
// to scan before its simulated power-on delay elapses, matching
// CBCentralManager's real requirement that scanForPeripherals only
// succeeds once centralManagerDidUpdateState reports poweredOn.
func TestScanForPeripheralsRequiresPoweredOn(t *testing.T) {
	cfg := config.Instant()
	cfg.StateUpdateDelay = 200 * time.Millisecond
	b := bus.New(cfg, nil, nil)
	defer b.Close()

	delegate := &recordingDelegate{stateUp: make(chan bus.ManagerState, 1)}
	cm, err := New(b, uuid.NewString(), "", delegate)
	if err != nil {
		t.Fatalf("central.New: %v", err)
	}
	defer cm.Close()

	if cm.State() == bus.ManagerStatePoweredOn {
		t.Fatal("expected manager to still be unknown immediately after New")
	}
	if err := cm.ScanForPeripherals(nil, bus.ScanOptions{}); err == nil {
		t.Error("expected ScanForPeripherals to fail before poweredOn")
	}

	select {
	case state := <-delegate.stateUp:
		if state != bus.ManagerStatePoweredOn {
			t.Errorf("StateDidUpdate state = %v, want poweredOn", state)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for StateDidUpdate")
	}
	if err := cm.ScanForPeripherals(nil, bus.ScanOptions{}); err != nil {
		t.Errorf("ScanForPeripherals after poweredOn: %v", err)
	}
}

// TestSaveAndRestoreCentralState checks that a manager constructed
// with a restoreID that has a previously saved blob fires
// WillRestoreState with the previously connected peripherals.
func TestSaveAndRestoreCentralState(t *testing.T) {
	cfg := config.Instant()
	cfg.RestorationEnabled = true
	b := bus.New(cfg, nil, nil)
	defer b.Close()

	pm, err := peripheral.New(b, uuid.NewString(), "", []*gatt.Service{gatt.NewService(bleuuid.From16(0x180D), true)}, stubPeripheralDelegate{})
	if err != nil {
		t.Fatalf("peripheral.New: %v", err)
	}
	pm.StartAdvertising(adv.Record{}, true)

	first, err := New(b, uuid.NewString(), "", &recordingDelegate{})
	if err != nil {
		t.Fatalf("central.New: %v", err)
	}
	waitPoweredOn(t, first)
	first.Connect(pm.ID)
	time.Sleep(20 * time.Millisecond)

	restoreID := "restore-central"
	if err := first.SaveState(restoreID); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	first.Close()

	restored := make(chan bus.RestoredCentralState, 1)
	second, err := New(b, uuid.NewString(), restoreID, &restoringDelegate{recordingDelegate: &recordingDelegate{}, willRestore: restored})
	if err != nil {
		t.Fatalf("central.New with restoreID: %v", err)
	}
	defer second.Close()

	select {
	case state := <-restored:
		if len(state.PeripheralIDs) != 1 || state.PeripheralIDs[0] != pm.ID {
			t.Errorf("restored peripherals = %v, want [%s]", state.PeripheralIDs, pm.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WillRestoreState")
	}
}

type restoringDelegate struct {
	*recordingDelegate
	willRestore chan bus.RestoredCentralState
}

func (d *restoringDelegate) WillRestoreState(state bus.RestoredCentralState) {
	d.willRestore <- state
}

type stubPeripheralDelegate struct{}

func (stubPeripheralDelegate) DidStartAdvertising(err error)                                  {}
func (stubPeripheralDelegate) CentralDidSubscribe(c *remote.Central, characteristicID string) {}
func (stubPeripheralDelegate) CentralDidUnsubscribe(c *remote.Central, characteristicID string) {
}
func (stubPeripheralDelegate) ReadyToUpdateSubscribers()                          {}
func (stubPeripheralDelegate) StateDidUpdate(state bus.ManagerState)              {}
func (stubPeripheralDelegate) WillRestoreState(state bus.RestoredPeripheralState) {}
func (stubPeripheralDelegate) DidReceiveRead(c *remote.Central, characteristicID string) {
}
func (stubPeripheralDelegate) DidReceiveWrite(c *remote.Central, characteristicID string, value []byte) {
}
func (stubPeripheralDelegate) DidUpdateANCSAuthorizationFor(c *remote.Central, authorized bool) {}
func (stubPeripheralDelegate) DidOpenL2CAPChannel(c *remote.Central, psm uint16, conn net.Conn)  {}
