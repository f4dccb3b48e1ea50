package bus

import (
	"testing"
	"time"

	"github.com/user/blebus/adv"
	"github.com/user/blebus/bleuuid"
	"github.com/user/blebus/config"
	"github.com/user/blebus/gatt"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := New(config.Instant(), nil, nil)
	t.Cleanup(func() { b.Close() })
	return b
}

func heartRateService() *gatt.Service {
	s := gatt.NewService(bleuuid.From16(0x180D), true)
	s.AddCharacteristic(bleuuid.From16(0x2A37), gatt.PropNotify, []byte{0x00})
	s.AddCharacteristic(bleuuid.From16(0x2A38), gatt.PropRead|gatt.PropWrite|gatt.PropWriteWithoutResponse, []byte{0x01})
	return s
}

func TestRegisterAndUnregister(t *testing.T) {
	b := newTestBus(t)
	if err := b.RegisterCentral("central-1"); err != nil {
		t.Fatalf("RegisterCentral: %v", err)
	}
	if err := b.RegisterPeripheral("peripheral-1", []*gatt.Service{heartRateService()}); err != nil {
		t.Fatalf("RegisterPeripheral: %v", err)
	}
	if err := b.Unregister("central-1"); err != nil {
		t.Fatalf("Unregister central: %v", err)
	}
	if err := b.Unregister("peripheral-1"); err != nil {
		t.Fatalf("Unregister peripheral: %v", err)
	}
}

func TestScanDiscoversAdvertisingPeripheral(t *testing.T) {
	b := newTestBus(t)
	if err := b.RegisterCentral("central-1"); err != nil {
		t.Fatalf("RegisterCentral: %v", err)
	}
	if err := b.RegisterPeripheral("peripheral-1", []*gatt.Service{heartRateService()}); err != nil {
		t.Fatalf("RegisterPeripheral: %v", err)
	}

	record := adv.Record{
		adv.KeyLocalName:     adv.String("Heart Monitor"),
		adv.KeyServiceUUIDs:  adv.List(adv.UUIDValue(bleuuid.From16(0x180D))),
		adv.KeyIsConnectable: adv.Bool(true),
	}
	if err := b.StartAdvertising("peripheral-1", record, true); err != nil {
		t.Fatalf("StartAdvertising: %v", err)
	}

	discovered := make(chan string, 4)
	if err := b.StartScan("central-1", nil, ScanOptions{AllowDuplicates: true}, func(peripheralID string, record adv.Record, rssi int) {
		discovered <- peripheralID
	}); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	defer b.StopScan("central-1")

	select {
	case pid := <-discovered:
		if pid != "peripheral-1" {
			t.Errorf("discovered %q, want peripheral-1", pid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for discovery")
	}
}

func TestScanWithoutAllowDuplicatesDeliversOnce(t *testing.T) {
	b := newTestBus(t)
	b.RegisterCentral("central-1")
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{heartRateService()})
	b.StartAdvertising("peripheral-1", adv.Record{}, true)

	discovered := make(chan string, 16)
	if err := b.StartScan("central-1", nil, ScanOptions{AllowDuplicates: false}, func(peripheralID string, record adv.Record, rssi int) {
		discovered <- peripheralID
	}); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	defer b.StopScan("central-1")

	<-discovered // first delivery
	time.Sleep(20 * time.Millisecond)
	select {
	case pid := <-discovered:
		t.Fatalf("got unexpected second delivery for %q with AllowDuplicates=false", pid)
	default:
	}
}

func TestAutoGenerateAdvertisementFieldsSynthesizesTxPowerAndConnectable(t *testing.T) {
	cfg := config.Instant()
	cfg.AutoGenerateAdvertisementFields = true
	b := New(cfg, nil, nil)
	t.Cleanup(func() { b.Close() })

	b.RegisterCentral("central-1")
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{heartRateService()})
	b.StartAdvertising("peripheral-1", adv.Record{}, true)

	discovered := make(chan adv.Record, 1)
	if err := b.StartScan("central-1", nil, ScanOptions{AllowDuplicates: true}, func(peripheralID string, record adv.Record, rssi int) {
		select {
		case discovered <- record:
		default:
		}
	}); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	defer b.StopScan("central-1")

	select {
	case record := <-discovered:
		if !record.IsConnectable() {
			t.Error("expected synthesized IsConnectable=true")
		}
		v, ok := record[adv.KeyTxPowerLevel]
		if !ok {
			t.Fatal("expected synthesized tx power level field")
		}
		n, ok := v.AsNumber()
		if !ok || n < -12 || n > -4 {
			t.Errorf("tx power level = %v, want in [-12,-4]", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for discovery")
	}
}

func TestConnectReadWriteNotify(t *testing.T) {
	b := newTestBus(t)
	if err := b.RegisterCentral("central-1"); err != nil {
		t.Fatalf("RegisterCentral: %v", err)
	}
	svc := heartRateService()
	if err := b.RegisterPeripheral("peripheral-1", []*gatt.Service{svc}); err != nil {
		t.Fatalf("RegisterPeripheral: %v", err)
	}
	if err := b.StartAdvertising("peripheral-1", adv.Record{}, true); err != nil {
		t.Fatalf("StartAdvertising: %v", err)
	}

	if err := b.Connect("central-1", "peripheral-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	connected, err := b.IsConnected("central-1", "peripheral-1")
	if err != nil || !connected {
		t.Fatalf("IsConnected = %v, %v; want true, nil", connected, err)
	}

	hrChar := svc.Characteristics[0]
	batteryChar := svc.Characteristics[1]

	if err := b.WriteCharacteristic("central-1", "peripheral-1", batteryChar.ID, []byte{0x2A}, true); err != nil {
		t.Fatalf("WriteCharacteristic: %v", err)
	}
	value, err := b.ReadCharacteristic("central-1", "peripheral-1", batteryChar.ID)
	if err != nil {
		t.Fatalf("ReadCharacteristic: %v", err)
	}
	if len(value) != 1 || value[0] != 0x2A {
		t.Errorf("read value = %v, want [0x2A]", value)
	}

	if err := b.SetNotifyValue("central-1", "peripheral-1", hrChar.ID, true); err != nil {
		t.Fatalf("SetNotifyValue: %v", err)
	}

	notified := make(chan []byte, 1)
	admitted, err := b.Notify("peripheral-1", hrChar.ID, []byte{0x5A}, func(centralID string, value []byte) {
		if centralID == "central-1" {
			notified <- value
		}
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !admitted {
		t.Fatal("expected Notify to be admitted")
	}

	select {
	case v := <-notified:
		if len(v) != 1 || v[0] != 0x5A {
			t.Errorf("notified value = %v, want [0x5A]", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	if err := b.Disconnect("central-1", "peripheral-1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	connected, _ = b.IsConnected("central-1", "peripheral-1")
	if connected {
		t.Error("expected disconnected after Disconnect")
	}
}

// TestDisconnectClearsSubscriptionsPairingAndBackpressure checks the
// cleanup symmetry Disconnect must perform: CCCD subscriptions,
// pairing bonds, and write-without-response counters all reset so a
// fresh Connect starts clean (§4.2.4, §4.2.7).
func TestDisconnectClearsSubscriptionsPairingAndBackpressure(t *testing.T) {
	cfg := config.Instant()
	cfg.RequirePairingForEncryptedAttributes = true
	cfg.SimulatePairing = false
	b := New(cfg, nil, nil)
	t.Cleanup(func() { b.Close() })

	svc := heartRateService()
	b.RegisterCentral("central-1")
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{svc})
	b.StartAdvertising("peripheral-1", adv.Record{}, true)

	if err := b.Connect("central-1", "peripheral-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	hrChar := svc.Characteristics[0]
	if err := b.SetNotifyValue("central-1", "peripheral-1", hrChar.ID, true); err != nil {
		t.Fatalf("SetNotifyValue: %v", err)
	}
	if err := b.Pair("central-1", "peripheral-1"); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	b.WriteCharacteristic("central-1", "peripheral-1", svc.Characteristics[1].ID, []byte{1}, false)

	unsubscribed := make(chan struct{}, 1)
	b.SetSubscriptionCallback("peripheral-1", func(centralID, charID string, subscribed bool) {
		if !subscribed {
			select {
			case unsubscribed <- struct{}{}:
			default:
			}
		}
	})

	if err := b.Disconnect("central-1", "peripheral-1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case <-unsubscribed:
	case <-time.After(time.Second):
		t.Fatal("expected Disconnect to fire an unsubscribe callback for the CCCD it cleared")
	}

	paired, err := b.IsPaired("central-1", "peripheral-1")
	if err != nil {
		t.Fatalf("IsPaired: %v", err)
	}
	if paired {
		t.Error("expected pairing cleared on disconnect")
	}

	if count := b.wwrCounters[wwrKey("central-1", "peripheral-1")]; count != 0 {
		t.Errorf("expected write-without-response counter cleared on disconnect, got %d", count)
	}
}

func TestWriteWithoutResponseRequiresProperty(t *testing.T) {
	b := newTestBus(t)
	b.RegisterCentral("central-1")
	svc := heartRateService()
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{svc})
	b.StartAdvertising("peripheral-1", adv.Record{}, true)
	if err := b.Connect("central-1", "peripheral-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	hrChar := svc.Characteristics[0] // notify-only, no write
	if err := b.WriteCharacteristic("central-1", "peripheral-1", hrChar.ID, []byte{0x01}, false); err == nil {
		t.Error("expected write-not-permitted error for a notify-only characteristic")
	}
}

// TestWriteWithoutResponseBackpressureCapsAndDrains exercises §4.2.8's
// cap->not-ready->drain->ready law: once MaxWriteWithoutResponseQueue
// outstanding writes accumulate for a (central,peripheral) pair,
// IsReadyToWriteWithoutResponse must report false, and the ready
// callback must fire exactly once the queue drains back under the cap.
func TestWriteWithoutResponseBackpressureCapsAndDrains(t *testing.T) {
	cfg := config.Instant()
	cfg.SimulateBackpressure = true
	cfg.MaxWriteWithoutResponseQueue = 2
	cfg.BackpressureProcessingDelay = 10 * time.Millisecond
	b := New(cfg, nil, nil)
	t.Cleanup(func() { b.Close() })

	svc := heartRateService()
	b.RegisterCentral("central-1")
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{svc})
	b.StartAdvertising("peripheral-1", adv.Record{}, true)
	if err := b.Connect("central-1", "peripheral-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ready := make(chan string, 4)
	if err := b.SetWriteWithoutResponseReadyCallback("central-1", func(peripheralID string) {
		ready <- peripheralID
	}); err != nil {
		t.Fatalf("SetWriteWithoutResponseReadyCallback: %v", err)
	}

	charID := svc.Characteristics[1].ID
	for i := 0; i < 2; i++ {
		if err := b.WriteCharacteristic("central-1", "peripheral-1", charID, []byte{byte(i)}, false); err != nil {
			t.Fatalf("WriteCharacteristic %d: %v", i, err)
		}
	}

	okBefore, err := b.IsReadyToWriteWithoutResponse("central-1", "peripheral-1")
	if err != nil {
		t.Fatalf("IsReadyToWriteWithoutResponse: %v", err)
	}
	if okBefore {
		t.Error("expected queue to report not-ready once at cap")
	}

	select {
	case peripheralID := <-ready:
		if peripheralID != "peripheral-1" {
			t.Errorf("ready callback named %q, want peripheral-1", peripheralID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write-without-response ready callback")
	}
}

// TestNotificationBackpressureRejectsAtCap exercises §4.2.6's law that
// Notify returns false without mutating the stored value or delivering
// to anyone once a (peripheral,characteristic) notification queue is
// at its cap.
func TestNotificationBackpressureRejectsAtCap(t *testing.T) {
	cfg := config.Instant()
	cfg.SimulateBackpressure = true
	cfg.MaxNotificationQueue = 1
	cfg.BackpressureProcessingDelay = time.Hour // never drains within the test
	b := New(cfg, nil, nil)
	t.Cleanup(func() { b.Close() })

	svc := heartRateService()
	// Made readable so the stored value can be read back below.
	svc.Characteristics[0].Properties |= gatt.PropRead
	b.RegisterCentral("central-1")
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{svc})
	b.StartAdvertising("peripheral-1", adv.Record{}, true)
	b.Connect("central-1", "peripheral-1")
	hrChar := svc.Characteristics[0]
	b.SetNotifyValue("central-1", "peripheral-1", hrChar.ID, true)

	admitted1, err := b.Notify("peripheral-1", hrChar.ID, []byte{1}, nil)
	if err != nil || !admitted1 {
		t.Fatalf("first Notify: admitted=%v err=%v, want true, nil", admitted1, err)
	}

	delivered := make(chan []byte, 1)
	admitted2, err := b.Notify("peripheral-1", hrChar.ID, []byte{2}, func(centralID string, value []byte) {
		delivered <- value
	})
	if err != nil {
		t.Fatalf("second Notify: %v", err)
	}
	if admitted2 {
		t.Error("expected second Notify to be rejected while the queue is at cap")
	}
	select {
	case v := <-delivered:
		t.Fatalf("expected no delivery for a rejected Notify, got %v", v)
	case <-time.After(50 * time.Millisecond):
	}

	value, err := b.ReadCharacteristic("central-1", "peripheral-1", hrChar.ID)
	if err != nil {
		t.Fatalf("ReadCharacteristic: %v", err)
	}
	if len(value) != 1 || value[0] != 1 {
		t.Errorf("stored value = %v, want [1] (rejected Notify must not overwrite it)", value)
	}
}

// TestReadWriteErrorInjectionConvergesToConfiguredRate runs many reads
// with a fixed ReadWriteErrorRate and checks the observed failure
// fraction lands in a generous band around the configured rate,
// catching a rate that's wired backwards or not wired at all rather
// than asserting an exact count.
func TestReadWriteErrorInjectionConvergesToConfiguredRate(t *testing.T) {
	cfg := config.Instant()
	cfg.SimulateReadWriteErrors = true
	cfg.ReadWriteErrorRate = 0.3
	cfg.Deterministic = true
	cfg.Seed = 1
	b := New(cfg, nil, nil)
	t.Cleanup(func() { b.Close() })

	svc := heartRateService()
	b.RegisterCentral("central-1")
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{svc})
	b.StartAdvertising("peripheral-1", adv.Record{}, true)
	b.Connect("central-1", "peripheral-1")

	const trials = 2000
	failures := 0
	for i := 0; i < trials; i++ {
		if _, err := b.ReadCharacteristic("central-1", "peripheral-1", svc.Characteristics[1].ID); err != nil {
			failures++
		}
	}
	rate := float64(failures) / float64(trials)
	if rate < 0.2 || rate > 0.4 {
		t.Errorf("observed error rate %v, want near configured 0.3", rate)
	}
}

func TestNegotiateMTUClampsToConfiguredBounds(t *testing.T) {
	cfg := config.Instant()
	cfg.MinMTU = 23
	cfg.MaxMTU = 100
	b := New(cfg, nil, nil)
	t.Cleanup(func() { b.Close() })

	b.RegisterCentral("central-1")
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{heartRateService()})
	b.StartAdvertising("peripheral-1", adv.Record{}, true)
	b.Connect("central-1", "peripheral-1")

	mtu, err := b.NegotiateMTU("central-1", "peripheral-1", 500)
	if err != nil {
		t.Fatalf("NegotiateMTU: %v", err)
	}
	if mtu != 100 {
		t.Errorf("negotiated MTU = %d, want clamped to MaxMTU=100", mtu)
	}

	mtu, err = b.NegotiateMTU("central-1", "peripheral-1", 5)
	if err != nil {
		t.Fatalf("NegotiateMTU: %v", err)
	}
	if mtu != 23 {
		t.Errorf("negotiated MTU = %d, want clamped to MinMTU=23", mtu)
	}

	if got := b.NegotiatedMTU("central-1", "peripheral-1"); got != 23 {
		t.Errorf("NegotiatedMTU = %d, want 23", got)
	}
}

func TestRestorePeripheralStateIsIdempotent(t *testing.T) {
	cfg := config.Instant()
	cfg.RestorationEnabled = true
	b := New(cfg, nil, nil)
	t.Cleanup(func() { b.Close() })

	svc := heartRateService()
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{svc})
	record := adv.Record{adv.KeyLocalName: adv.String("Heart Monitor")}
	b.StartAdvertising("peripheral-1", record, true)

	if err := b.SavePeripheralState("peripheral-1", "restore-1"); err != nil {
		t.Fatalf("SavePeripheralState: %v", err)
	}

	first, found, err := b.RestorePeripheralState("restore-1")
	if err != nil || !found {
		t.Fatalf("RestorePeripheralState: found=%v err=%v", found, err)
	}
	second, found, err := b.RestorePeripheralState("restore-1")
	if err != nil || !found {
		t.Fatalf("RestorePeripheralState (second read): found=%v err=%v", found, err)
	}

	if len(first.Services) != len(second.Services) || len(first.Services) != 1 {
		t.Fatalf("service count mismatch across reads: %v vs %v", first.Services, second.Services)
	}
	if !first.Services[0].Equal(second.Services[0]) {
		t.Errorf("service UUID mismatch across reads: %v vs %v", first.Services[0], second.Services[0])
	}
	name1, _ := first.Advertisement.LocalName()
	name2, _ := second.Advertisement.LocalName()
	if name1 != name2 || name1 != "Heart Monitor" {
		t.Errorf("restored local name mismatch: %q vs %q", name1, name2)
	}
	if first.Connectable != second.Connectable || !first.Connectable {
		t.Errorf("restored connectable mismatch: %v vs %v", first.Connectable, second.Connectable)
	}
}

func TestRestoreCentralStateRoundTripsScanFilterAndPeripherals(t *testing.T) {
	cfg := config.Instant()
	cfg.RestorationEnabled = true
	b := New(cfg, nil, nil)
	t.Cleanup(func() { b.Close() })

	b.RegisterCentral("central-1")
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{heartRateService()})
	b.StartAdvertising("peripheral-1", adv.Record{}, true)
	b.Connect("central-1", "peripheral-1")

	filter := []bleuuid.UUID{bleuuid.From16(0x180D)}
	b.StartScan("central-1", filter, ScanOptions{AllowDuplicates: true}, nil)

	if err := b.SaveCentralState("central-1", "restore-central-1"); err != nil {
		t.Fatalf("SaveCentralState: %v", err)
	}

	restored, found, err := b.RestoreCentralState("restore-central-1")
	if err != nil || !found {
		t.Fatalf("RestoreCentralState: found=%v err=%v", found, err)
	}
	if len(restored.PeripheralIDs) != 1 || restored.PeripheralIDs[0] != "peripheral-1" {
		t.Errorf("restored peripherals = %v, want [peripheral-1]", restored.PeripheralIDs)
	}
	if len(restored.ScanServices) != 1 || !restored.ScanServices[0].Equal(filter[0]) {
		t.Errorf("restored scan services = %v, want %v", restored.ScanServices, filter)
	}
	if !restored.ScanAllowDuplicates {
		t.Error("expected restored ScanAllowDuplicates=true")
	}
}

func TestResetClearsConnectionsButKeepsRegistrations(t *testing.T) {
	b := newTestBus(t)
	b.RegisterCentral("central-1")
	b.RegisterPeripheral("peripheral-1", []*gatt.Service{heartRateService()})
	b.StartAdvertising("peripheral-1", adv.Record{}, true)
	if err := b.Connect("central-1", "peripheral-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	connected, _ := b.IsConnected("central-1", "peripheral-1")
	if connected {
		t.Error("expected no connections after Reset")
	}
	if advertising, _ := b.IsAdvertising("peripheral-1"); advertising {
		t.Error("expected advertising stopped after Reset")
	}
	if err := b.RegisterCentral("central-1"); err == nil {
		t.Error("expected central-1 to still be registered after Reset")
	}
}
