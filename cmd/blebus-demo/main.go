package main

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/user/blebus/adv"
	"github.com/user/blebus/bleuuid"
	"github.com/user/blebus/bus"
	"github.com/user/blebus/central"
	"github.com/user/blebus/config"
	"github.com/user/blebus/gatt"
	"github.com/user/blebus/peripheral"
	"github.com/user/blebus/remote"
)

const heartRateServiceUUID = 0x180D
const heartRateMeasurementUUID = 0x2A37

func main() {
	fmt.Println("=== EmulatorBus connect / discover / subscribe / notify / disconnect demo ===")

	b := bus.New(config.Instant(), nil, nil)
	defer b.Close()

	svc := gatt.NewService(bleuuid.From16(heartRateServiceUUID), true)
	svc.AddCharacteristic(bleuuid.From16(heartRateMeasurementUUID), gatt.PropNotify|gatt.PropRead, []byte{0x00, 60})

	peripheralID := uuid.NewString()
	pm, err := peripheral.New(b, peripheralID, "", []*gatt.Service{svc}, demoPeripheralDelegate{})
	if err != nil {
		panic(err)
	}
	record := adv.Record{
		adv.KeyLocalName:     adv.String("Heart Monitor"),
		adv.KeyServiceUUIDs:  adv.List(adv.UUIDValue(bleuuid.From16(heartRateServiceUUID))),
		adv.KeyIsConnectable: adv.Bool(true),
	}
	if err := pm.StartAdvertising(record, true); err != nil {
		panic(err)
	}
	fmt.Println("peripheral: advertising Heart Monitor")

	centralID := uuid.NewString()
	connected := make(chan struct{}, 1)
	delegate := &demoCentralDelegate{connected: connected}
	cm, err := central.New(b, centralID, "", delegate)
	if err != nil {
		panic(err)
	}
	delegate.manager = cm

	for cm.State() != bus.ManagerStatePoweredOn {
		time.Sleep(time.Millisecond)
	}
	if err := cm.ScanForPeripherals([]bleuuid.UUID{bleuuid.From16(heartRateServiceUUID)}, bus.ScanOptions{}); err != nil {
		panic(err)
	}
	fmt.Println("central: scanning for heart rate peripherals")

	select {
	case <-connected:
		fmt.Println("central: connected, subscribing to heart rate notifications")
	case <-time.After(5 * time.Second):
		fmt.Println("central: timed out waiting to connect")
		return
	}

	charID := svc.Characteristics[0].ID
	if err := b.SetNotifyValue(centralID, peripheralID, charID, true); err != nil {
		panic(err)
	}

	notified := make(chan []byte, 1)
	go func() {
		for bpm := byte(61); bpm < 66; bpm++ {
			time.Sleep(50 * time.Millisecond)
			b.Notify(peripheralID, charID, []byte{0x00, bpm}, func(centralID string, value []byte) {
				select {
				case notified <- value:
				default:
				}
			})
		}
	}()

	for i := 0; i < 3; i++ {
		select {
		case v := <-notified:
			fmt.Printf("central: received heart rate notification %v\n", v)
		case <-time.After(2 * time.Second):
			fmt.Println("central: timed out waiting for notification")
		}
	}

	if err := cm.CancelPeripheralConnection(peripheralID); err != nil {
		panic(err)
	}
	fmt.Println("central: disconnected")
}

type demoPeripheralDelegate struct{}

func (demoPeripheralDelegate) DidStartAdvertising(err error) {
	if err != nil {
		fmt.Printf("peripheral: advertising failed: %v\n", err)
	}
}
func (demoPeripheralDelegate) CentralDidSubscribe(c *remote.Central, characteristicID string) {
	fmt.Printf("peripheral: central %s subscribed to %s\n", c.ID, characteristicID)
}
func (demoPeripheralDelegate) CentralDidUnsubscribe(c *remote.Central, characteristicID string) {}
func (demoPeripheralDelegate) ReadyToUpdateSubscribers()                                        {}
func (demoPeripheralDelegate) StateDidUpdate(state bus.ManagerState)                            {}
func (demoPeripheralDelegate) WillRestoreState(state bus.RestoredPeripheralState)               {}
func (demoPeripheralDelegate) DidReceiveRead(c *remote.Central, characteristicID string)         {}
func (demoPeripheralDelegate) DidReceiveWrite(c *remote.Central, characteristicID string, value []byte) {
}
func (demoPeripheralDelegate) DidUpdateANCSAuthorizationFor(c *remote.Central, authorized bool) {}
func (demoPeripheralDelegate) DidOpenL2CAPChannel(c *remote.Central, psm uint16, conn net.Conn)  {}

type demoCentralDelegate struct {
	connected chan struct{}
	manager   *central.Manager
}

func (d *demoCentralDelegate) DidDiscoverPeripheral(p *remote.Peripheral, rssi int) {
	d.manager.StopScan()
	d.manager.Connect(p.ID)
}
func (d *demoCentralDelegate) DidConnectPeripheral(p *remote.Peripheral) {
	select {
	case d.connected <- struct{}{}:
	default:
	}
}
func (d *demoCentralDelegate) DidFailToConnectPeripheral(p *remote.Peripheral, err error) {
	fmt.Printf("central: failed to connect: %v\n", err)
}
func (d *demoCentralDelegate) DidDisconnectPeripheral(p *remote.Peripheral, err error) {
	fmt.Println("central: peripheral disconnected")
}
func (d *demoCentralDelegate) StateDidUpdate(state bus.ManagerState)                 {}
func (d *demoCentralDelegate) WillRestoreState(state bus.RestoredCentralState)       {}
func (d *demoCentralDelegate) IsReadyToSendWriteWithoutResponse(p *remote.Peripheral) {}
