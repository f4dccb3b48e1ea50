// Package remote holds the proxy types each side of a connection
// uses to talk about the other: remote.Peripheral is what a central
// façade hands an application for a peripheral it has discovered or
// connected to, and remote.Central is what a peripheral façade hands
// an application for a central that has subscribed or written to it.
// Both are thin views over bus.Bus calls scoped to one remote ID,
// generalizing teacher swift.CBPeripheral from a single embedded
// *wire.Wire to a shared *bus.Bus plus the two IDs involved.
package remote

import (
	"net"

	"github.com/user/blebus/adv"
	"github.com/user/blebus/bleuuid"
	"github.com/user/blebus/bus"
	"github.com/user/blebus/gatt"
)

// Service is the discovery-time view of a peripheral's GATT service.
type Service struct {
	ID              string
	UUID            bleuuid.UUID
	Primary         bool
	Characteristics []Characteristic
}

// Characteristic is the discovery-time view of a GATT characteristic.
type Characteristic struct {
	ID         string
	UUID       bleuuid.UUID
	Properties gatt.Properties
	HasCCCD    bool
	Value      []byte
}

// Peripheral is a central's view of one remote peripheral, mirroring
// teacher swift.CBPeripheral's exported surface but addressing the
// peripheral purely by ID against a shared Bus rather than owning its
// own wire connection.
type Peripheral struct {
	ID         string
	Name       string
	Advertised adv.Record

	bus       *bus.Bus
	centralID string
	Services  []Service
}

// NewPeripheral wraps a discovered peripheral ID into a Peripheral a
// central façade can hand to its application.
func NewPeripheral(b *bus.Bus, centralID, peripheralID string, advertised adv.Record) *Peripheral {
	name, _ := advertised.LocalName()
	return &Peripheral{
		ID:         peripheralID,
		Name:       name,
		Advertised: advertised,
		bus:        b,
		centralID:  centralID,
	}
}

// IsConnected reports whether the owning central currently holds an
// established connection to this peripheral.
func (p *Peripheral) IsConnected() (bool, error) {
	return p.bus.IsConnected(p.centralID, p.ID)
}

// DiscoverServices populates Services from the Bus's GATT database,
// matching CBPeripheral.discoverServices(_:).
func (p *Peripheral) DiscoverServices() error {
	discovered, err := p.bus.DiscoverServices(p.centralID, p.ID)
	if err != nil {
		return err
	}
	services := make([]Service, 0, len(discovered))
	for _, ds := range discovered {
		svc := Service{ID: ds.ID, UUID: ds.UUID, Primary: ds.Primary}
		for _, dc := range ds.Characteristics {
			svc.Characteristics = append(svc.Characteristics, Characteristic{
				ID:         dc.ID,
				UUID:       dc.UUID,
				Properties: dc.Properties,
				HasCCCD:    dc.HasCCCD,
			})
		}
		services = append(services, svc)
	}
	p.Services = services
	return nil
}

// ReadValue reads a characteristic's current value, matching
// CBPeripheral.readValue(for:).
func (p *Peripheral) ReadValue(charID string) ([]byte, error) {
	return p.bus.ReadCharacteristic(p.centralID, p.ID, charID)
}

// WriteValue writes a characteristic's value, matching
// CBPeripheral.writeValue(_:for:type:).
func (p *Peripheral) WriteValue(charID string, value []byte, withResponse bool) error {
	return p.bus.WriteCharacteristic(p.centralID, p.ID, charID, value, withResponse)
}

// SetNotifyValue enables or disables notifications/indications for a
// characteristic, matching CBPeripheral.setNotifyValue(_:for:).
func (p *Peripheral) SetNotifyValue(charID string, enabled bool) error {
	return p.bus.SetNotifyValue(p.centralID, p.ID, charID, enabled)
}

// CanSendWriteWithoutResponse mirrors
// CBPeripheral.canSendWriteWithoutResponse, backed by the Bus's
// per-(central,peripheral) write-without-response back-pressure
// counter — one shared queue per peripheral, not per characteristic.
func (p *Peripheral) CanSendWriteWithoutResponse() (bool, error) {
	return p.bus.IsReadyToWriteWithoutResponse(p.centralID, p.ID)
}

// NegotiateMTU performs the ATT MTU exchange for this peripheral's
// connection, matching the post-connection MTU negotiation CBPeripheral
// handles internally (§4.2.9). requested is normally the caller's
// preferred ATT_MTU; the negotiated value actually stored is clamped
// to the Bus's configured MTU bounds.
func (p *Peripheral) NegotiateMTU(requested int) (int, error) {
	return p.bus.NegotiateMTU(p.centralID, p.ID, requested)
}

// OpenL2CAPChannel opens a channel to one of this peripheral's
// published PSMs, matching CBPeripheral.openL2CAPChannel(_:). The
// returned net.Conn is this central's end of the pipe; the
// peripheral's DidOpenL2CAPChannel delegate callback receives the
// other end.
func (p *Peripheral) OpenL2CAPChannel(psm uint16) (net.Conn, error) {
	return p.bus.OpenL2CAPChannel(p.centralID, p.ID, psm)
}
