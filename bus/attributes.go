package bus

import (
	"time"

	"github.com/pkg/errors"
	"github.com/user/blebus/atterr"
	"github.com/user/blebus/bleuuid"
	"github.com/user/blebus/gatt"
)

// DiscoveredService is what DiscoverServices returns for one service:
// enough for a central façade to build its own remote.Service view.
type DiscoveredService struct {
	ID              string
	UUID            bleuuid.UUID
	Primary         bool
	Characteristics []DiscoveredCharacteristic
}

type DiscoveredCharacteristic struct {
	ID         string
	UUID       bleuuid.UUID
	Properties gatt.Properties
	HasCCCD    bool
}

// DiscoverServices returns every service a connected peripheral
// exposes, matching teacher CBPeripheral.discoverServices semantics
// (§4.2.5): it requires an established connection and simulates the
// configured service/characteristic/descriptor discovery delays
// before returning.
func (b *Bus) DiscoverServices(centralID, peripheralID string) ([]DiscoveredService, error) {
	if err := b.do(func() error { return b.requireConnected(centralID, peripheralID) }); err != nil {
		return nil, err
	}
	if b.cfg.ServiceDiscoveryDelay > 0 {
		time.Sleep(b.cfg.ServiceDiscoveryDelay)
	}
	if b.cfg.CharacteristicDiscoveryDelay > 0 {
		time.Sleep(b.cfg.CharacteristicDiscoveryDelay)
	}
	if b.cfg.DescriptorDiscoveryDelay > 0 {
		time.Sleep(b.cfg.DescriptorDiscoveryDelay)
	}

	var out []DiscoveredService
	err := b.do(func() error {
		if err := b.requireConnected(centralID, peripheralID); err != nil {
			return err
		}
		p := b.peripherals[peripheralID]
		for _, s := range p.services {
			ds := DiscoveredService{ID: s.ID, UUID: s.UUID, Primary: s.Primary}
			for _, c := range s.Characteristics {
				_, hasCCCD := p.handles[s.ID].CCCDHandles[c.ID]
				ds.Characteristics = append(ds.Characteristics, DiscoveredCharacteristic{
					ID:         c.ID,
					UUID:       c.UUID,
					Properties: c.Properties,
					HasCCCD:    hasCCCD,
				})
			}
			out = append(out, ds)
		}
		return nil
	})
	return out, err
}

// simulatedReadWriteError draws a plausible ATT error when
// SimulateReadWriteErrors is enabled and the roll lands within
// ReadWriteErrorRate, matching §4.2.5's error-injection step.
func (b *Bus) simulatedReadWriteError(handle gatt.Handle) error {
	if !b.cfg.SimulateReadWriteErrors || b.cfg.ReadWriteErrorRate <= 0 {
		return nil
	}
	if b.rng.Float64() >= b.cfg.ReadWriteErrorRate {
		return nil
	}
	return errors.WithStack(atterr.NewATTError(atterr.ATTUnlikelyError, uint16(handle)))
}

// ReadCharacteristic reads a characteristic's current value from a
// connected peripheral, enforcing the PropRead permission and the
// pairing gate when the config requires it for encrypted attributes,
// simulating ReadDelay, injecting a simulated failure per
// SimulateReadWriteErrors/ReadWriteErrorRate, and dispatching the
// peripheral façade's didReceiveRead hook before returning the value
// (§4.2.5, §6.2).
func (b *Bus) ReadCharacteristic(centralID, peripheralID, charID string) ([]byte, error) {
	if err := b.do(func() error {
		if err := b.requireConnected(centralID, peripheralID); err != nil {
			return err
		}
		p := b.peripherals[peripheralID]
		handle, char, err := b.lookupCharacteristic(p, charID)
		if err != nil {
			return err
		}
		if !char.Properties.Has(gatt.PropRead) {
			return errors.WithStack(atterr.NewATTError(atterr.ATTReadNotPermitted, uint16(handle)))
		}
		if attr, err := p.db.Get(handle); err == nil && attr.Permissions.Has(gatt.PermReadEncrypt) {
			return b.checkPairingGate(centralID, peripheralID)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if b.cfg.ReadDelay > 0 {
		time.Sleep(b.cfg.ReadDelay)
	}

	var out []byte
	err := b.do(func() error {
		if err := b.requireConnected(centralID, peripheralID); err != nil {
			return err
		}
		p := b.peripherals[peripheralID]
		handle, _, err := b.lookupCharacteristic(p, charID)
		if err != nil {
			return err
		}
		if err := b.simulatedReadWriteError(handle); err != nil {
			return err
		}
		attr, err := p.db.Get(handle)
		if err != nil {
			return err
		}
		out = attr.Value
		if p.readCB != nil {
			p.readCB(centralID, charID)
		}
		return nil
	})
	return out, err
}

// WriteCharacteristic writes a characteristic's value on a connected
// peripheral, simulating WriteDelay and read/write error injection and
// dispatching the peripheral façade's didReceiveWrite hook. When
// withResponse is false, back-pressure is accounted per
// (central, peripheral) — not per characteristic, since one central's
// write-without-response queue to a peripheral is a single shared
// resource — and back-pressure never rejects the write: it is counted
// even when the queue is already at its cap, mirroring
// writeValue(_:for:type:.withoutResponse). The delay, error injection
// and permission checks apply to both write types.
func (b *Bus) WriteCharacteristic(centralID, peripheralID, charID string, value []byte, withResponse bool) error {
	if err := b.do(func() error {
		if err := b.requireConnected(centralID, peripheralID); err != nil {
			return err
		}
		p := b.peripherals[peripheralID]
		handle, char, err := b.lookupCharacteristic(p, charID)
		if err != nil {
			return err
		}
		required := gatt.PropWrite
		if !withResponse {
			required = gatt.PropWriteWithoutResponse
		}
		if !char.Properties.Has(required) {
			return errors.WithStack(atterr.NewATTError(atterr.ATTWriteNotPermitted, uint16(handle)))
		}
		if attr, err := p.db.Get(handle); err == nil && attr.Permissions.Has(gatt.PermWriteEncrypt) {
			return b.checkPairingGate(centralID, peripheralID)
		}
		return nil
	}); err != nil {
		return err
	}

	if b.cfg.WriteDelay > 0 {
		time.Sleep(b.cfg.WriteDelay)
	}

	return b.do(func() error {
		if err := b.requireConnected(centralID, peripheralID); err != nil {
			return err
		}
		p := b.peripherals[peripheralID]
		handle, _, err := b.lookupCharacteristic(p, charID)
		if err != nil {
			return err
		}
		if err := b.simulatedReadWriteError(handle); err != nil {
			return err
		}
		if err := p.db.SetValue(handle, value); err != nil {
			return err
		}
		if !withResponse {
			b.reserveWriteWithoutResponse(centralID, peripheralID)
		}
		if p.writeCB != nil {
			p.writeCB(centralID, charID, value)
		}
		return nil
	})
}

func (b *Bus) requireConnected(centralID, peripheralID string) error {
	conn, ok := b.connections[connKey(centralID, peripheralID)]
	if !ok || conn.state != stateConnected {
		return errors.WithStack(atterr.ErrNotConnected)
	}
	if _, ok := b.peripherals[peripheralID]; !ok {
		return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
	}
	return nil
}

func (b *Bus) lookupCharacteristic(p *peripheralRecord, charID string) (gatt.Handle, *gatt.Characteristic, error) {
	for serviceID, handles := range p.handles {
		h, ok := handles.CharHandles[charID]
		if !ok {
			continue
		}
		for _, s := range p.services {
			if s.ID != serviceID {
				continue
			}
			for i := range s.Characteristics {
				if s.Characteristics[i].ID == charID {
					return h, &s.Characteristics[i], nil
				}
			}
		}
	}
	return 0, nil, errors.WithStack(atterr.NewATTError(atterr.ATTAttributeNotFound, 0))
}

// SetAttributeCallbacks wires the peripheral façade's didReceiveRead
// and didReceiveWrite hooks (§4.2.5, §6.2). Either may be nil.
func (b *Bus) SetAttributeCallbacks(peripheralID string, onRead func(centralID, charID string), onWrite func(centralID, charID string, value []byte)) error {
	return b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		p.readCB = onRead
		p.writeCB = onWrite
		return nil
	})
}
