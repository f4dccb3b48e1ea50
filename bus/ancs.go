package bus

import (
	"github.com/pkg/errors"
	"github.com/user/blebus/atterr"
)

// UpdateANCSAuthorization records whether centralID is authorized to
// use the Apple Notification Center Service and, when
// FireANCSAuthorizationUpdates is on, notifies every peripheral
// currently connected to it, matching
// CBPeripheralManagerDelegate.peripheralManager(_:didUpdateANCSAuthorizationFor:)
// (§4.2.10, §6.1/§6.2).
func (b *Bus) UpdateANCSAuthorization(centralID string, authorized bool) error {
	return b.do(func() error {
		c, ok := b.centrals[centralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "central %s not registered", centralID)
		}
		c.ancsAuthorized = authorized
		if !b.cfg.FireANCSAuthorizationUpdates {
			return nil
		}
		for _, conn := range b.connections {
			if conn.centralID != centralID || conn.state != stateConnected {
				continue
			}
			if p, ok := b.peripherals[conn.peripheralID]; ok && p.ancsCB != nil {
				p.ancsCB(centralID, authorized)
			}
		}
		return nil
	})
}

// GetANCSAuthorization reports centralID's last-recorded ANCS
// authorization, matching §6.1's getANCSAuthorization.
func (b *Bus) GetANCSAuthorization(centralID string) (bool, error) {
	var out bool
	err := b.do(func() error {
		c, ok := b.centrals[centralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "central %s not registered", centralID)
		}
		out = c.ancsAuthorized
		return nil
	})
	return out, err
}

// SetANCSAuthorizationCallback wires the callback UpdateANCSAuthorization
// fires for every central connected to peripheralID whose authorization
// changes.
func (b *Bus) SetANCSAuthorizationCallback(peripheralID string, cb func(centralID string, authorized bool)) error {
	return b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		p.ancsCB = cb
		return nil
	})
}
