package bus

import (
	"time"

	"github.com/pkg/errors"
	"github.com/user/blebus/atterr"
	"github.com/user/blebus/gatt"
)

// SetNotifyValue simulates a central writing its CCCD descriptor for a
// characteristic, matching CBPeripheral.setNotifyValue(_:for:) (§4.2.6).
// It requires the characteristic to support notify or indicate. A
// transition between subscribed and unsubscribed fires the
// peripheral's subscription callback, so a peripheral.Manager learns
// about it the same way it learns about connects and disconnects
// rather than needing a caller to replay the CCCD write by hand.
func (b *Bus) SetNotifyValue(centralID, peripheralID, charID string, enabled bool) error {
	return b.do(func() error {
		if err := b.requireConnected(centralID, peripheralID); err != nil {
			return err
		}
		p := b.peripherals[peripheralID]
		_, char, err := b.lookupCharacteristic(p, charID)
		if err != nil {
			return err
		}
		if !char.Properties.Has(gatt.PropNotify | gatt.PropIndicate) {
			return errors.WithStack(atterr.NewATTError(atterr.ATTRequestNotSupported, 0))
		}
		wasSubscribed := false
		if state, ok := p.subs.Get(charID, centralID); ok {
			wasSubscribed = state.NotifyEnabled || state.IndicateEnabled
		}
		indicate := char.Properties.Has(gatt.PropIndicate) && !char.Properties.Has(gatt.PropNotify)
		value := gatt.EncodeCCCDValue(enabled && !indicate, enabled && indicate)
		if err := p.subs.SetSubscription(charID, centralID, value); err != nil {
			return err
		}
		if enabled != wasSubscribed && p.subscribeCB != nil {
			p.subscribeCB(centralID, charID, enabled)
		}
		return nil
	})
}

// SetSubscriptionCallback wires the callback SetNotifyValue fires on
// every subscribe/unsubscribe transition for peripheralID.
func (b *Bus) SetSubscriptionCallback(peripheralID string, cb func(centralID, charID string, subscribed bool)) error {
	return b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		p.subscribeCB = cb
		return nil
	})
}

// Notify pushes an updated value to every central subscribed (via
// notify or indicate) to charID on peripheralID. It is gated by the
// (peripheral, characteristic) notification back-pressure counter
// (§4.2.6): when that counter is already at MaxNotificationQueue, it
// returns false without touching the stored value or delivering
// anything to anyone, matching
// CBPeripheralManager.updateValue(_:for:onSubscribedCentrals:)
// returning false when the underlying transmit queue is full.
// Delivery, when admitted, happens after NotificationDelay.
func (b *Bus) Notify(peripheralID, charID string, value []byte, handler func(centralID string, value []byte)) (bool, error) {
	var admitted bool
	var handle gatt.Handle
	err := b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		h, char, err := b.lookupCharacteristic(p, charID)
		if err != nil {
			return err
		}
		if !char.Properties.Has(gatt.PropNotify | gatt.PropIndicate) {
			return errors.WithStack(atterr.NewATTError(atterr.ATTRequestNotSupported, uint16(h)))
		}
		handle = h
		admitted = b.reserveNotification(peripheralID, charID)
		return nil
	})
	if err != nil || !admitted {
		return admitted, err
	}

	if b.cfg.NotificationDelay > 0 {
		time.Sleep(b.cfg.NotificationDelay)
	}

	return true, b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		if err := p.db.SetValue(handle, value); err != nil {
			return err
		}
		for _, centralID := range p.subs.Subscribers(charID) {
			state, _ := p.subs.Get(charID, centralID)
			if !state.NotifyEnabled && !state.IndicateEnabled {
				continue
			}
			if handler != nil {
				handler(centralID, value)
			}
		}
		return nil
	})
}

// Indicate is an alias for Notify used by callers that want to be
// explicit they're sending an indication (which the emulator treats
// identically to a notification, since both are just a push of the
// current value to subscribers).
func (b *Bus) Indicate(peripheralID, charID string, value []byte, handler func(centralID string, value []byte)) (bool, error) {
	return b.Notify(peripheralID, charID, value, handler)
}
