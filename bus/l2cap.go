package bus

import (
	"net"

	"github.com/pkg/errors"
	"github.com/user/blebus/atterr"
)

// PublishL2CAPChannel allocates a PSM and marks peripheralID ready to
// accept L2CAP channel connections on it, matching
// CBPeripheralManager.publishL2CAPChannel(withEncryption:). PSMs are
// handed out sequentially from the BLE dynamic PSM range starting at
// 0x0080; encryptionRequired is accepted but neither stored nor
// enforced: the emulator does not distinguish an encrypted L2CAP
// channel from an unencrypted one.
func (b *Bus) PublishL2CAPChannel(peripheralID string, encryptionRequired bool) (uint16, error) {
	var psm uint16
	err := b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		psm = b.nextL2CAPPSM
		b.nextL2CAPPSM++
		p.l2capPSMs[psm] = true
		return nil
	})
	return psm, err
}

// UnpublishL2CAPChannel stops peripheralID accepting new connections
// on psm, matching CBPeripheralManager.unpublishL2CAPChannel(_:).
// Channels already open on it are unaffected.
func (b *Bus) UnpublishL2CAPChannel(peripheralID string, psm uint16) error {
	return b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		delete(p.l2capPSMs, psm)
		return nil
	})
}

// OpenL2CAPChannel opens a channel from an already-connected central
// to a peripheral's published PSM, matching
// CBPeripheral.openL2CAPChannel(_:). The two sides of the channel are
// a net.Pipe() pair: the caller gets one net.Conn back directly, the
// peripheral's didOpenL2CAPChannel callback gets the other, mirroring
// the platform's CBL2CAPChannel.channel handed to each side.
func (b *Bus) OpenL2CAPChannel(centralID, peripheralID string, psm uint16) (net.Conn, error) {
	var local net.Conn
	err := b.do(func() error {
		if err := b.requireConnected(centralID, peripheralID); err != nil {
			return err
		}
		p := b.peripherals[peripheralID]
		if !p.l2capPSMs[psm] {
			return errors.Wrapf(atterr.ErrUnknownDevice, "psm %d not published by peripheral %s", psm, peripheralID)
		}
		var remote net.Conn
		local, remote = net.Pipe()
		if p.l2capOpenCB != nil {
			p.l2capOpenCB(centralID, psm, remote)
		}
		return nil
	})
	return local, err
}

// SetL2CAPOpenCallback wires the callback OpenL2CAPChannel fires on
// peripheralID's side of a newly opened channel, matching
// CBPeripheralManagerDelegate.peripheralManager(_:didOpen:error:).
func (b *Bus) SetL2CAPOpenCallback(peripheralID string, cb func(centralID string, psm uint16, conn net.Conn)) error {
	return b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		p.l2capOpenCB = cb
		return nil
	})
}
