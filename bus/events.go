package bus

import "github.com/pkg/errors"
import "github.com/user/blebus/atterr"

// RegisterForConnectionEvents opts a central in (or out) of the
// one-shot connection events Connect/Disconnect fire, matching
// CBCentralManager.registerForConnectionEvents(options:) (§4.2.10,
// §4.3). Each event names the peripheral and whether it just
// connected or disconnected; a real connection event fires once per
// transition rather than on a timer, so no background task is started
// here.
func (b *Bus) RegisterForConnectionEvents(centralID string, enabled bool, opts ConnectionEventOptions, onEvent func(peripheralID string, connected bool)) error {
	return b.do(func() error {
		c, ok := b.centrals[centralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "central %s not registered", centralID)
		}
		c.connectionEventsRegistered = enabled
		c.connectionEventOptions = opts
		c.connectionEventCB = onEvent
		return nil
	})
}

// fireConnectionEvent delivers a one-shot peerConnected/peerDisconnected
// event to cr if it registered for them and EmitConnectionEvents is on.
// Must be called from inside the actor.
func (b *Bus) fireConnectionEvent(cr *centralRecord, peripheralID string, connected bool) {
	if !b.cfg.EmitConnectionEvents || !cr.connectionEventsRegistered || cr.connectionEventCB == nil {
		return
	}
	cr.connectionEventCB(peripheralID, connected)
}
