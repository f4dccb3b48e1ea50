package remote

import (
	"github.com/user/blebus/bus"
)

// Central is a peripheral's view of one remote central, handed to
// the application when a central subscribes to or writes a
// characteristic, matching the identity CBATTRequest.central exposes
// on the real peripheral-manager side.
type Central struct {
	ID string

	bus          *bus.Bus
	peripheralID string
}

// NewCentral wraps a central ID into a Central a peripheral façade
// can hand to its application.
func NewCentral(b *bus.Bus, peripheralID, centralID string) *Central {
	return &Central{ID: centralID, bus: b, peripheralID: peripheralID}
}

// IsConnected reports whether this central currently holds an
// established connection to the owning peripheral.
func (c *Central) IsConnected() (bool, error) {
	return c.bus.IsConnected(c.ID, c.peripheralID)
}

// MaximumUpdateValueLength mirrors
// CBCentral.maximumUpdateValueLength, approximated here as the
// connection's negotiated MTU minus the 3-byte ATT notification
// header.
func (c *Central) MaximumUpdateValueLength() int {
	const attNotificationHeader = 3
	return c.bus.NegotiatedMTU(c.ID, c.peripheralID) - attNotificationHeader
}
