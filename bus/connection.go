package bus

import (
	"time"

	"github.com/pkg/errors"
	"github.com/user/blebus/atterr"
)

// ShouldInitiateConnection breaks the tie when both a central and a
// peripheral manager are registered in the same process and either
// side could plausibly dial the other: the side with the
// lexicographically larger ID initiates (Open Question #3 in
// DESIGN.md). This mirrors the platform-role arbitration the original
// multi-role stack needed when a single device ran both a
// CBCentralManager and a CBPeripheralManager.
func ShouldInitiateConnection(localID, remoteID string) bool {
	return localID > remoteID
}

// Connect establishes a connection from a registered central to an
// advertising, connectable peripheral, simulating connection delay and
// failure rate from the active config.Snapshot (§4.2.4). On success
// the connection starts at DefaultMTU, pending a NegotiateMTU call,
// and fires a one-shot peerConnected connection event to centralID if
// it has registered for them.
func (b *Bus) Connect(centralID, peripheralID string) error {
	if _, _, err := b.lookupPair(centralID, peripheralID); err != nil {
		return err
	}

	key := connKey(centralID, peripheralID)

	if err := b.do(func() error {
		if existing, ok := b.connections[key]; ok && existing.state != stateDisconnected {
			return errors.Wrapf(atterr.ErrAlreadyConnected, "%s already connecting/connected to %s", centralID, peripheralID)
		}
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		if !p.advertising || !p.connectable {
			return errors.Wrapf(atterr.ErrNotConnectable, "peripheral %s is not connectable", peripheralID)
		}
		b.connections[key] = &connection{
			centralID:    centralID,
			peripheralID: peripheralID,
			state:        stateConnecting,
			mtu:          b.cfg.DefaultMTU,
		}
		return nil
	}); err != nil {
		return err
	}

	delay := b.cfg.MinConnectionDelay
	if b.cfg.MaxConnectionDelay > delay {
		delay += time.Duration(b.rng.Int63n(int64(b.cfg.MaxConnectionDelay - delay)))
	}
	time.Sleep(delay)

	fail := b.cfg.ConnectionFailureRate > 0 && b.rng.Float64() < b.cfg.ConnectionFailureRate

	return b.do(func() error {
		conn, ok := b.connections[key]
		if !ok {
			return errors.WithStack(atterr.ErrNotConnected)
		}
		if fail {
			delete(b.connections, key)
			cr := b.centrals[centralID]
			if cr != nil && cr.failCB != nil {
				cr.failCB(peripheralID, errors.WithStack(atterr.ErrConnectionFailed))
			}
			return errors.WithStack(atterr.ErrConnectionFailed)
		}
		conn.state = stateConnected
		conn.connectedAt = time.Now()
		if cr := b.centrals[centralID]; cr != nil {
			cr.connected.Add(peripheralID)
			if cr.connectCB != nil {
				cr.connectCB(peripheralID)
			}
			b.fireConnectionEvent(cr, peripheralID, true)
		}
		return nil
	})
}

// SetConnectionCallbacks wires a central's connect/fail/disconnect
// delegate hooks, invoked on the actor goroutine's calling convention
// (synchronously from within Connect/Disconnect/connection-loss paths)
// so façades can dispatch them onto their own queue.
func (b *Bus) SetConnectionCallbacks(centralID string, onConnect func(string), onFail func(string, error), onDisconnect func(string, error)) error {
	return b.do(func() error {
		c, ok := b.centrals[centralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "central %s not registered", centralID)
		}
		c.connectCB = onConnect
		c.failCB = onFail
		c.disconnectCB = onDisconnect
		return nil
	})
}

// Disconnect tears down an established connection, simulating the
// configured disconnect delay. Tearing down clears the MTU along with
// the connection entry, the write-without-response back-pressure
// counter for this pair, and the pairing bond between this central and
// peripheral — pairing state does not survive a disconnect (§4.2.4
// step 2, §4.2.7) — and fires a one-shot peerDisconnected connection
// event.
func (b *Bus) Disconnect(centralID, peripheralID string) error {
	key := connKey(centralID, peripheralID)

	if err := b.do(func() error {
		conn, ok := b.connections[key]
		if !ok || conn.state != stateConnected {
			return errors.WithStack(atterr.ErrNotConnected)
		}
		conn.state = stateDisconnecting
		return nil
	}); err != nil {
		return err
	}

	if b.cfg.DisconnectingDelay > 0 {
		time.Sleep(b.cfg.DisconnectingDelay)
	}

	return b.do(func() error {
		delete(b.connections, key)
		b.clearWriteWithoutResponseQueue(centralID, peripheralID)
		b.pairing.paired.Remove(pairingKey(centralID, peripheralID))
		if cr := b.centrals[centralID]; cr != nil {
			cr.connected.Remove(peripheralID)
			if cr.disconnectCB != nil {
				cr.disconnectCB(peripheralID, nil)
			}
			b.fireConnectionEvent(cr, peripheralID, false)
		}
		if p, ok := b.peripherals[peripheralID]; ok {
			cleared := p.subs.ClearCentral(centralID)
			if p.subscribeCB != nil {
				for _, charID := range cleared {
					p.subscribeCB(centralID, charID, false)
				}
			}
		}
		return nil
	})
}

// IsConnected reports whether centralID currently holds an established
// connection to peripheralID.
func (b *Bus) IsConnected(centralID, peripheralID string) (bool, error) {
	var out bool
	err := b.do(func() error {
		conn, ok := b.connections[connKey(centralID, peripheralID)]
		out = ok && conn.state == stateConnected
		return nil
	})
	return out, err
}

// NegotiateMTU performs the ATT MTU exchange for an established
// connection: the negotiated value is requested clamped to
// [config.MinMTU, config.MaxMTU], matching CBPeripheral's
// post-connection MTU callback (§4.2.9, testable property #6,
// scenario S6). Calling it again re-negotiates from the newly
// requested value, as a real stack does if either side resends the
// exchange.
func (b *Bus) NegotiateMTU(centralID, peripheralID string, requested int) (int, error) {
	var mtu int
	err := b.do(func() error {
		conn, ok := b.connections[connKey(centralID, peripheralID)]
		if !ok || conn.state != stateConnected {
			return errors.WithStack(atterr.ErrNotConnected)
		}
		negotiated := requested
		if negotiated > b.cfg.MaxMTU {
			negotiated = b.cfg.MaxMTU
		}
		if negotiated < b.cfg.MinMTU {
			negotiated = b.cfg.MinMTU
		}
		conn.mtu = negotiated
		mtu = negotiated
		return nil
	})
	return mtu, err
}

// NegotiatedMTU returns the connection's negotiated MTU (DefaultMTU
// until NegotiateMTU is called), or the config's DefaultMTU if no
// connection is established.
func (b *Bus) NegotiatedMTU(centralID, peripheralID string) int {
	var mtu int
	b.do(func() error {
		if conn, ok := b.connections[connKey(centralID, peripheralID)]; ok {
			mtu = conn.mtu
		} else {
			mtu = b.cfg.DefaultMTU
		}
		return nil
	})
	return mtu
}

// ConnectedPeripherals returns the peripheral IDs centralID currently
// holds an established connection to, matching
// CBCentralManager.retrieveConnectedPeripherals(withServices:) minus
// the service filter (the Bus tracks connections, not a
// per-application service scope).
func (b *Bus) ConnectedPeripherals(centralID string) ([]string, error) {
	var out []string
	err := b.do(func() error {
		c, ok := b.centrals[centralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "central %s not registered", centralID)
		}
		for _, member := range c.connected.ToSlice() {
			out = append(out, member.(string))
		}
		return nil
	})
	return out, err
}

func (b *Bus) lookupPair(centralID, peripheralID string) (*centralRecord, *peripheralRecord, error) {
	var c *centralRecord
	var p *peripheralRecord
	err := b.do(func() error {
		var ok bool
		c, ok = b.centrals[centralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "central %s not registered", centralID)
		}
		p, ok = b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		return nil
	})
	return c, p, err
}
