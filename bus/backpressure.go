package bus

import (
	"time"

	"github.com/pkg/errors"
	"github.com/user/blebus/atterr"
)

// Back-pressure is modeled as two independent counter families (§3):
// one per (central, peripheral) pair for write-without-response
// traffic, one per (peripheral, characteristic) pair for
// notifications. Each key carries a single integer outstanding-count
// compared against the configured maximum. A notification at the cap is
// rejected; a write-without-response is always admitted, so its count
// can exceed the cap and only drives the not-ready state. Each accepted
// unit schedules its own one-shot drain timer
// after BackpressureProcessingDelay, and the drain fires the
// registered ready callback exactly on the cap->cap-1 transition —
// matching canSendWriteWithoutResponse /
// peripheralManagerIsReadyToUpdateSubscribers rather than a periodic
// sweep across every outstanding key.

func wwrKey(centralID, peripheralID string) string { return centralID + "|" + peripheralID }

func notifyKey(peripheralID, charID string) string { return peripheralID + "|" + charID }

// reserveWriteWithoutResponse always admits the write (§4.2.8 step 1)
// and schedules a one-shot drain after BackpressureProcessingDelay.
// Must be called from inside the actor.
func (b *Bus) reserveWriteWithoutResponse(centralID, peripheralID string) {
	if !b.cfg.SimulateBackpressure || b.cfg.MaxWriteWithoutResponseQueue <= 0 {
		return
	}
	key := wwrKey(centralID, peripheralID)
	b.wwrCounters[key]++
	b.scheduleWWRDrain(centralID, peripheralID)
}

func (b *Bus) scheduleWWRDrain(centralID, peripheralID string) {
	delay := b.cfg.BackpressureProcessingDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	time.AfterFunc(delay, func() {
		b.doAsync(func() { b.drainWriteWithoutResponse(centralID, peripheralID) })
	})
}

func (b *Bus) drainWriteWithoutResponse(centralID, peripheralID string) {
	key := wwrKey(centralID, peripheralID)
	count := b.wwrCounters[key]
	if count <= 0 {
		return
	}
	wasAtCap := count == b.cfg.MaxWriteWithoutResponseQueue
	b.wwrCounters[key] = count - 1
	if wasAtCap {
		if cr := b.centrals[centralID]; cr != nil && cr.wwrReadyCB != nil {
			cr.wwrReadyCB(peripheralID)
		}
	}
}

// IsReadyToWriteWithoutResponse reports whether centralID may send
// another write-without-response to peripheralID without its queue
// being at the configured cap, mirroring
// CBPeripheral.canSendWriteWithoutResponse.
func (b *Bus) IsReadyToWriteWithoutResponse(centralID, peripheralID string) (bool, error) {
	var ready bool
	err := b.do(func() error {
		if !b.cfg.SimulateBackpressure || b.cfg.MaxWriteWithoutResponseQueue <= 0 {
			ready = true
			return nil
		}
		ready = b.wwrCounters[wwrKey(centralID, peripheralID)] < b.cfg.MaxWriteWithoutResponseQueue
		return nil
	})
	return ready, err
}

// SetWriteWithoutResponseReadyCallback wires the callback fired when a
// central's write-without-response queue to some peripheral drains
// from the cap down to cap-1.
func (b *Bus) SetWriteWithoutResponseReadyCallback(centralID string, onReady func(peripheralID string)) error {
	return b.do(func() error {
		c, ok := b.centrals[centralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "central %s not registered", centralID)
		}
		c.wwrReadyCB = onReady
		return nil
	})
}

func (b *Bus) clearWriteWithoutResponseQueue(centralID, peripheralID string) {
	delete(b.wwrCounters, wwrKey(centralID, peripheralID))
}

// reserveNotification implements §4.2.6 steps 2-3: reject at the cap,
// otherwise admit and schedule a one-shot drain. Must be called from
// inside the actor.
func (b *Bus) reserveNotification(peripheralID, charID string) bool {
	if !b.cfg.SimulateBackpressure || b.cfg.MaxNotificationQueue <= 0 {
		return true
	}
	key := notifyKey(peripheralID, charID)
	if b.notifyCounters[key] >= b.cfg.MaxNotificationQueue {
		return false
	}
	b.notifyCounters[key]++
	b.scheduleNotificationDrain(peripheralID, charID)
	return true
}

func (b *Bus) scheduleNotificationDrain(peripheralID, charID string) {
	delay := b.cfg.BackpressureProcessingDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	time.AfterFunc(delay, func() {
		b.doAsync(func() { b.drainNotification(peripheralID, charID) })
	})
}

func (b *Bus) drainNotification(peripheralID, charID string) {
	key := notifyKey(peripheralID, charID)
	count := b.notifyCounters[key]
	if count <= 0 {
		return
	}
	wasAtCap := count >= b.cfg.MaxNotificationQueue
	b.notifyCounters[key] = count - 1
	if wasAtCap {
		if p := b.peripherals[peripheralID]; p != nil && p.readyCB != nil {
			p.readyCB()
		}
	}
}

// SetReadyToUpdateSubscribersCallback wires the callback fired when
// any of a peripheral's per-characteristic notification queues drains
// from the cap down to cap-1, matching
// CBPeripheralManagerDelegate.peripheralManagerIsReady(toUpdateSubscribers:).
func (b *Bus) SetReadyToUpdateSubscribersCallback(peripheralID string, onReady func()) error {
	return b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		p.readyCB = onReady
		return nil
	})
}
