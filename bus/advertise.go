package bus

import (
	"time"

	"github.com/pkg/errors"
	"github.com/user/blebus/adv"
	"github.com/user/blebus/atterr"
)

func advertiseTaskName(peripheralID string) string { return "advertise:" + peripheralID }

// StartAdvertising makes a registered peripheral visible to scanning
// centrals with the given advertisement record, mirroring teacher
// wire/advertising.go's StartAdvertising but generalized from a fixed
// service-UUID list to a full adv.Record (§4.2.3). connectable governs
// whether centrals may Connect to this peripheral while advertising.
func (b *Bus) StartAdvertising(peripheralID string, record adv.Record, connectable bool) error {
	return b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		p.advertising = true
		p.advRecord = record.Clone()
		p.connectable = connectable

		stop := make(chan struct{})
		b.registerTask(advertiseTaskName(peripheralID), stop)

		interval := b.cfg.AdvertisingInterval
		if interval <= 0 {
			interval = time.Millisecond
		}

		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					// advertising is a passive state change, visible to
					// centrals through scanTick; the ticker exists so the
					// task registry has something to cancel and so future
					// work (advertisement rotation, timed expiry) has a
					// place to live.
				}
			}
		}()
		return nil
	})
}

// StopAdvertising cancels a peripheral's advertising loop.
func (b *Bus) StopAdvertising(peripheralID string) error {
	return b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		p.advertising = false
		b.cancelTask(advertiseTaskName(peripheralID))
		return nil
	})
}

// IsAdvertising reports whether a peripheral is currently advertising.
func (b *Bus) IsAdvertising(peripheralID string) (bool, error) {
	var out bool
	err := b.do(func() error {
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "peripheral %s not registered", peripheralID)
		}
		out = p.advertising
		return nil
	})
	return out, err
}
