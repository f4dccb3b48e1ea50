package bus

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"
	"github.com/pkg/errors"
	"github.com/user/blebus/adv"
	"github.com/user/blebus/atterr"
	"github.com/user/blebus/gatt"
)

// RegisterCentral adds a new central manager identity to the Bus
// (§4.2.1). id is normally a UUID minted by the central façade.
func (b *Bus) RegisterCentral(id string) error {
	return b.do(func() error {
		if _, exists := b.centrals[id]; exists {
			return errors.Wrapf(atterr.ErrInvalidParameters, "central %s already registered", id)
		}
		b.centrals[id] = &centralRecord{
			id:         id,
			discovered: make(map[string]adv.Record),
			delivered:  mapset.NewSet(),
			connected:  mapset.NewSet(),
		}
		b.log(tag("central", id), "registered")
		return nil
	})
}

// RegisterPeripheral adds a new peripheral manager identity to the
// Bus along with the GATT services it serves (§4.2.1). Every
// notify/indicate characteristic gets an implicit CCCD descriptor if
// it wasn't given one explicitly.
func (b *Bus) RegisterPeripheral(id string, services []*gatt.Service) error {
	return b.do(func() error {
		if _, exists := b.peripherals[id]; exists {
			return errors.Wrapf(atterr.ErrInvalidParameters, "peripheral %s already registered", id)
		}
		db, handles := gatt.BuildDatabase(services)
		b.peripherals[id] = &peripheralRecord{
			id:        id,
			db:        db,
			services:  services,
			handles:   handles,
			subs:      gatt.NewSubscriptionRegistry(),
			l2capPSMs: make(map[uint16]bool),
		}
		b.log(tag("peripheral", id), "registered with %d service(s)", len(services))
		return nil
	})
}

// Unregister removes a manager identity and tears down any
// connections/scans/advertisements it owned.
func (b *Bus) Unregister(id string) error {
	return b.do(func() error {
		if _, ok := b.centrals[id]; ok {
			b.cancelTask(scanTaskName(id))
			delete(b.centrals, id)
		}
		if _, ok := b.peripherals[id]; ok {
			b.cancelTask(advertiseTaskName(id))
			delete(b.peripherals, id)
		}
		for key, c := range b.connections {
			if c.centralID == id || c.peripheralID == id {
				delete(b.connections, key)
			}
		}
		return nil
	})
}

func tag(role, id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s:%s", role, id)
}
