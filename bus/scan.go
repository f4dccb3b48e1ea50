package bus

import (
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/bradfitz/slice"
	"github.com/pkg/errors"
	"github.com/user/blebus/adv"
	"github.com/user/blebus/atterr"
	"github.com/user/blebus/bleuuid"
)

func scanTaskName(centralID string) string { return "scan:" + centralID }

// StartScan begins scanning for peripherals advertising at least one
// of serviceFilter's UUIDs (or everything, if serviceFilter is
// empty), generalizing teacher wire/discovery.go's ticker-driven
// StartDiscovery loop from a bare deviceUUID callback to a full
// adv.Record + RSSI callback (§4.2.2). opts controls whether every
// advertisement is delivered or only the first per peripheral, and
// which solicited-service-UUID filter applies, each subject to the
// corresponding ScanHonor* config gate.
func (b *Bus) StartScan(centralID string, serviceFilter []bleuuid.UUID, opts ScanOptions, onDiscover func(peripheralID string, record adv.Record, rssi int)) error {
	return b.do(func() error {
		c, ok := b.centrals[centralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "central %s not registered", centralID)
		}
		c.scanning = true
		c.scanFilter = serviceFilter
		c.scanOptions = opts
		c.discoverCB = onDiscover
		c.delivered = mapset.NewSet()

		stop := make(chan struct{})
		b.registerTask(scanTaskName(centralID), stop)

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
					b.doAsync(func() { b.scanTick(centralID) })
				}
			}
		}()
		return nil
	})
}

// scanTick runs on the actor goroutine and applies the scan matcher
// in the order a real central does (§4.2.2): service filter, then
// solicited-service filter, then duplicate suppression against what
// this central has already been delivered this scan session, then
// advertisement-field synthesis, then RSSI, then delivery.
func (b *Bus) scanTick(centralID string) {
	c, ok := b.centrals[centralID]
	if !ok || !c.scanning {
		return
	}
	allowDuplicates := c.scanOptions.AllowDuplicates && b.cfg.ScanHonorAllowDuplicates
	solicited := c.scanOptions.SolicitedServiceUUIDs
	if !b.cfg.ScanHonorSolicitedServiceUUIDs {
		solicited = nil
	}

	for pid, p := range b.peripherals {
		if !p.advertising {
			continue
		}
		if !p.advRecord.MatchesServiceFilter(c.scanFilter) {
			continue
		}
		if len(solicited) > 0 && !p.advRecord.MatchesSolicitedFilter(solicited) {
			continue
		}
		if !allowDuplicates && c.delivered.Contains(pid) {
			continue
		}

		record := p.advRecord.Clone()
		if b.cfg.AutoGenerateAdvertisementFields {
			record = record.WithAutoGeneratedFields(b.synthesizeTxPower)
		}

		c.discovered[pid] = record
		c.delivered.Add(pid)
		rssi := b.simulateRSSI()
		if c.discoverCB != nil {
			c.discoverCB(pid, record, rssi)
		}
	}
}

// synthesizeTxPower draws a plausible tx-power-level uniformly from
// [-12,-4] dBm, the range AutoGenerateAdvertisementFields fills in
// when a peripheral didn't set one explicitly.
func (b *Bus) synthesizeTxPower() int {
	return -12 + b.rng.Intn(9)
}

func (b *Bus) simulateRSSI() int {
	if !b.cfg.EnableRSSI {
		return b.cfg.BaseRSSI
	}
	variance := 0
	if b.cfg.RSSIVariance > 0 {
		variance = b.rng.Intn(b.cfg.RSSIVariance*2) - b.cfg.RSSIVariance
	}
	rssi := b.cfg.BaseRSSI + variance
	if rssi < -100 {
		rssi = -100
	} else if rssi > -20 {
		rssi = -20
	}
	return rssi
}

// StopScan cancels a central's scan loop and clears its
// already-delivered set, so a later StartScan starts discovery fresh
// (§4.2.2 cancellation).
func (b *Bus) StopScan(centralID string) error {
	return b.do(func() error {
		c, ok := b.centrals[centralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "central %s not registered", centralID)
		}
		c.scanning = false
		c.delivered = mapset.NewSet()
		b.cancelTask(scanTaskName(centralID))
		return nil
	})
}

// DiscoveredPeripherals returns a sorted snapshot of peripheral IDs
// this central has seen since it registered or since the last Reset;
// starting or stopping a scan does not clear it.
func (b *Bus) DiscoveredPeripherals(centralID string) ([]string, error) {
	var out []string
	err := b.do(func() error {
		c, ok := b.centrals[centralID]
		if !ok {
			return errors.Wrapf(atterr.ErrUnknownDevice, "central %s not registered", centralID)
		}
		for id := range c.discovered {
			out = append(out, id)
		}
		slice.Sort(out, func(i, j int) bool { return out[i] < out[j] })
		return nil
	})
	return out, err
}
