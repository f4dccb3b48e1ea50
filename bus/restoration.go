package bus

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/user/blebus/adv"
	"github.com/user/blebus/bleuuid"
)

// peripheralRestorationBlob is what SavePeripheralState persists and
// RestorePeripheralState decodes, matching the restored-services and
// restored-advertisement-data entries CBPeripheralManagerDelegate's
// willRestoreState dictionary carries (§6.3). UUIDs are carried as
// strings rather than bleuuid.UUID directly since bleuuid.UUID has no
// JSON codec of its own.
type peripheralRestorationBlob struct {
	PeripheralID   string     `json:"peripheralId"`
	Services       []string   `json:"restored-services"`
	Advertisement  adv.Record `json:"restored-advertisement-data"`
	Connectable    bool       `json:"connectable"`
	WasAdvertising bool       `json:"wasAdvertising"`
}

// centralRestorationBlob is what SaveCentralState persists and
// RestoreCentralState decodes, matching the restored-peripherals and
// restored-scan-services entries CBCentralManagerDelegate's
// willRestoreState dictionary carries (§6.3).
type centralRestorationBlob struct {
	CentralID           string   `json:"centralId"`
	Peripherals         []string `json:"restored-peripherals"`
	ScanServices        []string `json:"restored-scan-services"`
	ScanAllowDuplicates bool     `json:"restored-scan-options-allow-duplicates"`
}

// RestoredPeripheralState is RestorePeripheralState's decoded result,
// handed to a peripheral façade's willRestoreState delegate call
// before its manager reaches poweredOn (§4.2.11, testable property #11).
type RestoredPeripheralState struct {
	Services       []bleuuid.UUID
	Advertisement  adv.Record
	Connectable    bool
	WasAdvertising bool
}

// RestoredCentralState is RestoreCentralState's decoded result, handed
// to a central façade's willRestoreState delegate call before its
// manager reaches poweredOn.
type RestoredCentralState struct {
	PeripheralIDs       []string
	ScanServices        []bleuuid.UUID
	ScanAllowDuplicates bool
}

// SavePeripheralState persists a peripheral's current GATT service
// UUIDs, advertisement data, and advertising status under restoreID,
// gated by RestorationEnabled, matching CBPeripheralManager's
// automatic state preservation for a manager constructed with a
// restoration identifier (§4.2.11).
func (b *Bus) SavePeripheralState(peripheralID, restoreID string) error {
	return b.do(func() error {
		if !b.cfg.RestorationEnabled {
			return nil
		}
		p, ok := b.peripherals[peripheralID]
		if !ok {
			return errors.Errorf("peripheral %s not registered", peripheralID)
		}
		blob := peripheralRestorationBlob{
			PeripheralID:   peripheralID,
			Advertisement:  p.advRecord.Clone(),
			Connectable:    p.connectable,
			WasAdvertising: p.advertising,
		}
		for _, s := range p.services {
			blob.Services = append(blob.Services, s.UUID.String())
		}
		data, err := json.Marshal(blob)
		if err != nil {
			return errors.Wrap(err, "marshal peripheral restoration blob")
		}
		return b.restoreStore.Save(restoreID, data)
	})
}

// SaveCentralState persists a central's connected peripherals and
// active scan filter under restoreID, gated by RestorationEnabled,
// matching CBCentralManager's automatic state preservation for a
// manager constructed with a restoration identifier (§4.2.11).
func (b *Bus) SaveCentralState(centralID, restoreID string) error {
	return b.do(func() error {
		if !b.cfg.RestorationEnabled {
			return nil
		}
		c, ok := b.centrals[centralID]
		if !ok {
			return errors.Errorf("central %s not registered", centralID)
		}
		blob := centralRestorationBlob{
			CentralID:           centralID,
			ScanAllowDuplicates: c.scanOptions.AllowDuplicates,
		}
		for _, member := range c.connected.ToSlice() {
			blob.Peripherals = append(blob.Peripherals, member.(string))
		}
		for _, u := range c.scanFilter {
			blob.ScanServices = append(blob.ScanServices, u.String())
		}
		data, err := json.Marshal(blob)
		if err != nil {
			return errors.Wrap(err, "marshal central restoration blob")
		}
		return b.restoreStore.Save(restoreID, data)
	})
}

// RestorePeripheralState loads a previously saved peripheral
// restoration blob, if any, decoding every service UUID back from its
// string form. A false second return means nothing was ever saved
// under restoreID.
func (b *Bus) RestorePeripheralState(restoreID string) (RestoredPeripheralState, bool, error) {
	var out RestoredPeripheralState
	var found bool
	err := b.do(func() error {
		data, ok, loadErr := b.restoreStore.Load(restoreID)
		if loadErr != nil {
			return errors.Wrap(loadErr, "load peripheral restoration blob")
		}
		if !ok {
			return nil
		}
		var blob peripheralRestorationBlob
		if unmarshalErr := json.Unmarshal(data, &blob); unmarshalErr != nil {
			return errors.Wrap(unmarshalErr, "unmarshal peripheral restoration blob")
		}
		for _, s := range blob.Services {
			u, parseErr := bleuuid.Parse(s)
			if parseErr != nil {
				return errors.Wrap(parseErr, "parse restored service uuid")
			}
			out.Services = append(out.Services, u)
		}
		out.Advertisement = blob.Advertisement
		out.Connectable = blob.Connectable
		out.WasAdvertising = blob.WasAdvertising
		found = true
		return nil
	})
	return out, found, err
}

// RestoreCentralState loads a previously saved central restoration
// blob, if any, decoding every scan-service UUID back from its string
// form. A false second return means nothing was ever saved under
// restoreID.
func (b *Bus) RestoreCentralState(restoreID string) (RestoredCentralState, bool, error) {
	var out RestoredCentralState
	var found bool
	err := b.do(func() error {
		data, ok, loadErr := b.restoreStore.Load(restoreID)
		if loadErr != nil {
			return errors.Wrap(loadErr, "load central restoration blob")
		}
		if !ok {
			return nil
		}
		var blob centralRestorationBlob
		if unmarshalErr := json.Unmarshal(data, &blob); unmarshalErr != nil {
			return errors.Wrap(unmarshalErr, "unmarshal central restoration blob")
		}
		for _, s := range blob.ScanServices {
			u, parseErr := bleuuid.Parse(s)
			if parseErr != nil {
				return errors.Wrap(parseErr, "parse restored scan service uuid")
			}
			out.ScanServices = append(out.ScanServices, u)
		}
		out.PeripheralIDs = blob.Peripherals
		out.ScanAllowDuplicates = blob.ScanAllowDuplicates
		found = true
		return nil
	})
	return out, found, err
}
