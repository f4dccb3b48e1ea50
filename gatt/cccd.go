package gatt

import (
	"encoding/binary"

	mapset "github.com/deckarep/golang-set"
	"github.com/pkg/errors"
	"github.com/user/blebus/atterr"
)

// CCCD values written by a client to enable/disable notifications and
// indications for one characteristic, on one connection.
const (
	CCCDNotificationsDisabled = 0x0000
	CCCDNotificationsEnabled  = 0x0001
	CCCDIndicationsEnabled    = 0x0002
)

// SubscriptionState is one central's subscription to one
// characteristic.
type SubscriptionState struct {
	NotifyEnabled   bool
	IndicateEnabled bool
}

// SubscriptionRegistry tracks, per characteristic ID, the set of
// centrals subscribed to it. Unlike the teacher's CCCDManager (which
// only ever tracked one peer because wire.Wire modeled a single
// connection), the Bus needs the full subscriber set per
// characteristic, which is exactly the golang-set use case
// Krajiyah-ble-sdk's pkg/util reaches for.
type SubscriptionRegistry struct {
	// characteristic ID -> central ID -> state
	byChar map[string]map[string]SubscriptionState
	// characteristic ID -> set of subscribed (notify or indicate) central IDs
	subscribers map[string]mapset.Set
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		byChar:      make(map[string]map[string]SubscriptionState),
		subscribers: make(map[string]mapset.Set),
	}
}

// SetSubscription applies a CCCD write from centralID for a
// characteristic, decoding the 2-byte little-endian value a client
// wrote to the CCCD descriptor.
func (r *SubscriptionRegistry) SetSubscription(charID, centralID string, cccdValue []byte) error {
	if len(cccdValue) != 2 {
		return errors.WithStack(atterr.NewATTError(atterr.ATTInvalidAttributeValueLength, 0))
	}
	value := binary.LittleEndian.Uint16(cccdValue)
	state := SubscriptionState{
		NotifyEnabled:   value&CCCDNotificationsEnabled != 0,
		IndicateEnabled: value&CCCDIndicationsEnabled != 0,
	}

	states, ok := r.byChar[charID]
	if !ok {
		states = make(map[string]SubscriptionState)
		r.byChar[charID] = states
	}

	subs, ok := r.subscribers[charID]
	if !ok {
		subs = mapset.NewSet()
		r.subscribers[charID] = subs
	}

	if !state.NotifyEnabled && !state.IndicateEnabled {
		delete(states, centralID)
		subs.Remove(centralID)
		return nil
	}
	states[centralID] = state
	subs.Add(centralID)
	return nil
}

// Get returns the subscription state a given central has for a
// characteristic.
func (r *SubscriptionRegistry) Get(charID, centralID string) (SubscriptionState, bool) {
	states, ok := r.byChar[charID]
	if !ok {
		return SubscriptionState{}, false
	}
	s, ok := states[centralID]
	return s, ok
}

// Subscribers returns the IDs of every central currently subscribed
// (notify or indicate) to a characteristic, sorted for deterministic
// iteration via bradfitz/slice.
func (r *SubscriptionRegistry) Subscribers(charID string) []string {
	subs, ok := r.subscribers[charID]
	if !ok {
		return nil
	}
	return sortedStrings(subs.ToSlice())
}

// ClearCentral removes every subscription belonging to centralID, e.g.
// when that central disconnects, and returns the IDs of the
// characteristics it had been subscribed to so a caller can notify
// about the implicit unsubscribe.
func (r *SubscriptionRegistry) ClearCentral(centralID string) []string {
	var cleared []string
	for charID, states := range r.byChar {
		if _, ok := states[centralID]; !ok {
			continue
		}
		delete(states, centralID)
		if subs, ok := r.subscribers[charID]; ok {
			subs.Remove(centralID)
		}
		cleared = append(cleared, charID)
	}
	return cleared
}

// EncodeCCCDValue converts notify/indicate flags to CCCD wire bytes.
func EncodeCCCDValue(notifyEnabled, indicateEnabled bool) []byte {
	var value uint16
	if notifyEnabled {
		value |= CCCDNotificationsEnabled
	}
	if indicateEnabled {
		value |= CCCDIndicationsEnabled
	}
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, value)
	return out
}
