package bus

import (
	"time"

	"github.com/pkg/errors"
	"github.com/user/blebus/atterr"
)

func pairingKey(centralID, peripheralID string) string { return centralID + "|" + peripheralID }

// checkPairingGate enforces RequirePairingForEncryptedAttributes
// against an already-established pairing set. It does not itself
// trigger pairing — callers that need an encrypted attribute and
// aren't paired yet get ATTInsufficientAuthentication back, matching
// what a real ATT server does when a client reads/writes an encrypted
// characteristic before pairing.
func (b *Bus) checkPairingGate(centralID, peripheralID string) error {
	if !b.cfg.RequirePairingForEncryptedAttributes {
		return nil
	}
	if b.pairing.paired.Contains(pairingKey(centralID, peripheralID)) {
		return nil
	}
	return errors.WithStack(atterr.ErrInsufficientAuthentication)
}

// Pair runs the simulated (non-cryptographic) bonding handshake
// between a central and peripheral, honoring the configured
// PairingDelay and PairingFailureRate (§4.2.7). A successful pairing
// only lasts for the current connection — Disconnect clears it, the
// same way a central has to re-pair if the bond information was never
// persisted to its own keychain.
func (b *Bus) Pair(centralID, peripheralID string) error {
	if _, _, err := b.lookupPair(centralID, peripheralID); err != nil {
		return err
	}

	if !b.cfg.SimulatePairing {
		return b.do(func() error {
			b.pairing.paired.Add(pairingKey(centralID, peripheralID))
			return nil
		})
	}

	if b.cfg.PairingDelay > 0 {
		time.Sleep(b.cfg.PairingDelay)
	}

	var fail bool
	err := b.do(func() error {
		fail = b.cfg.PairingFailureRate > 0 && b.rng.Float64() < b.cfg.PairingFailureRate
		if fail {
			return errors.WithStack(atterr.ErrEncryptionTimedOut)
		}
		b.pairing.paired.Add(pairingKey(centralID, peripheralID))
		return nil
	})
	return err
}

// IsPaired reports whether a central and peripheral have an active
// simulated bond.
func (b *Bus) IsPaired(centralID, peripheralID string) (bool, error) {
	var out bool
	err := b.do(func() error {
		out = b.pairing.paired.Contains(pairingKey(centralID, peripheralID))
		return nil
	})
	return out, err
}

// Unpair removes a bond, e.g. in response to a simulated "forget this
// device" action.
func (b *Bus) Unpair(centralID, peripheralID string) error {
	return b.do(func() error {
		b.pairing.paired.Remove(pairingKey(centralID, peripheralID))
		return nil
	})
}
