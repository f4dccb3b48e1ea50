package atterr

import "github.com/pkg/errors"

// ConnCode mirrors CoreBluetooth's CBError family — failures that
// happen above the ATT layer, during connection setup/teardown,
// pairing, or central/peripheral-manager misuse.
type ConnCode int

const (
	ConnUnknown                       ConnCode = 0
	ConnInvalidParameters              ConnCode = 1
	ConnInvalidHandle                  ConnCode = 2
	ConnNotConnected                   ConnCode = 3
	ConnOutOfSpace                     ConnCode = 4
	ConnOperationCancelled             ConnCode = 5
	ConnConnectionTimeout              ConnCode = 6
	ConnPeripheralDisconnected         ConnCode = 7
	ConnUUIDNotAllowed                 ConnCode = 8
	ConnAlreadyAdvertising             ConnCode = 9
	ConnConnectionFailed               ConnCode = 10
	ConnConnectionLimitReached         ConnCode = 11
	ConnUnknownDevice                  ConnCode = 12
	ConnOperationNotSupported          ConnCode = 13
	ConnPeerRemovedPairingInformation  ConnCode = 14
	ConnEncryptionTimedOut             ConnCode = 15
	ConnAlreadyConnected                ConnCode = 16
	ConnNotConnectable                  ConnCode = 17
	ConnTooManyLEPairedDevices          ConnCode = 18
	ConnNotPoweredOn                    ConnCode = 19
)

var connNames = map[ConnCode]string{
	ConnUnknown:                      "unknown error",
	ConnInvalidParameters:            "invalid parameters",
	ConnInvalidHandle:                "invalid handle",
	ConnNotConnected:                 "not connected",
	ConnOutOfSpace:                   "out of space",
	ConnOperationCancelled:           "operation cancelled",
	ConnConnectionTimeout:            "connection timeout",
	ConnPeripheralDisconnected:       "peripheral disconnected",
	ConnUUIDNotAllowed:               "uuid not allowed",
	ConnAlreadyAdvertising:           "already advertising",
	ConnConnectionFailed:             "connection failed",
	ConnConnectionLimitReached:       "connection limit reached",
	ConnUnknownDevice:                "unknown device",
	ConnOperationNotSupported:        "operation not supported",
	ConnPeerRemovedPairingInformation: "peer removed pairing information",
	ConnEncryptionTimedOut:           "encryption timed out",
	ConnAlreadyConnected:             "already connected",
	ConnNotConnectable:               "not connectable",
	ConnTooManyLEPairedDevices:       "too many LE paired devices",
	ConnNotPoweredOn:                 "not powered on",
}

// ConnError is a sentinel-comparable connection-lifecycle error.
type ConnError struct {
	Code ConnCode
}

func (e *ConnError) Error() string {
	name, ok := connNames[e.Code]
	if !ok {
		name = "unknown connection error"
	}
	return name
}

func (e *ConnError) Is(target error) bool {
	t, ok := target.(*ConnError)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidParameters             = &ConnError{Code: ConnInvalidParameters}
	ErrConnInvalidHandle             = &ConnError{Code: ConnInvalidHandle}
	ErrNotConnected                  = &ConnError{Code: ConnNotConnected}
	ErrOutOfSpace                    = &ConnError{Code: ConnOutOfSpace}
	ErrOperationCancelled            = &ConnError{Code: ConnOperationCancelled}
	ErrConnectionTimeout             = &ConnError{Code: ConnConnectionTimeout}
	ErrPeripheralDisconnected        = &ConnError{Code: ConnPeripheralDisconnected}
	ErrUUIDNotAllowed                = &ConnError{Code: ConnUUIDNotAllowed}
	ErrAlreadyAdvertising            = &ConnError{Code: ConnAlreadyAdvertising}
	ErrConnectionFailed              = &ConnError{Code: ConnConnectionFailed}
	ErrConnectionLimitReached        = &ConnError{Code: ConnConnectionLimitReached}
	ErrUnknownDevice                 = &ConnError{Code: ConnUnknownDevice}
	ErrOperationNotSupported         = &ConnError{Code: ConnOperationNotSupported}
	ErrPeerRemovedPairingInformation = &ConnError{Code: ConnPeerRemovedPairingInformation}
	ErrEncryptionTimedOut            = &ConnError{Code: ConnEncryptionTimedOut}
	ErrAlreadyConnected              = &ConnError{Code: ConnAlreadyConnected}
	ErrNotConnectable                = &ConnError{Code: ConnNotConnectable}
	ErrTooManyLEPairedDevices        = &ConnError{Code: ConnTooManyLEPairedDevices}
	ErrNotPoweredOn                  = &ConnError{Code: ConnNotPoweredOn}
)

// Wrap annotates err with msg using pkg/errors, preserving Is/As
// compatibility with the sentinels above.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// ConnCodeOf extracts the ConnCode from err, if it (or something it
// wraps) is a *ConnError.
func ConnCodeOf(err error) (ConnCode, bool) {
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}
