// Package atterr defines the ATT and connection error taxonomy the
// Bus raises for attribute operations and connection lifecycle
// events, matching the Bluetooth Core Spec ATT error codes and the
// CoreBluetooth CBError family.
package atterr

import "github.com/pkg/errors"

// ATTCode is one of the Bluetooth Core Spec v5.3 Vol 3, Part F ATT
// error codes.
type ATTCode uint8

const (
	ATTInvalidHandle                ATTCode = 0x01
	ATTReadNotPermitted             ATTCode = 0x02
	ATTWriteNotPermitted            ATTCode = 0x03
	ATTInvalidPDU                   ATTCode = 0x04
	ATTInsufficientAuthentication   ATTCode = 0x05
	ATTRequestNotSupported          ATTCode = 0x06
	ATTInvalidOffset                ATTCode = 0x07
	ATTInsufficientAuthorization    ATTCode = 0x08
	ATTPrepareQueueFull             ATTCode = 0x09
	ATTAttributeNotFound            ATTCode = 0x0A
	ATTAttributeNotLong             ATTCode = 0x0B
	ATTInsufficientEncryptionKeySize ATTCode = 0x0C
	ATTInvalidAttributeValueLength  ATTCode = 0x0D
	ATTUnlikelyError                ATTCode = 0x0E
	ATTInsufficientEncryption       ATTCode = 0x0F
	ATTUnsupportedGroupType         ATTCode = 0x10
	ATTInsufficientResources        ATTCode = 0x11
)

var attNames = map[ATTCode]string{
	ATTInvalidHandle:                 "invalid handle",
	ATTReadNotPermitted:              "read not permitted",
	ATTWriteNotPermitted:             "write not permitted",
	ATTInvalidPDU:                    "invalid PDU",
	ATTInsufficientAuthentication:    "insufficient authentication",
	ATTRequestNotSupported:           "request not supported",
	ATTInvalidOffset:                 "invalid offset",
	ATTInsufficientAuthorization:     "insufficient authorization",
	ATTPrepareQueueFull:              "prepare queue full",
	ATTAttributeNotFound:             "attribute not found",
	ATTAttributeNotLong:              "attribute not long",
	ATTInsufficientEncryptionKeySize: "insufficient encryption key size",
	ATTInvalidAttributeValueLength:   "invalid attribute value length",
	ATTUnlikelyError:                 "unlikely error",
	ATTInsufficientEncryption:        "insufficient encryption",
	ATTUnsupportedGroupType:          "unsupported group type",
	ATTInsufficientResources:         "insufficient resources",
}

// ATTError is a sentinel-comparable ATT error. Two ATTErrors with the
// same Code satisfy errors.Is regardless of Handle.
type ATTError struct {
	Code   ATTCode
	Handle uint16
}

func (e *ATTError) Error() string {
	name, ok := attNames[e.Code]
	if !ok {
		name = "unknown ATT error"
	}
	return name
}

func (e *ATTError) Is(target error) bool {
	t, ok := target.(*ATTError)
	return ok && t.Code == e.Code
}

// NewATTError builds a handle-scoped ATT error and wraps it with a
// stack-carrying annotation, the way Krajiyah-ble-sdk's pkg/server
// wraps low-level failures before returning them to the caller.
func NewATTError(code ATTCode, handle uint16) error {
	return errors.WithStack(&ATTError{Code: code, Handle: handle})
}

// Sentinel ATT errors for callers that don't need a handle.
var (
	ErrInvalidHandle                = &ATTError{Code: ATTInvalidHandle}
	ErrReadNotPermitted             = &ATTError{Code: ATTReadNotPermitted}
	ErrWriteNotPermitted            = &ATTError{Code: ATTWriteNotPermitted}
	ErrInvalidPDU                   = &ATTError{Code: ATTInvalidPDU}
	ErrInsufficientAuthentication   = &ATTError{Code: ATTInsufficientAuthentication}
	ErrRequestNotSupported          = &ATTError{Code: ATTRequestNotSupported}
	ErrInvalidOffset                = &ATTError{Code: ATTInvalidOffset}
	ErrInsufficientAuthorization    = &ATTError{Code: ATTInsufficientAuthorization}
	ErrPrepareQueueFull             = &ATTError{Code: ATTPrepareQueueFull}
	ErrAttributeNotFound            = &ATTError{Code: ATTAttributeNotFound}
	ErrAttributeNotLong             = &ATTError{Code: ATTAttributeNotLong}
	ErrInsufficientEncryptionKeySize = &ATTError{Code: ATTInsufficientEncryptionKeySize}
	ErrInvalidAttributeValueLength  = &ATTError{Code: ATTInvalidAttributeValueLength}
	ErrUnlikelyError                = &ATTError{Code: ATTUnlikelyError}
	ErrInsufficientEncryption       = &ATTError{Code: ATTInsufficientEncryption}
	ErrUnsupportedGroupType         = &ATTError{Code: ATTUnsupportedGroupType}
	ErrInsufficientResources        = &ATTError{Code: ATTInsufficientResources}
)

// CodeOf extracts the ATTCode from err, if it (or something it wraps)
// is an *ATTError.
func CodeOf(err error) (ATTCode, bool) {
	var att *ATTError
	if errors.As(err, &att) {
		return att.Code, true
	}
	return 0, false
}
