package atterr

import (
	"errors"
	"testing"
)

func TestATTErrorIs(t *testing.T) {
	err := NewATTError(ATTReadNotPermitted, 0x0012)
	if !errors.Is(err, ErrReadNotPermitted) {
		t.Errorf("expected errors.Is to match ErrReadNotPermitted")
	}
	if errors.Is(err, ErrWriteNotPermitted) {
		t.Errorf("did not expect match against a different code")
	}
}

func TestCodeOf(t *testing.T) {
	err := NewATTError(ATTInvalidHandle, 0x0001)
	code, ok := CodeOf(err)
	if !ok || code != ATTInvalidHandle {
		t.Errorf("CodeOf returned (%v, %v), want (ATTInvalidHandle, true)", code, ok)
	}
}

func TestConnCodeOf(t *testing.T) {
	wrapped := Wrap(ErrNotConnected, "writing characteristic")
	code, ok := ConnCodeOf(wrapped)
	if !ok || code != ConnNotConnected {
		t.Errorf("ConnCodeOf returned (%v, %v), want (ConnNotConnected, true)", code, ok)
	}
}
