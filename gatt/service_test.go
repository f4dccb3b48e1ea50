package gatt

import (
	"testing"

	"github.com/user/blebus/bleuuid"
)

func TestBuildDatabaseAssignsCCCDToNotifyCharacteristic(t *testing.T) {
	svc := NewService(bleuuid.MustParse("180D"), true)
	hr := svc.AddCharacteristic(bleuuid.MustParse("2A37"), PropRead|PropNotify, []byte{0x00})

	db, handles := BuildDatabase([]*Service{svc})

	info := handles[svc.ID]
	valueHandle, ok := info.CharHandles[hr.ID]
	if !ok {
		t.Fatalf("expected value handle for characteristic")
	}
	cccdHandle, ok := info.CCCDHandles[hr.ID]
	if !ok {
		t.Fatalf("expected an auto-assigned CCCD handle for a notify characteristic")
	}
	if cccdHandle <= valueHandle {
		t.Errorf("expected CCCD handle to come after the value handle")
	}

	attr, err := db.Get(cccdHandle)
	if err != nil {
		t.Fatalf("Get(cccdHandle): %v", err)
	}
	if !attr.Type.Equal(UUIDClientCharacteristicConfig) {
		t.Errorf("expected CCCD descriptor type, got %s", attr.Type)
	}
}

func TestBuildDatabaseSkipsCCCDForReadOnlyCharacteristic(t *testing.T) {
	svc := NewService(bleuuid.MustParse("180A"), true)
	hr := svc.AddCharacteristic(bleuuid.MustParse("2A29"), PropRead, []byte("Acme"))

	_, handles := BuildDatabase([]*Service{svc})
	info := handles[svc.ID]
	if _, ok := info.CCCDHandles[hr.ID]; ok {
		t.Errorf("read-only characteristic should not get a CCCD descriptor")
	}
}

func TestDatabaseGetInvalidHandle(t *testing.T) {
	db := NewDatabase()
	if _, err := db.Get(0x9999); err == nil {
		t.Errorf("expected error for invalid handle")
	}
}

func TestSubscriptionRegistry(t *testing.T) {
	reg := NewSubscriptionRegistry()
	charID := "char-1"

	if err := reg.SetSubscription(charID, "central-a", EncodeCCCDValue(true, false)); err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}
	if err := reg.SetSubscription(charID, "central-b", EncodeCCCDValue(false, true)); err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}

	subs := reg.Subscribers(charID)
	if len(subs) != 2 || subs[0] != "central-a" || subs[1] != "central-b" {
		t.Errorf("expected sorted [central-a central-b], got %v", subs)
	}

	reg.ClearCentral("central-a")
	subs = reg.Subscribers(charID)
	if len(subs) != 1 || subs[0] != "central-b" {
		t.Errorf("expected [central-b] after clearing central-a, got %v", subs)
	}
}
