package bleuuid

import "testing"

func TestParseShort(t *testing.T) {
	u, err := Parse("2902")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Width() != 2 {
		t.Fatalf("expected width 2, got %d", u.Width())
	}
	if u.String() != "2902" {
		t.Errorf("expected 2902, got %s", u.String())
	}
}

func TestParseLong(t *testing.T) {
	u, err := Parse("E621E1F8-C36C-495A-93FC-0C247A3E6E5F")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Width() != 16 {
		t.Fatalf("expected width 16, got %d", u.Width())
	}
}

func TestShortEqualsExpandedLong(t *testing.T) {
	short := From16(0x2902)
	long := From128(short.Full())
	if !short.Equal(long) {
		t.Errorf("expected short UUID to equal its 128-bit expansion")
	}
}

func TestNilUUID(t *testing.T) {
	if !Nil.IsNil() {
		t.Error("Nil.IsNil() should be true")
	}
	u := From16(0x180D)
	if u.Equal(Nil) {
		t.Error("non-nil UUID should not equal Nil")
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Error("expected error parsing invalid uuid")
	}
}
