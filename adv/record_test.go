package adv

import (
	"testing"

	"github.com/user/blebus/bleuuid"
)

func TestRecordServiceFilter(t *testing.T) {
	svc := bleuuid.MustParse("E621E1F8-C36C-495A-93FC-0C247A3E6E5F")
	r := Record{
		KeyLocalName:    String("Test Peripheral"),
		KeyServiceUUIDs: List(UUIDValue(svc)),
	}

	if !r.MatchesServiceFilter(nil) {
		t.Error("empty filter should match everything")
	}
	if !r.MatchesServiceFilter([]bleuuid.UUID{svc}) {
		t.Error("expected filter to match advertised service")
	}
	other := bleuuid.MustParse("180D")
	if r.MatchesServiceFilter([]bleuuid.UUID{other}) {
		t.Error("filter on unrelated UUID should not match")
	}
}

func TestRecordLocalNameMissing(t *testing.T) {
	r := Record{}
	if _, ok := r.LocalName(); ok {
		t.Error("expected missing local name to report ok=false")
	}
}

func TestRecordClone(t *testing.T) {
	r := Record{KeyLocalName: String("A")}
	c := r.Clone()
	c[KeyLocalName] = String("B")
	if name, _ := r.LocalName(); name != "A" {
		t.Errorf("clone mutation leaked into original: %s", name)
	}
}
