// Package adv models BLE advertisement/scan-response data as an open
// map of typed fields, generalizing the teacher's fixed
// AdvertisingData struct into the tagged-union value the spec
// requires (a field may hold a string, bytes, a number, a bool, a
// list, a nested dict, or a UUID).
package adv

import "github.com/user/blebus/bleuuid"

// Well-known field keys, named after the CoreBluetooth
// kCBAdvData* constants the teacher's central façade already emits.
const (
	KeyLocalName               = "kCBAdvDataLocalName"
	KeyServiceUUIDs            = "kCBAdvDataServiceUUIDs"
	KeySolicitedServiceUUIDs   = "kCBAdvDataSolicitedServiceUUIDs"
	KeyOverflowServiceUUIDs    = "kCBAdvDataOverflowServiceUUIDs"
	KeyManufacturerData        = "kCBAdvDataManufacturerData"
	KeyServiceData             = "kCBAdvDataServiceData"
	KeyTxPowerLevel            = "kCBAdvDataTxPowerLevel"
	KeyIsConnectable           = "kCBAdvDataIsConnectable"
)

// Kind tags which variant a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindBytes
	KindNumber
	KindBool
	KindList
	KindDict
	KindUUID
)

// Value is a tagged-union advertisement field value.
type Value struct {
	kind   Kind
	str    string
	bytes  []byte
	num    float64
	boolean bool
	list   []Value
	dict   Record
	uuid   bleuuid.UUID
}

func String(s string) Value           { return Value{kind: KindString, str: s} }
func Bytes(b []byte) Value            { return Value{kind: KindBytes, bytes: append([]byte{}, b...)} }
func Number(n float64) Value          { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value               { return Value{kind: KindBool, boolean: b} }
func List(vs ...Value) Value          { return Value{kind: KindList, list: vs} }
func Dict(r Record) Value             { return Value{kind: KindDict, dict: r} }
func UUIDValue(u bleuuid.UUID) Value  { return Value{kind: KindUUID, uuid: u} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.boolean, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) AsDict() (Record, bool) {
	if v.kind != KindDict {
		return nil, false
	}
	return v.dict, true
}

func (v Value) AsUUID() (bleuuid.UUID, bool) {
	if v.kind != KindUUID {
		return bleuuid.Nil, false
	}
	return v.uuid, true
}

// Record is an advertisement payload: an open map of fields. Absent
// optional fields are omitted entirely rather than present with a
// zero Value (Open Question #1 in DESIGN.md), mirroring how the
// teacher's ScanForPeripherals only populates keys it has data for.
type Record map[string]Value

// Clone returns a copy of the record's own map: keys can be added or
// removed on either copy independently, while list and dict values
// still share their backing storage with r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// LocalName is a convenience accessor for the common case.
func (r Record) LocalName() (string, bool) {
	v, ok := r[KeyLocalName]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// ServiceUUIDs is a convenience accessor for the common case.
func (r Record) ServiceUUIDs() []bleuuid.UUID {
	v, ok := r[KeyServiceUUIDs]
	if !ok {
		return nil
	}
	items, ok := v.AsList()
	if !ok {
		return nil
	}
	out := make([]bleuuid.UUID, 0, len(items))
	for _, item := range items {
		if u, ok := item.AsUUID(); ok {
			out = append(out, u)
		}
	}
	return out
}

// IsConnectable is a convenience accessor for the common case.
func (r Record) IsConnectable() bool {
	v, ok := r[KeyIsConnectable]
	if !ok {
		return false
	}
	b, _ := v.AsBool()
	return b
}

// SolicitedServiceUUIDs is a convenience accessor for the common case.
func (r Record) SolicitedServiceUUIDs() []bleuuid.UUID {
	v, ok := r[KeySolicitedServiceUUIDs]
	if !ok {
		return nil
	}
	items, ok := v.AsList()
	if !ok {
		return nil
	}
	out := make([]bleuuid.UUID, 0, len(items))
	for _, item := range items {
		if u, ok := item.AsUUID(); ok {
			out = append(out, u)
		}
	}
	return out
}

// MatchesServiceFilter reports whether this record advertises at
// least one of the given service UUIDs, or reports true
// unconditionally when the filter is empty — the same semantics the
// teacher's ScanForPeripherals(withServices, ...) argument has.
func (r Record) MatchesServiceFilter(filter []bleuuid.UUID) bool {
	return matchesUUIDFilter(r.ServiceUUIDs(), filter)
}

// MatchesSolicitedFilter reports whether this record's
// solicited-service-UUIDs intersect filter, with the same
// empty-filter-matches-everything semantics as MatchesServiceFilter.
func (r Record) MatchesSolicitedFilter(filter []bleuuid.UUID) bool {
	return matchesUUIDFilter(r.SolicitedServiceUUIDs(), filter)
}

func matchesUUIDFilter(advertised, filter []bleuuid.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		for _, have := range advertised {
			if want.Equal(have) {
				return true
			}
		}
	}
	return false
}

// WithAutoGeneratedFields returns a clone of r with tx-power-level
// synthesized uniformly via txPower (expected to draw from [-12,-4])
// and is-connectable set to true, whichever of the two keys r doesn't
// already carry — the delivery-time synthesis AutoGenerateAdvertisementFields
// enables (§4.2.2 step 4). The original record, and the caller-supplied
// keys on it, are never mutated.
func (r Record) WithAutoGeneratedFields(txPower func() int) Record {
	out := r.Clone()
	if _, ok := out[KeyTxPowerLevel]; !ok {
		out[KeyTxPowerLevel] = Number(float64(txPower()))
	}
	if _, ok := out[KeyIsConnectable]; !ok {
		out[KeyIsConnectable] = Bool(true)
	}
	return out
}
