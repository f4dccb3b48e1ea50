package adv

import (
	"encoding/json"
	"fmt"

	"github.com/user/blebus/bleuuid"
)

// wireValue is the JSON-able shadow of Value, used only so a Record
// can round-trip through restore.Store's opaque []byte blobs (§6.3).
type wireValue struct {
	Kind  Kind                 `json:"kind"`
	Str   string               `json:"str,omitempty"`
	Bytes []byte               `json:"bytes,omitempty"`
	Num   float64              `json:"num,omitempty"`
	Bool  bool                 `json:"bool,omitempty"`
	List  []wireValue          `json:"list,omitempty"`
	Dict  map[string]wireValue `json:"dict,omitempty"`
	UUID  string               `json:"uuid,omitempty"`
}

func toWire(v Value) wireValue {
	w := wireValue{Kind: v.kind}
	switch v.kind {
	case KindString:
		w.Str = v.str
	case KindBytes:
		w.Bytes = v.bytes
	case KindNumber:
		w.Num = v.num
	case KindBool:
		w.Bool = v.boolean
	case KindList:
		w.List = make([]wireValue, len(v.list))
		for i, item := range v.list {
			w.List[i] = toWire(item)
		}
	case KindDict:
		w.Dict = make(map[string]wireValue, len(v.dict))
		for k, item := range v.dict {
			w.Dict[k] = toWire(item)
		}
	case KindUUID:
		w.UUID = v.uuid.String()
	}
	return w
}

func fromWire(w wireValue) (Value, error) {
	switch w.Kind {
	case KindString:
		return String(w.Str), nil
	case KindBytes:
		return Bytes(w.Bytes), nil
	case KindNumber:
		return Number(w.Num), nil
	case KindBool:
		return Bool(w.Bool), nil
	case KindList:
		items := make([]Value, len(w.List))
		for i, item := range w.List {
			v, err := fromWire(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case KindDict:
		rec := make(Record, len(w.Dict))
		for k, item := range w.Dict {
			v, err := fromWire(item)
			if err != nil {
				return Value{}, err
			}
			rec[k] = v
		}
		return Dict(rec), nil
	case KindUUID:
		u, err := bleuuid.Parse(w.UUID)
		if err != nil {
			return Value{}, err
		}
		return UUIDValue(u), nil
	default:
		return Value{}, fmt.Errorf("adv: unknown value kind %d", w.Kind)
	}
}

// MarshalJSON lets a Record carrying this Value round-trip through the
// restoration store's byte-blob interface.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(v))
}

// UnmarshalJSON is MarshalJSON's inverse.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := fromWire(w)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}
