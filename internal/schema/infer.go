package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FieldType is a layer attribute type label.
type FieldType string

const (
	FieldString  FieldType = "String"
	FieldInteger FieldType = "Integer"
	FieldReal    FieldType = "Real"
	FieldDate    FieldType = "Date"
)

// FieldTypes maps attribute names to their inferred types; it is persisted
// on the layer as a JSON column.
type FieldTypes map[string]FieldType

func (ft FieldTypes) Value() (driver.Value, error) {
	if ft == nil {
		return "{}", nil
	}
	b, err := json.Marshal(ft)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (ft *FieldTypes) Scan(src any) error {
	var data []byte
	switch t := src.(type) {
	case nil:
		*ft = FieldTypes{}
		return nil
	case string:
		data = []byte(t)
	case []byte:
		data = t
	default:
		return fmt.Errorf("cannot scan %T into FieldTypes", src)
	}
	if len(data) == 0 {
		*ft = FieldTypes{}
		return nil
	}
	return json.Unmarshal(data, ft)
}

// Infer derives field types from a bounded sample of property maps. All
// integer observations give Integer; a mix of integers and reals gives Real;
// anything else gives String. Nulls contribute no observation.
func Infer(samples []Properties) FieldTypes {
	if len(samples) == 0 {
		return FieldTypes{}
	}

	observed := map[string]map[Kind]bool{}
	for _, props := range samples {
		for k, v := range props {
			if v.IsNull() {
				continue
			}
			if observed[k] == nil {
				observed[k] = map[Kind]bool{}
			}
			observed[k][v.Kind()] = true
		}
	}

	out := FieldTypes{}
	for k, kinds := range observed {
		switch {
		case len(kinds) == 1 && kinds[KindInteger]:
			out[k] = FieldInteger
		case kinds[KindReal] && !kinds[KindString]:
			out[k] = FieldReal
		default:
			out[k] = FieldString
		}
	}
	return out
}
