// Package schema models the dynamic feature properties as tagged scalar
// values and infers layer attribute types from sampled property maps.
package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindString
)

// Value is one property value: null, integer, real or string. Booleans and
// any non-scalar JSON are carried as strings.
type Value struct {
	kind Kind
	i    int64
	r    float64
	s    string
}

func Null() Value            { return Value{kind: KindNull} }
func Int(v int64) Value      { return Value{kind: KindInteger, i: v} }
func Real(v float64) Value   { return Value{kind: KindReal, r: v} }
func Str(v string) Value     { return Value{kind: KindString, s: v} }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) Int() int64    { return v.i }
func (v Value) Real() float64 { return v.r }
func (v Value) Str() string   { return v.s }

// Text renders the value for XML output; null becomes the empty string.
func (v Value) Text() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.r, 'f', -1, 64)
	case KindString:
		return v.s
	default:
		return ""
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInteger:
		return json.Marshal(v.i)
	case KindReal:
		// whole reals keep a decimal point so the kind survives a
		// store round trip
		s := strconv.FormatFloat(v.r, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return []byte(s), nil
	case KindString:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*v = Null()
		return nil
	case trimmed == "true" || trimmed == "false":
		*v = Str(trimmed)
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Str(s)
		return nil
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		// non-scalar JSON is kept verbatim as a string
		*v = Str(trimmed)
		return nil
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		*v = Int(i)
		return nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fmt.Errorf("invalid property value %q", trimmed)
	}
	*v = Real(f)
	return nil
}

// FromAny canonicalises a decoded value (e.g. a DBF field or GeoJSON
// property) into a tagged Value.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Str(strconv.FormatBool(t))
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return Real(float64(t))
	case float64:
		return Real(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return Real(f)
		}
		return Str(t.String())
	case string:
		return Str(t)
	default:
		return Str(fmt.Sprint(t))
	}
}

// Coerce applies the CSV coercion ladder: integer, then real, then string;
// empty becomes null.
func Coerce(s string) Value {
	if s == "" {
		return Null()
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Real(f)
	}
	return Str(s)
}

// Properties is a feature's attribute map, persisted as a JSON column.
type Properties map[string]Value

func (p Properties) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *Properties) Scan(src any) error {
	var data []byte
	switch t := src.(type) {
	case nil:
		*p = Properties{}
		return nil
	case string:
		data = []byte(t)
	case []byte:
		data = t
	default:
		return fmt.Errorf("cannot scan %T into Properties", src)
	}
	if len(data) == 0 {
		*p = Properties{}
		return nil
	}
	return json.Unmarshal(data, p)
}

// SortedKeys gives a stable field order for XML emission.
func (p Properties) SortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
