package provision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// ValueKey is the canonical key a scalar is wrapped under.
const ValueKey = "value"

// Value is a parameter or secret entry: either a bare scalar or an already
// attributed record. The zero Value is the empty scalar.
type Value struct {
	scalar     string
	attributed map[string]any
}

// ScalarValue wraps a bare string.
func ScalarValue(s string) Value {
	return Value{scalar: s}
}

// AttributedValue wraps an attributed record. A nil record is treated as empty.
func AttributedValue(record map[string]any) Value {
	if record == nil {
		record = map[string]any{}
	}
	return Value{attributed: record}
}

// ValueFromAny converts a decoded JSON/YAML value. Objects become attributed
// records; everything else is coerced to its string form.
func ValueFromAny(v any) Value {
	switch t := v.(type) {
	case Value:
		return t
	case map[string]any:
		return AttributedValue(t)
	default:
		return ScalarValue(StringForm(v))
	}
}

// IsAttributed reports whether the value is already an attributed record.
func (v Value) IsAttributed() bool {
	return v.attributed != nil
}

// Scalar returns the scalar string, or "" for an attributed record.
func (v Value) Scalar() string {
	return v.scalar
}

// Attributed resolves the value to its canonical attributed form.
func (v Value) Attributed() map[string]any {
	if v.attributed != nil {
		return v.attributed
	}
	return map[string]any{ValueKey: v.scalar}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.attributed != nil {
		return json.Marshal(v.attributed)
	}
	return json.Marshal(v.scalar)
}

// UnmarshalJSON keeps number literals as written so large integers and
// exponent forms reach the platform unchanged.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = ValueFromAny(raw)
	return nil
}

// StringForm renders a scalar the way it is stored under ValueKey.
func StringForm(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// Attributed is a normalized parameter or secret map.
type Attributed map[string]map[string]any

// Normalize resolves every entry to its attributed form. Keys are preserved
// as given; the input is not modified.
func Normalize(entries map[string]Value) Attributed {
	out := make(Attributed, len(entries))
	for key, v := range entries {
		out[key] = maps.Clone(v.Attributed())
	}
	return out
}
