package alert

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Attributes is a small typed key/value container used for alert metadata
// and context. Each detector documents the keys it writes; the orchestrator
// treats the contents as opaque. The zero value is ready to use.
type Attributes struct {
	floats map[string]float64
	texts  map[string]string
	lists  map[string][]string
}

// SetFloat stores a numeric value under key.
func (a *Attributes) SetFloat(key string, v float64) {
	if a.floats == nil {
		a.floats = make(map[string]float64)
	}
	a.floats[key] = v
}

// Float returns the numeric value stored under key.
func (a Attributes) Float(key string) (float64, bool) {
	v, ok := a.floats[key]
	return v, ok
}

// SetText stores a string value under key.
func (a *Attributes) SetText(key, v string) {
	if a.texts == nil {
		a.texts = make(map[string]string)
	}
	a.texts[key] = v
}

// Text returns the string value stored under key.
func (a Attributes) Text(key string) (string, bool) {
	v, ok := a.texts[key]
	return v, ok
}

// SetList stores a list of strings under key.
func (a *Attributes) SetList(key string, v []string) {
	if a.lists == nil {
		a.lists = make(map[string][]string)
	}
	a.lists[key] = append([]string(nil), v...)
}

// List returns the list stored under key.
func (a Attributes) List(key string) ([]string, bool) {
	v, ok := a.lists[key]
	return v, ok
}

// Len returns the number of stored keys.
func (a Attributes) Len() int {
	return len(a.floats) + len(a.texts) + len(a.lists)
}

// Keys returns every key in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, a.Len())
	for k := range a.floats {
		keys = append(keys, k)
	}
	for k := range a.texts {
		keys = append(keys, k)
	}
	for k := range a.lists {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	var out Attributes
	for k, v := range a.floats {
		out.SetFloat(k, v)
	}
	for k, v := range a.texts {
		out.SetText(k, v)
	}
	for k, v := range a.lists {
		out.SetList(k, v)
	}
	return out
}

// Map flattens the container into a generic map for serialisation.
func (a Attributes) Map() map[string]any {
	out := make(map[string]any, a.Len())
	for k, v := range a.floats {
		out[k] = v
	}
	for k, v := range a.texts {
		out[k] = v
	}
	for k, v := range a.lists {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// AttributesFromMap rebuilds a container from a decoded generic map.
// Integer and float values become floats, strings stay strings, and slices
// are converted element-wise to strings.
func AttributesFromMap(m map[string]any) (Attributes, error) {
	var out Attributes
	for k, raw := range m {
		switch v := raw.(type) {
		case float64:
			out.SetFloat(k, v)
		case float32:
			out.SetFloat(k, float64(v))
		case int:
			out.SetFloat(k, float64(v))
		case int8:
			out.SetFloat(k, float64(v))
		case int16:
			out.SetFloat(k, float64(v))
		case int32:
			out.SetFloat(k, float64(v))
		case int64:
			out.SetFloat(k, float64(v))
		case uint8:
			out.SetFloat(k, float64(v))
		case uint16:
			out.SetFloat(k, float64(v))
		case uint32:
			out.SetFloat(k, float64(v))
		case uint64:
			out.SetFloat(k, float64(v))
		case string:
			out.SetText(k, v)
		case []string:
			out.SetList(k, v)
		case []any:
			list := make([]string, 0, len(v))
			for _, item := range v {
				list = append(list, fmt.Sprint(item))
			}
			out.SetList(k, list)
		case nil:
		default:
			return Attributes{}, fmt.Errorf("attribute %q: unsupported value type %T", k, raw)
		}
	}
	return out, nil
}

// MarshalJSON encodes the container as a flat JSON object.
func (a Attributes) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Map())
}

// UnmarshalJSON decodes a flat JSON object.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := AttributesFromMap(m)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
