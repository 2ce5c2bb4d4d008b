package mapsafe

import "encoding/json"

// Get retrieves a typed value from a decoded JSON object.
// If the key is missing or the value cannot be converted, it returns defaultValue.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case int:
		if f, ok := number(val); ok {
			return any(int(f)).(T)
		}
	case float64:
		if f, ok := number(val); ok {
			return any(f).(T)
		}
	}

	if v, ok := val.(T); ok {
		return v
	}
	return defaultValue
}

// Decode unmarshals data into a JSON object. It returns nil when data is not an object.
func Decode(data []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
