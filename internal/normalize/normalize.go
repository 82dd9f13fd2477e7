// Package normalize converts warehouse values into a closed set of
// serializable types: string, bool, int64, float64, []any and Map.
package normalize

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
)

// TimestampLayout is the text form used for TIMESTAMP values.
const TimestampLayout = "2006-01-02 15:04:05.999999-07:00"

// UnsupportedTypeError reports a value whose runtime type is not recognized.
// It usually means a warehouse client upgrade introduced a new value kind.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("encountered unexpected type: %s", e.Type)
}

// Field is a single key/value entry of a Map.
type Field struct {
	Key   string
	Value any
}

// Map is an ordered mapping. Records keep their schema field order.
type Map []Field

// Get returns the value stored under key.
func (m Map) Get(key string) (any, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the map as a JSON object in key order.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(&buf, f.Key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := encode(&buf, f.Value); err != nil {
			return nil, fmt.Errorf("failed to encode field %q: %w", f.Key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Value normalizes v. Sequences and mappings are normalized recursively.
func Value(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case bool:
		return x, nil
	case string:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		return unsigned(uint64(x)), nil
	case uint64:
		return unsigned(x), nil
	case float32:
		return float(float64(x)), nil
	case float64:
		return float(x), nil
	case *big.Rat:
		if x == nil {
			return "", nil
		}
		f, _ := x.Float64()
		return float(f), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	case time.Time:
		return x.Format(TimestampLayout), nil
	case civil.Date:
		return x.String(), nil
	case civil.Time:
		return x.String(), nil
	case civil.DateTime:
		return x.String(), nil
	case []any:
		out := make([]any, 0, len(x))
		for i, elem := range x {
			n, err := Value(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, n)
		}
		return out, nil
	case Map:
		out := make(Map, 0, len(x))
		for _, f := range x {
			n, err := Value(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Key, err)
			}
			out = append(out, Field{Key: f.Key, Value: n})
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := make(Map, 0, len(keys))
		for _, k := range keys {
			m = append(m, Field{Key: k, Value: x[k]})
		}
		return Value(m)
	default:
		return nil, &UnsupportedTypeError{Type: fmt.Sprintf("%T", v)}
	}
}

// IsEmpty reports whether a raw value is NULL or an empty sequence.
// Such values are left out of structured payloads.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []any:
		return len(x) == 0
	}
	return false
}

// Text renders a normalized value as flat text. Sequences and mappings are
// written as compact JSON.
func Text(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return formatFloat(x), nil
	default:
		var buf bytes.Buffer
		if err := encode(&buf, v); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
}

// Compact returns v as compact JSON without HTML escaping.
func Compact(v any) (string, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encoder always terminates with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

func unsigned(x uint64) any {
	if x > math.MaxInt64 {
		return float64(x)
	}
	return int64(x)
}

func float(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

func formatFloat(f float64) string {
	if math.Abs(f) >= 1e21 {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
