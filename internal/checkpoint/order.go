package checkpoint

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Order decides how two checkpoint values compare.
type Order string

const (
	// OrderString compares values lexicographically. Unpadded integers order
	// incorrectly under it ("9" > "10").
	OrderString Order = "string"
	// OrderNumeric compares values as exact decimals.
	OrderNumeric Order = "numeric"
	// OrderTime compares values as timestamps.
	OrderTime Order = "time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseOrder validates an order name. An empty name selects OrderString.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderString, nil
	case OrderString, OrderNumeric, OrderTime:
		return o, nil
	default:
		return "", fmt.Errorf("unsupported checkpoint order %q; supported: string, numeric, time", s)
	}
}

// Compare returns -1, 0 or 1 as a sorts before, equal to or after b.
// Values that cannot be parsed under a numeric or time order fall back to
// string comparison.
func (o Order) Compare(a, b string) int {
	switch o {
	case OrderNumeric:
		x, okA := new(big.Rat).SetString(strings.TrimSpace(a))
		y, okB := new(big.Rat).SetString(strings.TrimSpace(b))
		if okA && okB {
			return x.Cmp(y)
		}
	case OrderTime:
		x, errA := parseTime(a)
		y, errB := parseTime(b)
		if errA == nil && errB == nil {
			return x.Compare(y)
		}
	}
	return strings.Compare(a, b)
}

// Max returns the greater of a and b.
func (o Order) Max(a, b string) string {
	if o.Compare(b, a) > 0 {
		return b
	}
	return a
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	// BigQuery renders UTC offsets as "+00"; extend them to a full offset.
	if n := len(s); n > 3 && (s[n-3] == '+' || s[n-3] == '-') && strings.Contains(s, ":") {
		s += ":00"
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
