package filter

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Value is a normalized scalar usable inside a conjunction. Values carry a
// canonical token form so that equal scalars compare equal regardless of the
// Go type the caller started from: int64(2), float64(2.0) and "2.00" parsed
// as a decimal all normalize to the same token. Only types with stable, total
// equality are representable; raw floats are routed through decimal so no
// floating-point comparison ever happens.
type Value struct {
	token string
}

const (
	tokenNull   = "z"
	prefixStr   = "s:"
	prefixNum   = "n:"
	prefixBool  = "b:"
	prefixTime  = "t:"
	prefixBytes = "x:"
)

// Null is the normalized SQL NULL value.
var Null = Value{token: tokenNull}

// String returns a string value.
func String(s string) Value {
	return Value{token: prefixStr + s}
}

// Int returns a numeric value from an integer.
func Int(i int64) Value {
	return Value{token: prefixNum + decimal.NewFromInt(i).String()}
}

// Uint returns a numeric value from an unsigned integer.
func Uint(u uint64) Value {
	return Value{token: prefixNum + decimal.NewFromUint64(u).String()}
}

// Float returns a numeric value from a float. The float is converted to a
// canonical decimal form, so Float(2.0) equals Int(2).
func Float(f float64) Value {
	return Value{token: prefixNum + decimal.NewFromFloat(f).String()}
}

// Decimal returns a numeric value from a decimal.
func Decimal(d decimal.Decimal) Value {
	return Value{token: prefixNum + d.String()}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{token: prefixBool + "1"}
	}
	return Value{token: prefixBool + "0"}
}

// Time returns a timestamp value normalized to UTC nanosecond precision.
func Time(t time.Time) Value {
	return Value{token: prefixTime + t.UTC().Format(time.RFC3339Nano)}
}

// Bytes returns a value from an opaque byte string.
func Bytes(b []byte) Value {
	return Value{token: prefixBytes + string(b)}
}

// FromAny normalizes an arbitrary Go scalar into a Value. It supports the
// kinds a row image can reasonably carry; anything else (slices, maps,
// application objects) is rejected so callers can skip the field rather than
// register a constraint that can never be matched reliably.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null, nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Uint(uint64(x)), nil
	case uint8:
		return Uint(uint64(x)), nil
	case uint16:
		return Uint(uint64(x)), nil
	case uint32:
		return Uint(uint64(x)), nil
	case uint64:
		return Uint(x), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case decimal.Decimal:
		return Decimal(x), nil
	case time.Time:
		return Time(x), nil
	case Value:
		return x, nil
	default:
		return Value{}, fmt.Errorf("filter: unsupported value type %T", v)
	}
}

// Token returns the canonical token form. Tokens are what the dependency
// index persists and compares; they are stable across processes.
func (v Value) Token() string {
	return v.token
}

// IsZero reports whether v is the zero Value (distinct from Null).
func (v Value) IsZero() bool {
	return v.token == ""
}

// Equal reports token equality.
func (v Value) Equal(o Value) bool {
	return v.token == o.token
}

// Row is one row image: field name to normalized value. Images are immutable
// snapshots supplied by the write-event producer, never live object views.
type Row map[string]Value

// RowFromMap normalizes a map of raw field values into a Row. Fields whose
// values cannot be normalized are dropped; a dropped field behaves as an
// unknown value during matching, which errs toward eviction.
func RowFromMap(raw map[string]any) Row {
	row := make(Row, len(raw))
	for field, v := range raw {
		val, err := FromAny(v)
		if err != nil {
			continue
		}
		row[field] = val
	}
	return row
}
