package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one unified business object as it arrives on the input stream.
// Presence matters: a key that is absent, a key holding nil and a key holding
// "" are three different things.
type Record map[string]any

// Present reports whether the key exists, even when its value is nil.
func (r Record) Present(field string) bool {
	_, ok := r[field]
	return ok
}

// Has reports whether the key exists and holds a non-nil value.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	return ok && v != nil
}

// Value returns the raw value for field and whether it is set (non-nil).
func (r Record) Value(field string) (any, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns the value for field rendered as a string, or "" when unset.
func (r Record) String(field string) string {
	v, ok := r.Value(field)
	if !ok {
		return ""
	}
	return AsString(v)
}

// Bool returns a boolean field. The second result is false when the field is
// unset or not a boolean.
func (r Record) Bool(field string) (bool, bool) {
	v, ok := r.Value(field)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, false
		}
		return parsed, true
	}
	return false, false
}

// Decimal parses a numeric field. Unset fields return ok=false and no error.
func (r Record) Decimal(field string) (decimal.Decimal, bool, error) {
	v, ok := r.Value(field)
	if !ok {
		return decimal.Zero, false, nil
	}
	d, err := AsDecimal(v)
	if err != nil {
		return decimal.Zero, true, fmt.Errorf("field %s: %w", field, err)
	}
	return d, true, nil
}

// Records returns a nested list of objects. Non-object entries are skipped.
func (r Record) Records(field string) []Record {
	v, ok := r.Value(field)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		if typed, ok := v.([]Record); ok {
			return typed
		}
		return nil
	}
	out := make([]Record, 0, len(list))
	for _, item := range list {
		switch m := item.(type) {
		case map[string]any:
			out = append(out, Record(m))
		case Record:
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// AsString renders scalar input values the way they are compared against
// remote identifiers.
func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case decimal.Decimal:
		return s.String()
	case time.Time:
		return s.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

// AsDecimal converts a numeric input value to a decimal.
func AsDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid number %q", n)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("invalid number %v", v)
}

// Number renders a decimal as a JSON number so payloads never carry floats.
func Number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
