package fix

import (
	"strconv"
	"time"
)

// UTCTimestampLayout is the FIX UTCTimestamp wire layout with
// millisecond precision (tag 52, tag 122).
const UTCTimestampLayout = "20060102-15:04:05.000"

// Kind identifies the typed representation a field value carries.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindDecimal
	KindBool
	KindUTCTimestamp
	KindBytes
	KindGroup
)

// Value is the typed union a field maps to. Decimals are kept in their
// string form to avoid float rounding on round trips. Groups hold the
// ordered entries of a repeating group.
type Value struct {
	kind  Kind
	str   string
	num   int
	ts    time.Time
	flag  bool
	raw   []byte
	group []*Message
}

// String builds a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int builds an integer value.
func Int(n int) Value { return Value{kind: KindInt, num: n} }

// Decimal builds a decimal value from its wire text (e.g. "101.25").
func Decimal(s string) Value { return Value{kind: KindDecimal, str: s} }

// Bool builds a boolean value, encoded as Y/N on the wire.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// UTCTimestamp builds a timestamp value. The wall clock is truncated to
// millisecond precision to match the wire layout.
func UTCTimestamp(t time.Time) Value {
	return Value{kind: KindUTCTimestamp, ts: t.UTC().Truncate(time.Millisecond)}
}

// Bytes builds a raw-data value.
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: b} }

// Group builds a repeating-group value from its ordered entries.
func Group(entries []*Message) Value { return Value{kind: KindGroup, group: entries} }

// Kind returns the typed representation of the value.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the value as a string when it has a scalar wire
// form. Group values have no scalar form.
func (v Value) AsString() (string, bool) {
	if v.kind == KindGroup {
		return "", false
	}
	return v.WireString(), true
}

// AsInt returns the value as an integer, parsing string values on
// demand so untyped decoded fields remain usable.
func (v Value) AsInt() (int, bool) {
	switch v.kind {
	case KindInt:
		return v.num, true
	case KindString, KindDecimal:
		n, err := strconv.Atoi(v.str)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// AsBool returns the value as a boolean ('Y'/'N' on the wire).
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.flag, true
	case KindString:
		switch v.str {
		case "Y":
			return true, true
		case "N":
			return false, true
		}
	}
	return false, false
}

// AsTime returns the value as a UTC timestamp, parsing string values
// against the UTCTimestamp layout on demand.
func (v Value) AsTime() (time.Time, bool) {
	switch v.kind {
	case KindUTCTimestamp:
		return v.ts, true
	case KindString:
		t, err := time.Parse(UTCTimestampLayout, v.str)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// AsBytes returns the raw bytes of a bytes value.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.raw, true
}

// AsGroup returns the entries of a repeating-group value.
func (v Value) AsGroup() ([]*Message, bool) {
	if v.kind != KindGroup {
		return nil, false
	}
	return v.group, true
}

// WireString renders the scalar wire form of the value. Group values
// render as an empty string; the codec expands them field by field.
func (v Value) WireString() string {
	switch v.kind {
	case KindString, KindDecimal:
		return v.str
	case KindInt:
		return strconv.Itoa(v.num)
	case KindBool:
		if v.flag {
			return "Y"
		}
		return "N"
	case KindUTCTimestamp:
		return v.ts.Format(UTCTimestampLayout)
	case KindBytes:
		return string(v.raw)
	}
	return ""
}

// Equal reports deep equality, comparing group entries recursively.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == KindGroup {
		if len(v.group) != len(o.group) {
			return false
		}
		for i := range v.group {
			if !v.group[i].Equal(o.group[i]) {
				return false
			}
		}
		return true
	}
	return v.WireString() == o.WireString()
}
