package fix

import (
	"strconv"
	"strings"
	"time"
)

// Field is one tag=value pair of a message.
type Field struct {
	Tag   int
	Value Value
}

// Message is an ordered mapping from tag to typed value. Order is
// insertion order; Set replaces in place so a field keeps its position.
// Messages are small (tens of fields), so lookups scan linearly.
//
// A Message is not safe for concurrent mutation.
type Message struct {
	fields []Field
}

// NewMessage creates a message of the given type (tag 35).
func NewMessage(msgType string) *Message {
	m := &Message{}
	m.Set(TagMsgType, String(msgType))
	return m
}

// Set stores the value for tag, replacing any existing field in place.
func (m *Message) Set(tag int, v Value) *Message {
	for i := range m.fields {
		if m.fields[i].Tag == tag {
			m.fields[i].Value = v
			return m
		}
	}
	m.fields = append(m.fields, Field{Tag: tag, Value: v})
	return m
}

// SetString stores a string field.
func (m *Message) SetString(tag int, s string) *Message { return m.Set(tag, String(s)) }

// SetInt stores an integer field.
func (m *Message) SetInt(tag int, n int) *Message { return m.Set(tag, Int(n)) }

// SetBool stores a Y/N field.
func (m *Message) SetBool(tag int, b bool) *Message { return m.Set(tag, Bool(b)) }

// SetUTCTimestamp stores a UTCTimestamp field.
func (m *Message) SetUTCTimestamp(tag int, t time.Time) *Message {
	return m.Set(tag, UTCTimestamp(t))
}

// Get returns the value for tag.
func (m *Message) Get(tag int) (Value, bool) {
	for i := range m.fields {
		if m.fields[i].Tag == tag {
			return m.fields[i].Value, true
		}
	}
	return Value{}, false
}

// Has reports whether the tag is present.
func (m *Message) Has(tag int) bool {
	_, ok := m.Get(tag)
	return ok
}

// Remove deletes the field for tag, preserving the order of the rest.
func (m *Message) Remove(tag int) bool {
	for i := range m.fields {
		if m.fields[i].Tag == tag {
			m.fields = append(m.fields[:i], m.fields[i+1:]...)
			return true
		}
	}
	return false
}

// GetString returns the scalar wire form of the field.
func (m *Message) GetString(tag int) (string, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// GetInt returns the field as an integer.
func (m *Message) GetInt(tag int) (int, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// GetBool returns the field as a boolean. Absent fields read as false.
func (m *Message) GetBool(tag int) (bool, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return false, false
	}
	return v.AsBool()
}

// GetTime returns the field as a UTC timestamp.
func (m *Message) GetTime(tag int) (time.Time, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return time.Time{}, false
	}
	return v.AsTime()
}

// MsgType returns tag 35, or "" when absent.
func (m *Message) MsgType() string {
	s, _ := m.GetString(TagMsgType)
	return s
}

// SeqNum returns tag 34.
func (m *Message) SeqNum() (int, bool) {
	return m.GetInt(TagMsgSeqNum)
}

// PossDup reports whether PossDupFlag (43) is set to Y.
func (m *Message) PossDup() bool {
	b, ok := m.GetBool(TagPossDupFlag)
	return ok && b
}

// Fields returns a copy of the ordered field list.
func (m *Message) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Len returns the number of fields.
func (m *Message) Len() int { return len(m.fields) }

// Clone returns a deep copy. Group entries are cloned recursively.
func (m *Message) Clone() *Message {
	out := &Message{fields: make([]Field, 0, len(m.fields))}
	for _, f := range m.fields {
		v := f.Value
		if entries, ok := v.AsGroup(); ok {
			cloned := make([]*Message, len(entries))
			for i, e := range entries {
				cloned[i] = e.Clone()
			}
			v = Group(cloned)
		}
		out.fields = append(out.fields, Field{Tag: f.Tag, Value: v})
	}
	return out
}

// Equal reports whether both messages carry the same fields in the
// same order with equal values.
func (m *Message) Equal(o *Message) bool {
	if len(m.fields) != len(o.fields) {
		return false
	}
	for i := range m.fields {
		if m.fields[i].Tag != o.fields[i].Tag {
			return false
		}
		if !m.fields[i].Value.Equal(o.fields[i].Value) {
			return false
		}
	}
	return true
}

// String renders the message pipe-delimited for logs, never for the
// wire.
func (m *Message) String() string {
	var b strings.Builder
	for i, f := range m.fields {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(f.Tag))
		b.WriteByte('=')
		b.WriteString(f.Value.WireString())
	}
	return b.String()
}
