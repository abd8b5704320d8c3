// Package tagvalue implements the classic FIX tag=value wire format:
// SOH-delimited fields, BeginString/BodyLength prefix, CheckSum trailer.
// It is the default fix.Codec used by the engine for FIX.4.2 through
// FIX.4.4.
//
// Decoding is lenient about field typing: tags the built-in dictionary
// knows (the session-layer set) decode to their typed values, everything
// else decodes as a string. Repeating groups are encoded from the typed
// model but decode flat; the session layer never interprets group
// structure, and retransmission replays the stored wire bytes verbatim.
package tagvalue

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marmos91/fixgate/pkg/fix"
)

var (
	// ErrChecksum indicates a CheckSum (10) mismatch.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrBodyLength indicates a BodyLength (9) mismatch.
	ErrBodyLength = errors.New("body length mismatch")
)

// Codec encodes and decodes tag=value FIX messages.
type Codec struct {
	kinds map[int]fix.Kind
}

// New creates a codec with the built-in session-layer dictionary.
func New() *Codec {
	return &Codec{kinds: sessionKinds()}
}

// sessionKinds types the tags the session layer interprets. Unknown
// tags stay strings.
func sessionKinds() map[int]fix.Kind {
	return map[int]fix.Kind{
		fix.TagBodyLength:          fix.KindInt,
		fix.TagMsgSeqNum:           fix.KindInt,
		fix.TagNewSeqNo:            fix.KindInt,
		fix.TagBeginSeqNo:          fix.KindInt,
		fix.TagEndSeqNo:            fix.KindInt,
		fix.TagEncryptMethod:       fix.KindInt,
		fix.TagHeartBtInt:          fix.KindInt,
		fix.TagRefSeqNum:           fix.KindInt,
		fix.TagRefTagID:            fix.KindInt,
		fix.TagSessionRejectReason: fix.KindInt,
		fix.TagPossDupFlag:         fix.KindBool,
		fix.TagGapFillFlag:         fix.KindBool,
		fix.TagResetSeqNumFlag:     fix.KindBool,
		fix.TagSendingTime:         fix.KindUTCTimestamp,
		fix.TagOrigSendingTime:     fix.KindUTCTimestamp,
	}
}

// NewMessage constructs an empty message of the given type.
func (c *Codec) NewMessage(msgType string) *fix.Message {
	return fix.NewMessage(msgType)
}

// Encode serializes msg, computing BodyLength (9) and CheckSum (10).
// BeginString (8) and MsgType (35) must be present. Field order on the
// wire: 8, 9, 35, then the remaining fields in insertion order, then 10.
func (c *Codec) Encode(msg *fix.Message) ([]byte, error) {
	beginString, ok := msg.GetString(fix.TagBeginString)
	if !ok || beginString == "" {
		return nil, fmt.Errorf("encode: missing BeginString (8)")
	}
	if msg.MsgType() == "" {
		return nil, fmt.Errorf("encode: missing MsgType (35)")
	}

	var body bytes.Buffer
	writeField(&body, fix.TagMsgType, msg.MsgType())
	for _, f := range msg.Fields() {
		switch f.Tag {
		case fix.TagBeginString, fix.TagBodyLength, fix.TagCheckSum, fix.TagMsgType:
			continue
		}
		if entries, isGroup := f.Value.AsGroup(); isGroup {
			writeField(&body, f.Tag, strconv.Itoa(len(entries)))
			for _, entry := range entries {
				for _, gf := range entry.Fields() {
					writeField(&body, gf.Tag, gf.Value.WireString())
				}
			}
			continue
		}
		writeField(&body, f.Tag, f.Value.WireString())
	}

	var out bytes.Buffer
	writeField(&out, fix.TagBeginString, beginString)
	writeField(&out, fix.TagBodyLength, strconv.Itoa(body.Len()))
	out.Write(body.Bytes())
	fmt.Fprintf(&out, "%d=%03d%c", fix.TagCheckSum, Checksum(out.Bytes()), fix.SOH)

	return out.Bytes(), nil
}

// Decode parses a complete framed message, verifying BodyLength and
// CheckSum. The returned message holds every field except 9 and 10, in
// wire order.
func (c *Codec) Decode(data []byte) (*fix.Message, error) {
	if len(data) == 0 || data[len(data)-1] != fix.SOH {
		return nil, fmt.Errorf("decode: message not SOH-terminated")
	}

	type rawField struct {
		tag   int
		value string
		start int // byte offset of the field within data
	}

	var fields []rawField
	for off := 0; off < len(data); {
		end := bytes.IndexByte(data[off:], fix.SOH)
		if end < 0 {
			return nil, fmt.Errorf("decode: unterminated field at offset %d", off)
		}
		raw := data[off : off+end]
		eq := bytes.IndexByte(raw, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("decode: malformed field %q", raw)
		}
		tag, err := strconv.Atoi(string(raw[:eq]))
		if err != nil || tag <= 0 {
			return nil, fmt.Errorf("decode: invalid tag %q", raw[:eq])
		}
		fields = append(fields, rawField{tag: tag, value: string(raw[eq+1:]), start: off})
		off += end + 1
	}

	if len(fields) < 4 {
		return nil, fmt.Errorf("decode: truncated message (%d fields)", len(fields))
	}
	if fields[0].tag != fix.TagBeginString {
		return nil, fmt.Errorf("decode: first field is %d, want BeginString (8)", fields[0].tag)
	}
	if fields[1].tag != fix.TagBodyLength {
		return nil, fmt.Errorf("decode: second field is %d, want BodyLength (9)", fields[1].tag)
	}
	last := fields[len(fields)-1]
	if last.tag != fix.TagCheckSum {
		return nil, fmt.Errorf("decode: last field is %d, want CheckSum (10)", last.tag)
	}

	declaredLen, err := strconv.Atoi(fields[1].value)
	if err != nil || declaredLen < 0 {
		return nil, fmt.Errorf("decode: invalid BodyLength %q", fields[1].value)
	}
	bodyStart := fields[2].start
	actualLen := last.start - bodyStart
	if declaredLen != actualLen {
		return nil, fmt.Errorf("%w: declared %d, actual %d", ErrBodyLength, declaredLen, actualLen)
	}

	declaredSum, err := strconv.Atoi(last.value)
	if err != nil || len(last.value) != 3 {
		return nil, fmt.Errorf("decode: invalid CheckSum %q", last.value)
	}
	if actual := Checksum(data[:last.start]); actual != declaredSum {
		return nil, fmt.Errorf("%w: declared %03d, actual %03d", ErrChecksum, declaredSum, actual)
	}

	msg := &fix.Message{}
	for _, f := range fields {
		if f.tag == fix.TagBodyLength || f.tag == fix.TagCheckSum {
			continue
		}
		msg.Set(f.tag, c.typedValue(f.tag, f.value))
	}
	return msg, nil
}

// typedValue converts wire text to the dictionary type for the tag,
// falling back to a string when the text does not parse. Handlers turn
// the fallback into a session Reject on access.
func (c *Codec) typedValue(tag int, text string) fix.Value {
	switch c.kinds[tag] {
	case fix.KindInt:
		if n, err := strconv.Atoi(text); err == nil {
			return fix.Int(n)
		}
	case fix.KindBool:
		switch text {
		case "Y":
			return fix.Bool(true)
		case "N":
			return fix.Bool(false)
		}
	case fix.KindUTCTimestamp:
		if t, err := time.Parse(fix.UTCTimestampLayout, text); err == nil {
			return fix.UTCTimestamp(t)
		}
	}
	return fix.String(text)
}

// Checksum computes the FIX checksum: the sum of all bytes modulo 256.
// Callers pass everything up to but excluding the CheckSum field.
func Checksum(data []byte) int {
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	return sum % 256
}

func writeField(buf *bytes.Buffer, tag int, value string) {
	buf.WriteString(strconv.Itoa(tag))
	buf.WriteByte('=')
	buf.WriteString(value)
	buf.WriteByte(fix.SOH)
}
