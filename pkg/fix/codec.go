package fix

// Codec is the wire-format capability the engine consumes. Encode
// populates BodyLength (9) and CheckSum (10); Decode validates them.
// The engine never computes either itself.
//
// pkg/codec/tagvalue provides the default implementation. Alternative
// codecs (dictionary-driven, FIXT) can be plugged in without touching
// the session layer.
type Codec interface {
	// Encode serializes the message, stamping BodyLength and CheckSum.
	// BeginString (8) must already be set.
	Encode(msg *Message) ([]byte, error)

	// Decode parses a complete framed message. The checksum and body
	// length are verified; a mismatch is an error.
	Decode(data []byte) (*Message, error)

	// NewMessage constructs a message of the given type conforming to
	// the codec's dictionary.
	NewMessage(msgType string) *Message
}
