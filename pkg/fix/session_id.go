package fix

import "fmt"

// SessionID is the primary identity of a FIX session: protocol version
// plus the two counterparty identifiers. Comparison is case-sensitive.
type SessionID struct {
	BeginString  string
	SenderCompID string
	TargetCompID string
}

// String renders the identity in the canonical "version:sender->target"
// form used in logs and store keys.
func (s SessionID) String() string {
	return fmt.Sprintf("%s:%s->%s", s.BeginString, s.SenderCompID, s.TargetCompID)
}

// Reverse returns the identity as seen from the counterparty's side.
func (s SessionID) Reverse() SessionID {
	return SessionID{
		BeginString:  s.BeginString,
		SenderCompID: s.TargetCompID,
		TargetCompID: s.SenderCompID,
	}
}

// IsZero reports whether the identity is unset.
func (s SessionID) IsZero() bool {
	return s.BeginString == "" && s.SenderCompID == "" && s.TargetCompID == ""
}
