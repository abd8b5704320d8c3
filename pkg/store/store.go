// Package store defines the persistent session journal: per-session
// sequence counters and the outbound message log used for gap recovery.
//
// Sequence numbers are the only mechanism by which FIX peers detect
// loss and reorder. Every implementation must make PersistSeq and
// StoreMessage durable before returning, because the engine transmits
// only after the journal write completes: losing or rewinding a counter
// corrupts the session permanently.
//
// Three backends are provided: memory (tests, throwaway sessions),
// badger (single-node durable default) and sql (SQLite or PostgreSQL).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/fixgate/pkg/fix"
)

// ErrNotFound is returned by Fetch when no message is journaled for
// the requested sequence number.
var ErrNotFound = errors.New("message not found")

// SequenceState carries the per-session counters. Both counters are
// always >= 1.
type SequenceState struct {
	// NextIncoming is the MsgSeqNum expected on the next received
	// message.
	NextIncoming int

	// NextOutgoing is the MsgSeqNum to assign to the next sent message.
	NextOutgoing int

	// CreatedAt is the first-seen timestamp of the session row.
	CreatedAt time.Time
}

// StoredMessage is one journaled outbound message.
type StoredMessage struct {
	SeqNum   int
	Wire     []byte
	StoredAt time.Time
}

// MessageStore persists sequence counters and outbound messages.
//
// A single logical session mutates its own rows serially (the engine's
// send path holds a per-session mutex); implementations must be safe
// when distinct sessions share one store.
type MessageStore interface {
	// Load returns the session's counters, creating {1,1} when the
	// session has never been seen.
	Load(ctx context.Context, id fix.SessionID) (SequenceState, error)

	// PersistSeq atomically and durably records both counters.
	PersistSeq(ctx context.Context, id fix.SessionID, nextIncoming, nextOutgoing int) error

	// StoreMessage journals the wire bytes transmitted with seq. When a
	// row for seq already exists (sequence reuse after a reset), the
	// prior row moves to the append-only archive in the same atomic
	// unit.
	StoreMessage(ctx context.Context, id fix.SessionID, seq int, wire []byte) error

	// Fetch returns the journaled bytes for seq, or ErrNotFound.
	Fetch(ctx context.Context, id fix.SessionID, seq int) ([]byte, error)

	// FetchRange returns the journaled messages with lo <= seq <= hi in
	// ascending order. Gaps are simply absent from the result.
	FetchRange(ctx context.Context, id fix.SessionID, lo, hi int) ([]StoredMessage, error)

	// Reset sets both counters to 1. Journaled messages already moved
	// to the archive stay there.
	Reset(ctx context.Context, id fix.SessionID) error

	// Close releases backend resources.
	Close() error
}
