// Package memory provides a map-backed MessageStore. State does not
// survive the process; it exists for tests and for sessions that reset
// sequence numbers on every logon.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/fixgate/pkg/fix"
	"github.com/marmos91/fixgate/pkg/store"
)

type sessionRows struct {
	seq      store.SequenceState
	messages map[int]store.StoredMessage
	archive  []store.StoredMessage
}

// Store is an in-memory MessageStore. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[fix.SessionID]*sessionRows
}

// New creates an empty store.
func New() *Store {
	return &Store{sessions: make(map[fix.SessionID]*sessionRows)}
}

func (s *Store) rows(id fix.SessionID) *sessionRows {
	r, ok := s.sessions[id]
	if !ok {
		r = &sessionRows{
			seq:      store.SequenceState{NextIncoming: 1, NextOutgoing: 1, CreatedAt: time.Now().UTC()},
			messages: make(map[int]store.StoredMessage),
		}
		s.sessions[id] = r
	}
	return r
}

// Load implements store.MessageStore.
func (s *Store) Load(ctx context.Context, id fix.SessionID) (store.SequenceState, error) {
	if err := ctx.Err(); err != nil {
		return store.SequenceState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows(id).seq, nil
}

// PersistSeq implements store.MessageStore.
func (s *Store) PersistSeq(ctx context.Context, id fix.SessionID, nextIncoming, nextOutgoing int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows(id)
	r.seq.NextIncoming = nextIncoming
	r.seq.NextOutgoing = nextOutgoing
	return nil
}

// StoreMessage implements store.MessageStore.
func (s *Store) StoreMessage(ctx context.Context, id fix.SessionID, seq int, wire []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows(id)
	if prev, ok := r.messages[seq]; ok {
		r.archive = append(r.archive, prev)
	}
	cp := make([]byte, len(wire))
	copy(cp, wire)
	r.messages[seq] = store.StoredMessage{SeqNum: seq, Wire: cp, StoredAt: time.Now().UTC()}
	return nil
}

// Fetch implements store.MessageStore.
func (s *Store) Fetch(ctx context.Context, id fix.SessionID, seq int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.rows(id).messages[seq]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(msg.Wire))
	copy(out, msg.Wire)
	return out, nil
}

// FetchRange implements store.MessageStore.
func (s *Store) FetchRange(ctx context.Context, id fix.SessionID, lo, hi int) ([]store.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows(id)
	var out []store.StoredMessage
	for seq := lo; seq <= hi; seq++ {
		if msg, ok := r.messages[seq]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Reset implements store.MessageStore.
func (s *Store) Reset(ctx context.Context, id fix.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows(id)
	r.seq.NextIncoming = 1
	r.seq.NextOutgoing = 1
	return nil
}

// ArchivedCount returns the number of archived rows for id. Test hook.
func (s *Store) ArchivedCount(id fix.SessionID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows(id).archive)
}

// Close implements store.MessageStore.
func (s *Store) Close() error { return nil }
