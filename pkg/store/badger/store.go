// Package badger provides the BadgerDB-backed MessageStore. It is the
// durable single-node default: SyncWrites is enabled so every commit
// reaches disk before the engine hands bytes to the transport.
package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/fixgate/pkg/fix"
	"github.com/marmos91/fixgate/pkg/store"
)

// Store is a BadgerDB MessageStore. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func keySeq(id fix.SessionID) []byte {
	return []byte("seq/" + id.String())
}

func keyMessage(id fix.SessionID, seq int) []byte {
	return []byte(fmt.Sprintf("msg/%s/%010d", id, seq))
}

func prefixMessages(id fix.SessionID) []byte {
	return []byte(fmt.Sprintf("msg/%s/", id))
}

func keyArchive(id fix.SessionID, seq int, archivedAt time.Time) []byte {
	return []byte(fmt.Sprintf("arc/%s/%010d/%d", id, seq, archivedAt.UnixNano()))
}

// seq values: nextIncoming, nextOutgoing, createdAt nanos — 24 bytes.
func encodeSeq(st store.SequenceState) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], uint64(st.NextIncoming))
	binary.BigEndian.PutUint64(buf[8:16], uint64(st.NextOutgoing))
	binary.BigEndian.PutUint64(buf[16:24], uint64(st.CreatedAt.UnixNano()))
	return buf
}

func decodeSeq(buf []byte) (store.SequenceState, error) {
	if len(buf) != 24 {
		return store.SequenceState{}, fmt.Errorf("corrupt sequence row: %d bytes", len(buf))
	}
	return store.SequenceState{
		NextIncoming: int(binary.BigEndian.Uint64(buf[0:8])),
		NextOutgoing: int(binary.BigEndian.Uint64(buf[8:16])),
		CreatedAt:    time.Unix(0, int64(binary.BigEndian.Uint64(buf[16:24]))).UTC(),
	}, nil
}

// message values: storedAt nanos then the wire bytes.
func encodeMessage(msg store.StoredMessage) []byte {
	buf := make([]byte, 8+len(msg.Wire))
	binary.BigEndian.PutUint64(buf[0:8], uint64(msg.StoredAt.UnixNano()))
	copy(buf[8:], msg.Wire)
	return buf
}

func decodeMessage(seq int, buf []byte) (store.StoredMessage, error) {
	if len(buf) < 8 {
		return store.StoredMessage{}, fmt.Errorf("corrupt message row: %d bytes", len(buf))
	}
	wire := make([]byte, len(buf)-8)
	copy(wire, buf[8:])
	return store.StoredMessage{
		SeqNum:   seq,
		StoredAt: time.Unix(0, int64(binary.BigEndian.Uint64(buf[0:8]))).UTC(),
		Wire:     wire,
	}, nil
}

// Load implements store.MessageStore.
func (s *Store) Load(ctx context.Context, id fix.SessionID) (store.SequenceState, error) {
	if err := ctx.Err(); err != nil {
		return store.SequenceState{}, err
	}

	var state store.SequenceState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySeq(id))
		if err == badger.ErrKeyNotFound {
			state = store.SequenceState{NextIncoming: 1, NextOutgoing: 1, CreatedAt: time.Now().UTC()}
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			state, err = decodeSeq(val)
			return err
		})
	})
	if err != nil {
		return store.SequenceState{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return state, nil
}

// PersistSeq implements store.MessageStore. The existing CreatedAt is
// preserved; a first write stamps it.
func (s *Store) PersistSeq(ctx context.Context, id fix.SessionID, nextIncoming, nextOutgoing int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		createdAt := time.Now().UTC()
		if item, err := txn.Get(keySeq(id)); err == nil {
			if err := item.Value(func(val []byte) error {
				prev, derr := decodeSeq(val)
				if derr == nil {
					createdAt = prev.CreatedAt
				}
				return nil
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(keySeq(id), encodeSeq(store.SequenceState{
			NextIncoming: nextIncoming,
			NextOutgoing: nextOutgoing,
			CreatedAt:    createdAt,
		}))
	})
	if err != nil {
		return fmt.Errorf("persist sequence for %s: %w", id, err)
	}
	return nil
}

// StoreMessage implements store.MessageStore. Overwrites archive the
// prior row within the same transaction.
func (s *Store) StoreMessage(ctx context.Context, id fix.SessionID, seq int, wire []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := keyMessage(id, seq)
		if item, err := txn.Get(key); err == nil {
			var prevRaw []byte
			if err := item.Value(func(val []byte) error {
				prevRaw = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			if err := txn.Set(keyArchive(id, seq, now), prevRaw); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, encodeMessage(store.StoredMessage{SeqNum: seq, Wire: wire, StoredAt: now}))
	})
	if err != nil {
		return fmt.Errorf("store message %d for %s: %w", seq, id, err)
	}
	return nil
}

// Fetch implements store.MessageStore.
func (s *Store) Fetch(ctx context.Context, id fix.SessionID, seq int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var wire []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyMessage(id, seq))
		if err == badger.ErrKeyNotFound {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			msg, derr := decodeMessage(seq, val)
			if derr != nil {
				return derr
			}
			wire = msg.Wire
			return nil
		})
	})
	if err != nil {
		if err == store.ErrNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("fetch message %d for %s: %w", seq, id, err)
	}
	return wire, nil
}

// FetchRange implements store.MessageStore. Keys are zero-padded, so a
// prefix iteration yields ascending sequence order.
func (s *Store) FetchRange(ctx context.Context, id fix.SessionID, lo, hi int) ([]store.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []store.StoredMessage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixMessages(id)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyMessage(id, lo)); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			var seq int
			if _, err := fmt.Sscanf(key[len(prefixMessages(id)):], "%d", &seq); err != nil {
				return fmt.Errorf("corrupt message key %q", key)
			}
			if seq > hi {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				msg, derr := decodeMessage(seq, val)
				if derr != nil {
					return derr
				}
				out = append(out, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch range [%d,%d] for %s: %w", lo, hi, id, err)
	}
	return out, nil
}

// Reset implements store.MessageStore.
func (s *Store) Reset(ctx context.Context, id fix.SessionID) error {
	return s.PersistSeq(ctx, id, 1, 1)
}

// Close implements store.MessageStore.
func (s *Store) Close() error {
	return s.db.Close()
}
