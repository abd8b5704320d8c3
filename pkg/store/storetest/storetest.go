// Package storetest provides the conformance suite every MessageStore
// backend must pass. Backend test files call Run with a constructor.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fixgate/pkg/fix"
	"github.com/marmos91/fixgate/pkg/store"
)

// Factory builds a fresh store for one subtest.
type Factory func(t *testing.T) store.MessageStore

var testID = fix.SessionID{
	BeginString:  "FIX.4.4",
	SenderCompID: "BANZAI",
	TargetCompID: "EXEC",
}

// Run executes the conformance suite against the backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("LoadAbsentReturnsOnes", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		seq, err := s.Load(context.Background(), testID)
		require.NoError(t, err)
		assert.Equal(t, 1, seq.NextIncoming)
		assert.Equal(t, 1, seq.NextOutgoing)
	})

	t.Run("PersistSeqRoundTrip", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.PersistSeq(ctx, testID, 8, 11))
		seq, err := s.Load(ctx, testID)
		require.NoError(t, err)
		assert.Equal(t, 8, seq.NextIncoming)
		assert.Equal(t, 11, seq.NextOutgoing)
		assert.False(t, seq.CreatedAt.IsZero())
	})

	t.Run("SessionsAreIndependent", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		other := fix.SessionID{BeginString: "FIX.4.2", SenderCompID: "BANZAI", TargetCompID: "EXEC"}
		require.NoError(t, s.PersistSeq(ctx, testID, 5, 6))

		seq, err := s.Load(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, 1, seq.NextIncoming)
		assert.Equal(t, 1, seq.NextOutgoing)
	})

	t.Run("StoreAndFetch", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		wire := []byte("8=FIX.4.4\x019=5\x0135=D\x0110=000\x01")
		require.NoError(t, s.StoreMessage(ctx, testID, 3, wire))

		got, err := s.Fetch(ctx, testID, 3)
		require.NoError(t, err)
		assert.Equal(t, wire, got)

		_, err = s.Fetch(ctx, testID, 4)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("FetchRangeOrderedWithGaps", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		for _, seq := range []int{2, 5, 3} {
			require.NoError(t, s.StoreMessage(ctx, testID, seq, []byte{byte('0' + seq)}))
		}

		msgs, err := s.FetchRange(ctx, testID, 1, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, 2, msgs[0].SeqNum)
		assert.Equal(t, 3, msgs[1].SeqNum)
		assert.Equal(t, 5, msgs[2].SeqNum)

		msgs, err = s.FetchRange(ctx, testID, 3, 4)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, 3, msgs[0].SeqNum)
	})

	t.Run("OverwriteKeepsLatest", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.StoreMessage(ctx, testID, 1, []byte("first epoch")))
		require.NoError(t, s.StoreMessage(ctx, testID, 1, []byte("second epoch")))

		got, err := s.Fetch(ctx, testID, 1)
		require.NoError(t, err)
		assert.Equal(t, []byte("second epoch"), got)
	})

	t.Run("ResetIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.PersistSeq(ctx, testID, 9, 14))
		require.NoError(t, s.StoreMessage(ctx, testID, 13, []byte("kept")))

		require.NoError(t, s.Reset(ctx, testID))
		require.NoError(t, s.Reset(ctx, testID))

		seq, err := s.Load(ctx, testID)
		require.NoError(t, err)
		assert.Equal(t, 1, seq.NextIncoming)
		assert.Equal(t, 1, seq.NextOutgoing)

		// Journaled rows survive a reset until their numbers are
		// reused.
		got, err := s.Fetch(ctx, testID, 13)
		require.NoError(t, err)
		assert.Equal(t, []byte("kept"), got)
	})
}
