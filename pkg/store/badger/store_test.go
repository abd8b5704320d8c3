package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fixgate/pkg/fix"
	"github.com/marmos91/fixgate/pkg/store"
	"github.com/marmos91/fixgate/pkg/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.MessageStore {
		s, err := Open(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

// Counters and journaled messages must survive a close/reopen cycle.
func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	id := fix.SessionID{BeginString: "FIX.4.4", SenderCompID: "BANZAI", TargetCompID: "EXEC"}

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.PersistSeq(ctx, id, 8, 11))
	for seq := 1; seq <= 10; seq++ {
		require.NoError(t, s.StoreMessage(ctx, id, seq, []byte{byte(seq)}))
	}
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	seqState, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 8, seqState.NextIncoming)
	assert.Equal(t, 11, seqState.NextOutgoing)

	msgs, err := s.FetchRange(ctx, id, 9, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte{9}, msgs[0].Wire)
	assert.Equal(t, []byte{10}, msgs[1].Wire)
}

func TestCreatedAtPreservedAcrossPersists(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	id := fix.SessionID{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B"}

	require.NoError(t, s.PersistSeq(ctx, id, 1, 2))
	first, err := s.Load(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.PersistSeq(ctx, id, 3, 4))
	second, err := s.Load(ctx, id)
	require.NoError(t, err)

	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

// Sequence numbers that gain a decimal digit (999 -> 1000) must keep
// ascending range order.
func TestFetchRangeLargeSequenceNumbers(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	id := fix.SessionID{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B"}

	for _, seq := range []int{999, 1000, 1001} {
		require.NoError(t, s.StoreMessage(ctx, id, seq, []byte("m")))
	}
	msgs, err := s.FetchRange(ctx, id, 999, 1001)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, 999, msgs[0].SeqNum)
	assert.Equal(t, 1001, msgs[2].SeqNum)
}
