package memory

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
		return New()
	})
}

func TestOverwriteArchivesPriorRow(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := fix.SessionID{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B"}

	require.NoError(t, s.StoreMessage(ctx, id, 1, []byte("old")))
	assert.Equal(t, 0, s.ArchivedCount(id))

	require.NoError(t, s.StoreMessage(ctx, id, 1, []byte("new")))
	assert.Equal(t, 1, s.ArchivedCount(id))

	require.NoError(t, s.StoreMessage(ctx, id, 1, []byte("newer")))
	assert.Equal(t, 2, s.ArchivedCount(id))
}

func TestFetchReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := fix.SessionID{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B"}

	require.NoError(t, s.StoreMessage(ctx, id, 1, []byte("immutable")))
	got, err := s.Fetch(ctx, id, 1)
	require.NoError(t, err)

	got[0] = 'X'
	again, err := s.Fetch(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), again)
}
