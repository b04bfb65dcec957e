package localstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkerStoreTracksBootstrapCompletion(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	done, err := store.AlreadyBootstrapped(ctx)
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, store.MarkBootstrapped(ctx))

	done, err = store.AlreadyBootstrapped(ctx)
	require.NoError(t, err)
	require.True(t, done)
}

func TestMarkerStoreTracksPendingWaits(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.RecordPendingWait(ctx, "req:1", "tool.response.v1"))
	require.NoError(t, store.RecordPendingWait(ctx, "req:2", "tool.response.v1"))

	tags, err := store.PendingWaits(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"req:1", "req:2"}, tags)

	require.NoError(t, store.ClearPendingWait(ctx, "req:1"))

	tags, err = store.PendingWaits(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"req:2"}, tags)
}
