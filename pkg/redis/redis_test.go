package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestPutPendingIfAbsent(t *testing.T) {
	mr, rdb := newClient(t)
	ctx := context.Background()

	entry := PendingEntry{Reference: "TXN-1", Payload: `{"a":1}`, ExpiresAtMS: 1000}
	ok, err := PutPendingIfAbsent(ctx, rdb, "ABC234", entry, 60_000)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = PutPendingIfAbsent(ctx, rdb, "ABC234", PendingEntry{Reference: "TXN-2", Payload: "{}"}, 60_000)
	require.NoError(t, err)
	require.False(t, ok)

	got, found, err := GetPending(ctx, rdb, "ABC234")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, entry, got)

	mr.FastForward(61 * time.Second)
	_, found, err = GetPending(ctx, rdb, "ABC234")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDeletePendingIfMatch(t *testing.T) {
	_, rdb := newClient(t)
	ctx := context.Background()

	_, err := PutPendingIfAbsent(ctx, rdb, "XYZ789", PendingEntry{Reference: "TXN-1", Payload: "{}"}, 60_000)
	require.NoError(t, err)

	deleted, err := DeletePendingIfMatch(ctx, rdb, "XYZ789", "TXN-OTHER")
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = DeletePendingIfMatch(ctx, rdb, "XYZ789", "TXN-1")
	require.NoError(t, err)
	require.True(t, deleted)

	require.NoError(t, DeletePending(ctx, rdb, "XYZ789"))
}

func TestLockReleaseRequiresToken(t *testing.T) {
	mr, rdb := newClient(t)
	ctx := context.Background()

	ok, err := TryLock(ctx, rdb, "settle:TXN-1", "token-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = TryLock(ctx, rdb, "settle:TXN-1", "token-b", time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, ReleaseLockIfMatch(ctx, rdb, "settle:TXN-1", "token-b"))
	require.True(t, mr.Exists(LockKey("settle:TXN-1")))

	require.NoError(t, ReleaseLockIfMatch(ctx, rdb, "settle:TXN-1", "token-a"))
	require.False(t, mr.Exists(LockKey("settle:TXN-1")))
}

func TestSettledMarkerRoundTrip(t *testing.T) {
	mr, rdb := newClient(t)
	ctx := context.Background()

	at := time.UnixMilli(1_700_000_000_000)
	marker := SettledMarker{ShortCode: "ABC234", Reference: "TXN-1", CustomerID: 42, SettledAt: at}
	require.NoError(t, PutSettledMarker(ctx, rdb, marker, time.Hour))

	got, found, err := GetSettledMarker(ctx, rdb, "ABC234")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "TXN-1", got.Reference)
	require.Equal(t, uint(42), got.CustomerID)
	require.True(t, at.Equal(got.SettledAt))

	mr.FastForward(2 * time.Hour)
	_, found, err = GetSettledMarker(ctx, rdb, "ABC234")
	require.NoError(t, err)
	require.False(t, found)
}
