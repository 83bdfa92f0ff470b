package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), BalanceKey(1, 2))
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
}

func TestMemoryLockSerialises(t *testing.T) {
	exerciseMutualExclusion(t, NewMemory(5*time.Second))
}

func TestMemoryLockTimesOut(t *testing.T) {
	l := NewMemory(20 * time.Millisecond)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(context.Background(), "k")
	require.ErrorIs(t, err, ErrTimeout)

	// other keys are independent
	unlockOther, err := l.Lock(context.Background(), "other")
	require.NoError(t, err)
	unlockOther()
}

func TestMemoryUnlockIsIdempotent(t *testing.T) {
	l := NewMemory(time.Second)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}

func TestRedisLockSerialises(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	defer rdb.Close()

	exerciseMutualExclusion(t, NewRedis(rdb, 5*time.Second, 5*time.Second))
}

func TestRedisLockTimesOut(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedis(rdb, time.Minute, 50*time.Millisecond)
	unlock, err := l.Lock(context.Background(), SettlementKey("TXN-1"))
	require.NoError(t, err)

	_, err = l.Lock(context.Background(), SettlementKey("TXN-1"))
	require.ErrorIs(t, err, ErrTimeout)

	unlock()
	unlock, err = l.Lock(context.Background(), SettlementKey("TXN-1"))
	require.NoError(t, err)
	unlock()
}
