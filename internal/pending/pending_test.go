package pending

import (
	"context"
	"sync"
	"testing"
	"time"

	"points_engine/internal/model"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func sampleTx(code, ref string) *Transaction {
	return &Transaction{
		ShortCode:       code,
		ReferenceNumber: ref,
		VendorID:        2,
		StoreID:         1,
		Items: []model.CartItem{
			{ProductID: 10, ProductName: "Latte", Quantity: 1, UnitPrice: decimal.RequireFromString("45")},
		},
		TotalAmount: decimal.RequireFromString("45"),
		TotalPoints: decimal.RequireFromString("4.5"),
		Type:        model.TransactionPurchase,
	}
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock *fakeClock) Store {
			return NewMemory(clock.Now)
		},
		"redis": func(t *testing.T, clock *fakeClock) Store {
			mr := miniredis.RunT(t)
			rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedis(rdb, clock.Now)
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
			s := newStore(t, clock)

			tx := sampleTx("ABC234", "TXN-20260501-AAAAAAAAAAAA")
			require.NoError(t, s.Put(ctx, tx, 10*time.Minute))
			require.Equal(t, clock.Now().Add(10*time.Minute), tx.ExpiresAt)

			err := s.Put(ctx, sampleTx("ABC234", "TXN-OTHER"), time.Minute)
			require.ErrorIs(t, err, ErrAlreadyExists)

			got, err := s.Get(ctx, "ABC234")
			require.NoError(t, err)
			require.Equal(t, tx.ReferenceNumber, got.ReferenceNumber)
			require.Len(t, got.Items, 1)
			require.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("45")))

			_, err = s.Get(ctx, "ZZZ999")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.RemoveIfReference(ctx, "ABC234", "TXN-OTHER"))
			_, err = s.Get(ctx, "ABC234")
			require.NoError(t, err)

			require.NoError(t, s.Remove(ctx, "ABC234"))
			require.NoError(t, s.Remove(ctx, "ABC234"))
			_, err = s.Get(ctx, "ABC234")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreLazyExpiry(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
			s := newStore(t, clock)

			require.NoError(t, s.Put(ctx, sampleTx("EXP234", "TXN-1"), time.Minute))
			clock.Advance(time.Minute)
			_, err := s.Get(ctx, "EXP234")
			require.NoError(t, err, "an entry is live until now passes expires_at")

			clock.Advance(time.Second)
			_, err = s.Get(ctx, "EXP234")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreSettledMarker(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
			s := newStore(t, clock)

			_, err := s.Settled(ctx, "ABC234")
			require.ErrorIs(t, err, ErrNotFound)

			marker := SettledMarker{Reference: "TXN-1", CustomerID: 7, SettledAt: clock.Now()}
			require.NoError(t, s.MarkSettled(ctx, "ABC234", marker, time.Hour))
			got, err := s.Settled(ctx, "ABC234")
			require.NoError(t, err)
			require.Equal(t, "TXN-1", got.Reference)
			require.Equal(t, uint(7), got.CustomerID)
		})
	}
}

func TestMemorySweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemory(clock.Now)

	require.NoError(t, s.Put(ctx, sampleTx("AAA222", "TXN-1"), time.Minute))
	require.NoError(t, s.Put(ctx, sampleTx("BBB333", "TXN-2"), time.Hour))
	clock.Advance(2 * time.Minute)

	// the expired record still physically exists until swept
	require.Equal(t, 2, s.Len())
	require.Equal(t, 1, s.Sweep())
	require.Equal(t, 1, s.Len())

	// an expired code can be reused
	clock.Advance(time.Hour)
	require.NoError(t, s.Put(ctx, sampleTx("BBB333", "TXN-3"), time.Minute))
}

func TestClassifyType(t *testing.T) {
	purchase := model.CartItem{ProductID: 1, Quantity: 1}
	redemption := model.CartItem{ProductID: 2, Quantity: 1, IsRedemption: true}
	reward := model.CartItem{ProductID: 3, Quantity: 1, IsRewardLine: true}

	require.Equal(t, model.TransactionPurchase, ClassifyType([]model.CartItem{purchase, reward}))
	require.Equal(t, model.TransactionRedemption, ClassifyType([]model.CartItem{redemption}))
	require.Equal(t, model.TransactionMixed, ClassifyType([]model.CartItem{purchase, redemption}))
}
