package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/umkhondo/internal/domain"
)

func pendingPush(id, correlation string) domain.Payment {
	return domain.Payment{
		TransactionID: id,
		CorrelationID: correlation,
		Kind:          domain.KindPush,
		PhoneNumber:   "254712345678",
		Amount:        decimal.NewFromInt(500),
		Direction:     domain.DirectionExpense,
		Status:        domain.StatusPending,
		CreatedAt:     time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStore_CreateGetFind(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Create(ctx, pendingPush("tx-1", "ws_CO_1")))

	got, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", got.CorrelationID)

	byCorrelation, err := s.FindByCorrelation(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", byCorrelation.TransactionID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByCorrelation(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Create(ctx, pendingPush("tx-1", "")))
	assert.ErrorIs(t, s.Create(ctx, pendingPush("tx-1", "")), ErrDuplicate)
}

func TestMemoryStore_PutOverwritesAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, pendingPush("tx-1", "ws_CO_old")))
	require.NoError(t, s.Put(ctx, pendingPush("tx-2", "")))
	updated := pendingPush("tx-1", "ws_CO_new")
	updated.Status = domain.StatusCompleted
	require.NoError(t, s.Put(ctx, updated))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "tx-1", all[0].TransactionID)
	assert.Equal(t, domain.StatusCompleted, all[0].Status)

	_, err = s.FindByCorrelation(ctx, "ws_CO_old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByCorrelation(ctx, "ws_CO_new")
	assert.NoError(t, err)
}

func TestMemoryStore_ResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, pendingPush("tx-1", "ws_CO_1")))

	res := domain.Resolution{Status: domain.StatusCompleted, ReceiptNumber: "ABC123", At: time.Now()}
	first, applied, err := s.Resolve(ctx, "tx-1", res)
	require.NoError(t, err)
	assert.True(t, applied)

	res.ReceiptNumber = "OTHER"
	second, applied, err := s.Resolve(ctx, "tx-1", res)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, first, second)
	assert.Equal(t, "ABC123", second.ReceiptNumber)

	_, _, err = s.Resolve(ctx, "tx-1", domain.Resolution{Status: domain.StatusFailed})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, err = s.Resolve(ctx, "tx-1", domain.Resolution{Status: domain.StatusPending})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, err = s.Resolve(ctx, "missing", res)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentResolveAppliesOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, pendingPush("tx-1", "ws_CO_1")))

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.Resolve(ctx, "tx-1", domain.Resolution{Status: domain.StatusCompleted, At: time.Now()})
			if err == nil && ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
}
