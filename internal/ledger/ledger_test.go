package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/umkhondo/internal/domain"
)

func completedPayment(id string, at time.Time) domain.Payment {
	return domain.Payment{
		TransactionID: id,
		Kind:          domain.KindMerchant,
		PhoneNumber:   "254700000000",
		Amount:        decimal.NewFromInt(250),
		Reference:     "REF1",
		Direction:     domain.DirectionExpense,
		Status:        domain.StatusCompleted,
		Category:      "Food",
		Source:        domain.SourceSimulation,
		CreatedAt:     at,
		CompletedAt:   &at,
	}
}

func TestEntryFromPayment(t *testing.T) {
	at := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	e := EntryFromPayment(completedPayment("tx-1", at), "alice")

	assert.Equal(t, "alice", e.Username)
	assert.Equal(t, "M-PESA Payment Reference: REF1", e.Description)
	assert.Equal(t, domain.DirectionExpense, e.Type)
	assert.True(t, at.Equal(e.Date))
}

func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

	added, err := l.Append(ctx, EntryFromPayment(completedPayment("tx-1", base), "alice"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = l.Append(ctx, EntryFromPayment(completedPayment("tx-1", base), "alice"))
	require.NoError(t, err)
	assert.False(t, added, "second append of the same transaction is a no-op")

	_, err = l.Append(ctx, EntryFromPayment(completedPayment("tx-2", base.Add(time.Hour)), "bob"))
	require.NoError(t, err)

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "tx-2", all[0].TransactionID, "newest first")

	alice, err := l.List(ctx, Filter{Username: "alice", To: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.True(t, decimal.NewFromInt(250).Equal(alice[0].Amount))

	require.NoError(t, l.UpdateCategory(ctx, alice[0].ID, "Transport"))
	transport, err := l.List(ctx, Filter{Category: "transport"})
	require.NoError(t, err)
	assert.Len(t, transport, 1)

	require.NoError(t, l.Delete(ctx, alice[0].ID))
	assert.ErrorIs(t, l.Delete(ctx, alice[0].ID), ErrEntryNotFound)
	assert.ErrorIs(t, l.UpdateCategory(ctx, uuid.New(), "Food"), ErrEntryNotFound)

	added, err = l.Append(ctx, EntryFromPayment(completedPayment("tx-1", base), "alice"))
	require.NoError(t, err)
	assert.False(t, added, "deleted transactions stay reserved")

	remaining, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewMemoryLedger())
}

// Runs against a real database when LEDGER_TEST_DATABASE_URL is set.
func TestPostgresLedger(t *testing.T) {
	url := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(url))

	ctx := context.Background()
	l, err := NewPostgresLedger(ctx, url)
	require.NoError(t, err)
	t.Cleanup(l.Close)

	_, err = l.pool.Exec(ctx, `TRUNCATE ledger_entries`)
	require.NoError(t, err)

	exerciseLedger(t, l)
}
