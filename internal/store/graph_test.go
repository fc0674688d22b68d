package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/graph"
)

func TestGraphStore_CreateSendsProperties(t *testing.T) {
	mem := graph.NewMemoryClient()
	mem.PushWriteResult(graph.Result{Records: []graph.Record{{"transactionId": "tx-1"}}})
	s := NewGraphStore(mem)

	require.NoError(t, s.Create(context.Background(), pendingPush("tx-1", "ws_CO_1")))

	calls := mem.WriteCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Query, "CREATE (p:Payment")
	props, ok := calls[0].Params["props"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "500", props["amount"])
	assert.Equal(t, "ws_CO_1", props["correlationId"])
	assert.Equal(t, "Pending", props["status"])
	assert.Nil(t, props["completedAt"])
}

func TestGraphStore_CreateDuplicate(t *testing.T) {
	mem := graph.NewMemoryClient()
	mem.PushWriteResult(graph.Result{})
	s := NewGraphStore(mem)

	err := s.Create(context.Background(), pendingPush("tx-1", ""))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestGraphStore_GetDecodesNode(t *testing.T) {
	completed := time.Date(2025, 4, 1, 8, 5, 0, 0, time.UTC)
	mem := graph.NewMemoryClient()
	mem.PushReadResult(graph.Result{Records: []graph.Record{{
		"payment": map[string]any{
			"transactionId": "tx-1",
			"correlationId": "ws_CO_1",
			"kind":          "push",
			"phoneNumber":   "254712345678",
			"amount":        "1500.50",
			"status":        "Completed",
			"receiptNumber": "QK12ABC",
			"resultCode":    int64(0),
			"createdAt":     "2025-04-01T08:00:00Z",
			"completedAt":   completed.Format(time.RFC3339Nano),
		},
	}}})
	s := NewGraphStore(mem)

	p, err := s.Get(context.Background(), "tx-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, p.Status)
	assert.True(t, decimal.RequireFromString("1500.50").Equal(p.Amount))
	require.NotNil(t, p.CompletedAt)
	assert.True(t, completed.Equal(*p.CompletedAt))
	assert.Equal(t, "tx-1", mem.ReadCalls()[0].Params["transactionId"])
}

func TestGraphStore_NotFound(t *testing.T) {
	s := NewGraphStore(graph.NewMemoryClient())

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByCorrelation(context.Background(), "ws_CO_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Resolve(context.Background(), "missing", domain.Resolution{Status: domain.StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGraphStore_Resolve(t *testing.T) {
	tests := []struct {
		name        string
		previous    string
		stored      string
		target      domain.Status
		wantApplied bool
		wantErr     error
	}{
		{name: "pending to completed", previous: "Pending", stored: "Completed", target: domain.StatusCompleted, wantApplied: true},
		{name: "repeat terminal", previous: "Completed", stored: "Completed", target: domain.StatusCompleted},
		{name: "conflicting terminal", previous: "Completed", stored: "Completed", target: domain.StatusFailed, wantErr: domain.ErrInvalidTransition},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := graph.NewMemoryClient()
			mem.PushWriteResult(graph.Result{Records: []graph.Record{{
				"payment":  map[string]any{"transactionId": "tx-1", "status": tc.stored, "amount": "10"},
				"previous": tc.previous,
			}}})
			s := NewGraphStore(mem)

			p, applied, err := s.Resolve(context.Background(), "tx-1", domain.Resolution{Status: tc.target, ReceiptNumber: "R1"})
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantApplied, applied)
			assert.Equal(t, domain.Status(tc.stored), p.Status)

			changes, ok := mem.WriteCalls()[0].Params["changes"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "R1", changes["receiptNumber"])
			assert.Equal(t, "Pending", mem.WriteCalls()[0].Params["pending"])
		})
	}
}

func TestGraphStore_ResolveRejectsPendingTarget(t *testing.T) {
	mem := graph.NewMemoryClient()
	s := NewGraphStore(mem)

	_, _, err := s.Resolve(context.Background(), "tx-1", domain.Resolution{Status: domain.StatusPending})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, mem.WriteCalls())
}

func TestGraphStore_EnsureSchemaAndErrors(t *testing.T) {
	mem := graph.NewMemoryClient()
	s := NewGraphStore(mem)

	require.NoError(t, s.EnsureSchema(context.Background()))
	calls := mem.WriteCalls()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[0].Query, "CREATE CONSTRAINT"))

	boom := errors.New("bolt down")
	failing := NewGraphStore(graph.NewMemoryClient().WithError(boom).WithConnectivityError(boom))
	assert.ErrorIs(t, failing.Put(context.Background(), pendingPush("tx-1", "")), boom)
	assert.ErrorIs(t, failing.Probe(context.Background()), boom)
	_, err := failing.All(context.Background())
	assert.ErrorIs(t, err, boom)
}
