package payment

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/umkhondo/internal/daraja"
	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/events"
	"github.com/vanshika/umkhondo/internal/store"
)

func seedPending(t *testing.T, h *harness, id, checkoutID string) {
	t.Helper()
	require.NoError(t, h.store.Create(context.Background(), domain.Payment{
		TransactionID: id,
		CorrelationID: checkoutID,
		Kind:          domain.KindPush,
		PhoneNumber:   "254712345678",
		Amount:        decimal.NewFromInt(500),
		Description:   "Lunch",
		Direction:     domain.DirectionExpense,
		Status:        domain.StatusPending,
		Source:        domain.SourceSimulation,
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	}))
}

func TestHandlePushResultIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedPending(t, h, "TX1", "ws_CO_1")
	payload := stkCallback("ws_CO_1", 0, "500", "ABC123", "254712345678")

	first := h.processor.HandlePushResult(ctx, payload)
	require.True(t, first.OK, first.Error)
	assert.True(t, first.Applied)
	after, err := h.store.Get(ctx, "TX1")
	require.NoError(t, err)

	second := h.processor.HandlePushResult(ctx, payload)
	require.True(t, second.OK, second.Error)
	assert.False(t, second.Applied)
	assert.Equal(t, domain.StatusCompleted, second.Status)

	again, err := h.store.Get(ctx, "TX1")
	require.NoError(t, err)
	assert.Equal(t, after, again)
	assert.Len(t, h.entries(t), 1)
	assert.Len(t, h.publisher.published(), 1)
	assert.Len(t, h.payments(t), 1)
}

func TestHandlePushResultStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		want      domain.Status
		wantEvent string
		ledgered  bool
	}{
		{name: "success", code: 0, want: domain.StatusCompleted, wantEvent: events.TypePaymentCompleted, ledgered: true},
		{name: "customer cancelled", code: 1032, want: domain.StatusCancelled, wantEvent: events.TypePaymentCancelled},
		{name: "insufficient funds", code: 1, want: domain.StatusFailed, wantEvent: events.TypePaymentFailed},
		{name: "timeout", code: 1037, want: domain.StatusFailed, wantEvent: events.TypePaymentFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			seedPending(t, h, "TX1", "ws_CO_1")
			receipt := ""
			if tc.code == 0 {
				receipt = "ABC123"
			}

			res := h.processor.HandlePushResult(context.Background(), stkCallback("ws_CO_1", tc.code, "500", receipt, "254712345678"))
			require.True(t, res.OK, res.Error)
			assert.Equal(t, tc.want, res.Status)

			stored, err := h.store.Get(context.Background(), "TX1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, stored.Status)
			assert.Equal(t, tc.code, stored.ResultCode)

			published := h.publisher.published()
			require.Len(t, published, 1)
			assert.Equal(t, tc.wantEvent, published[0].Type)
			if tc.ledgered {
				assert.Len(t, h.entries(t), 1)
			} else {
				assert.Empty(t, h.entries(t))
			}
		})
	}
}

func TestHandlePushResultRejectsConflictingOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedPending(t, h, "TX1", "ws_CO_1")

	require.True(t, h.processor.HandlePushResult(ctx, stkCallback("ws_CO_1", 0, "500", "ABC123", "254712345678")).OK)

	res := h.processor.HandlePushResult(ctx, stkCallback("ws_CO_1", 1032, "", "", ""))
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, domain.ErrInvalidTransition)

	stored, err := h.store.Get(ctx, "TX1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestHandlePushResultSynthesizesOrphanSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload := stkCallback("ws_CO_unknown", 0, "75", "QWE987", "254712345678")

	res := h.processor.HandlePushResult(ctx, payload)
	require.True(t, res.OK, res.Error)
	assert.True(t, res.Applied)
	assert.Equal(t, "QWE987", res.TransactionID)

	dup := h.processor.HandlePushResult(ctx, payload)
	require.True(t, dup.OK, dup.Error)
	assert.False(t, dup.Applied)

	all := h.payments(t)
	require.Len(t, all, 1)
	p := all[0]
	assert.Equal(t, "QWE987", p.TransactionID)
	assert.Equal(t, "ws_CO_unknown", p.CorrelationID)
	assert.Equal(t, domain.StatusCompleted, p.Status)
	assert.Equal(t, domain.SourceCallback, p.Source)
	assert.Equal(t, "M-PESA STK Push Payment Receipt: QWE987", p.Description)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(75)))
	assert.Len(t, h.entries(t), 1)
}

func TestHandlePushResultDropsOrphanFailure(t *testing.T) {
	h := newHarness(t)

	res := h.processor.HandlePushResult(context.Background(), stkCallback("ws_CO_unknown", 1032, "", "", ""))
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrOrphanedCallback)
	assert.Contains(t, res.Error, "ws_CO_unknown")
	assert.Equal(t, 1, res.Acknowledgement().ResultCode)
	assert.Empty(t, h.payments(t))
	assert.Empty(t, h.publisher.published())
}

func TestHandlePushResultRejectsMalformedPayloads(t *testing.T) {
	h := newHarness(t)

	for _, payload := range []string{
		`not json`,
		`{"Body": {"stkCallback": {"CheckoutRequestID": "ws_CO_1"}}}`,
		`{"Body": {"stkCallback": {"CheckoutRequestID": "ws_CO_1", "ResultCode": "abc"}}}`,
	} {
		res := h.processor.HandlePushResult(context.Background(), []byte(payload))
		assert.False(t, res.OK, payload)
		assert.ErrorIs(t, res.Reason, daraja.ErrMalformedCallback, payload)
	}
	assert.Empty(t, h.payments(t))
}

func TestHandleMerchantPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload := c2bConfirmation("RKTQDM7W6S", "250.00", "0712345678", "KFC order")

	res := h.processor.HandleMerchantPayment(ctx, payload)
	require.True(t, res.OK, res.Error)
	assert.True(t, res.Applied)

	p, err := h.store.Get(ctx, "RKTQDM7W6S")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, p.Status)
	assert.Equal(t, domain.KindMerchant, p.Kind)
	assert.Equal(t, "254712345678", p.PhoneNumber)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, "KFC order", p.Reference)
	assert.Equal(t, "M-PESA Payment to 174379 Reference: KFC order", p.Description)
	assert.Equal(t, "Food", p.Category)
	assert.Equal(t, domain.SourceCallback, p.Source)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Username)

	// A redelivery overwrites the record without a second settlement.
	again := h.processor.HandleMerchantPayment(ctx, c2bConfirmation("RKTQDM7W6S", "300", "0712345678", "KFC order"))
	require.True(t, again.OK, again.Error)
	assert.False(t, again.Applied)

	p, err = h.store.Get(ctx, "RKTQDM7W6S")
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(300)))
	assert.Len(t, h.entries(t), 1)
	assert.Len(t, h.publisher.published(), 1)
}

func TestHandleMerchantPaymentRequiresTransactionID(t *testing.T) {
	h := newHarness(t)

	res := h.processor.HandleMerchantPayment(context.Background(), c2bConfirmation("", "10", "0712345678", "x"))
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, daraja.ErrMalformedCallback)

	res = h.processor.HandleMerchantPayment(context.Background(), []byte(`[]`))
	assert.False(t, res.OK)
}

func TestProcessDispatchesByKind(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.processor.Process(ctx, domain.RawCallback{
		Kind:    domain.CallbackMerchantPayment,
		Payload: json.RawMessage(c2bConfirmation("M1", "10", "254712345678", "rent")),
	})
	require.True(t, res.OK, res.Error)

	res = h.processor.Process(ctx, domain.RawCallback{Kind: "refund", Payload: json.RawMessage(`{}`)})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "refund")
}

type panickingStore struct {
	store.Store
}

func (panickingStore) FindByCorrelation(context.Context, string) (domain.Payment, error) {
	panic("boom")
}

func TestProcessorRecoversFromPanics(t *testing.T) {
	p := NewProcessor(panickingStore{}, nil, nil, nil, nil)

	res := p.HandlePushResult(context.Background(), stkCallback("ws_CO_1", 0, "1", "R1", "254712345678"))
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "boom")
	assert.Equal(t, daraja.Acknowledgement{ResultCode: 1, ResultDesc: "Failed to process: " + res.Error}, res.Acknowledgement())
}

func TestResultAcknowledgement(t *testing.T) {
	assert.Equal(t, daraja.Acknowledgement{ResultCode: 0, ResultDesc: "Accepted"}, Result{OK: true}.Acknowledgement())
}
