package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForResultCode(t *testing.T) {
	tests := []struct {
		code int
		want Status
	}{
		{0, StatusCompleted},
		{1032, StatusCancelled},
		{1, StatusFailed},
		{2001, StatusFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusForResultCode(tt.code), "code %d", tt.code)
	}
}

func TestPaymentApply_PendingToCompleted(t *testing.T) {
	at := time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)
	p := Payment{TransactionID: "tx-1", Status: StatusPending, Amount: decimal.NewFromInt(100)}

	got, applied, err := p.Apply(Resolution{
		Status:        StatusCompleted,
		Amount:        decimal.NewFromInt(500),
		ReceiptNumber: "ABC123",
		At:            at,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "ABC123", got.ReceiptNumber)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, at, *got.CompletedAt)
}

func TestPaymentApply_SameTerminalIsNoop(t *testing.T) {
	p := Payment{TransactionID: "tx-1", Status: StatusCompleted, ReceiptNumber: "FIRST"}

	got, applied, err := p.Apply(Resolution{Status: StatusCompleted, ReceiptNumber: "SECOND"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "FIRST", got.ReceiptNumber)
}

func TestPaymentApply_TerminalNeverReverts(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		p := Payment{Status: from}
		for _, to := range []Status{StatusPending, StatusCompleted, StatusFailed, StatusCancelled} {
			if to == from {
				continue
			}
			_, applied, err := p.Apply(Resolution{Status: to})
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
			assert.False(t, applied)
		}
	}
}

func TestPaymentApply_KeepsAmountWhenResolutionOmitsIt(t *testing.T) {
	p := Payment{Status: StatusPending, Amount: decimal.NewFromInt(250)}

	got, _, err := p.Apply(Resolution{Status: StatusFailed, ResultCode: 1, ResultDesc: "insufficient funds"})
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(250)))
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, "insufficient funds", got.ResultDesc)
}
