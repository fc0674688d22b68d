package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/umkhondo/internal/domain"
)

func TestReplayerProcessesDataset(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		seedPending(t, h, fmt.Sprintf("TX%d", i), fmt.Sprintf("ws_CO_%d", i))
	}

	var dataset []domain.RawCallback
	for i := 0; i < 5; i++ {
		code := 0
		receipt := fmt.Sprintf("RCPT%d", i)
		if i == 4 {
			code, receipt = 1032, ""
		}
		dataset = append(dataset, domain.RawCallback{
			Kind:    domain.CallbackPushResult,
			Payload: json.RawMessage(stkCallback(fmt.Sprintf("ws_CO_%d", i), code, "100", receipt, "254712345678")),
		})
	}
	// A redelivery, a merchant confirmation, an orphaned failure and junk.
	dataset = append(dataset,
		dataset[0],
		domain.RawCallback{Kind: domain.CallbackMerchantPayment, Payload: json.RawMessage(c2bConfirmation("MC1", "40", "254712345678", "rent"))},
		domain.RawCallback{Kind: domain.CallbackPushResult, Payload: json.RawMessage(stkCallback("ws_CO_gone", 1, "", "", ""))},
		domain.RawCallback{Kind: domain.CallbackPushResult, Payload: json.RawMessage(`{`)},
	)

	summary, err := NewReplayer(h.processor, 3, nil).Replay(context.Background(), dataset)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Len(t, taskErr.Errors, 2)
	assert.ErrorIs(t, err, ErrOrphanedCallback)

	assert.Equal(t, ReplaySummary{Total: 9, OK: 7, Applied: 6, Failed: 2, Orphaned: 1}, summary)

	completed, err := h.status.List(context.Background(), ListFilter{Status: domain.StatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 5)
	assert.Len(t, h.entries(t), 5)
}

func TestReplayerEmptyDataset(t *testing.T) {
	h := newHarness(t)
	summary, err := NewReplayer(h.processor, 0, nil).Replay(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ReplaySummary{}, summary)
}

func TestReplayerStopsOnCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dataset := []domain.RawCallback{
		{Kind: domain.CallbackMerchantPayment, Payload: json.RawMessage(c2bConfirmation("MC1", "40", "254712345678", "rent"))},
	}
	summary, err := NewReplayer(h.processor, 1, nil).Replay(ctx, dataset)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Total)
}

func TestTaskErrorMessage(t *testing.T) {
	var e TaskError
	assert.Equal(t, "no errors", e.Error())
	assert.NoError(t, e.asError())

	e.append(nil)
	e.append(ErrOrphanedCallback)
	assert.Equal(t, "orphaned callback", e.Error())

	e.append(fmt.Errorf("second"))
	assert.Equal(t, "2 callbacks failed: orphaned callback; second", e.Error())
}
