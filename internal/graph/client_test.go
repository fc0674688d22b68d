package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAccessors(t *testing.T) {
	ts := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	rec := Record{
		"id":      "tx-1",
		"code":    int64(1032),
		"float":   float64(7),
		"props":   map[string]any{"status": "Pending"},
		"created": ts.Format(time.RFC3339Nano),
		"bad":     "yesterday",
	}

	assert.Equal(t, "tx-1", rec.String("id"))
	assert.Equal(t, "", rec.String("missing"))
	assert.Equal(t, int64(1032), rec.Int("code"))
	assert.Equal(t, int64(7), rec.Int("float"))
	assert.Equal(t, "Pending", rec.Map("props")["status"])
	assert.Nil(t, rec.Map("id"))

	got, ok := rec.Time("created")
	require.True(t, ok)
	assert.True(t, ts.Equal(got))

	_, ok = rec.Time("bad")
	assert.False(t, ok)
}

func TestMemoryClient_QueuedResultsBeforeResponder(t *testing.T) {
	mem := NewMemoryClient().WithResponder(func(string, map[string]any) (Result, error) {
		return Result{Records: []Record{{"from": "responder"}}}, nil
	})
	mem.PushReadResult(Result{Records: []Record{{"from": "queue"}}})

	first, err := mem.ExecuteRead(context.Background(), "RETURN 1", nil)
	require.NoError(t, err)
	second, err := mem.ExecuteRead(context.Background(), "RETURN 1", map[string]any{"a": 1})
	require.NoError(t, err)

	assert.Equal(t, "queue", first.Records[0].String("from"))
	assert.Equal(t, "responder", second.Records[0].String("from"))
	assert.Len(t, mem.ReadCalls(), 2)
}

func TestMemoryClient_Errors(t *testing.T) {
	boom := errors.New("boom")
	mem := NewMemoryClient().WithError(boom).WithConnectivityError(boom)

	_, err := mem.ExecuteWrite(context.Background(), "CREATE ()", nil)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, mem.VerifyConnectivity(context.Background()), boom)
	assert.Empty(t, mem.WriteCalls())
}
