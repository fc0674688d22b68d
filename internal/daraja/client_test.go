package daraja

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientOptions{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Timeout:        2 * time.Second,
		Retries:        retries,
		RetryDelay:     time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(ClientOptions{ConsumerKey: "key"})
	assert.Error(t, err)
}

func TestFetchTokenUsesBasicAuth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
	}), 0)

	tok, err := c.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestFetchTokenRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessage":"Invalid credentials"}`, http.StatusUnauthorized)
	}), 1)

	_, err := c.FetchToken(context.Background())
	require.Error(t, err)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.True(t, upstream.Unauthorized())
	assert.Contains(t, upstream.URL, "/oauth/v1/generate")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestSTKPushSendsPayload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, stkPushPath, r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var req STKPushRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "174379", req.BusinessShortCode)
		assert.Equal(t, int64(500), req.Amount)
		assert.Equal(t, "254712345678", req.PhoneNumber)

		_, _ = w.Write([]byte(`{"MerchantRequestID":"29115-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success"}`))
	}), 0)

	resp, err := c.STKPush(context.Background(), "tok-1", STKPushRequest{
		BusinessShortCode: "174379",
		Amount:            500,
		PhoneNumber:       "254712345678",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", resp.CheckoutRequestID)
}

func TestSTKPushNonZeroResponseCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"CheckoutRequestID":"ws_CO_1","ResponseCode":1,"ResponseDescription":"Rejected"}`))
	}), 0)

	_, err := c.STKPush(context.Background(), "tok", STKPushRequest{})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestRetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ConversationID":"AG_1","ResponseCode":"0"}`))
	}), 1)

	resp, err := c.SimulateC2B(context.Background(), "tok", C2BSimulateRequest{ShortCode: "600000", Amount: 250})
	require.NoError(t, err)
	assert.Equal(t, "AG_1", resp.ConversationID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}), 3)

	_, err := c.STKQuery(context.Background(), "tok", STKQueryRequest{CheckoutRequestID: "ws_CO_1"})
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusBadRequest, upstream.StatusCode)
	assert.Equal(t, "bad request", upstream.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExhaustedRetriesSurfaceUpstreamError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), 1)

	_, err := c.STKQuery(context.Background(), "tok", STKQueryRequest{})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPasswordAndTimestamp(t *testing.T) {
	ts := Timestamp(time.Date(2025, 4, 1, 7, 30, 5, 0, time.UTC))
	assert.Equal(t, "20250401103005", ts)
	assert.Equal(t, "MTc0Mzc5cGFzc2tleTIwMjUwNDAxMTAzMDA1", Password("174379", "passkey", ts))

	parsed, ok := ParseTimestamp(ts)
	require.True(t, ok)
	assert.True(t, parsed.Equal(time.Date(2025, 4, 1, 7, 30, 5, 0, time.UTC)))

	_, ok = ParseTimestamp("yesterday")
	assert.False(t, ok)
}

func TestTruncation(t *testing.T) {
	assert.Equal(t, "ABCDEFGHIJKL", AccountReference("ABCDEFGHIJKLMNOP"))
	assert.Equal(t, "Payment", TransactionDesc("  "))
	assert.Equal(t, "Lunch", TransactionDesc("Lunch"))
}
