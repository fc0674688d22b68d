package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/vanshika/umkhondo/internal/daraja"
	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/logging"
)

var callbackPaths = map[domain.CallbackKind]string{
	domain.CallbackMerchantPayment: "/mpesa/callbacks/c2b",
	domain.CallbackPushResult:      "/mpesa/callbacks/stk",
}

// SendSummary counts how the receiving server acknowledged each callback.
type SendSummary struct {
	Sent     int64 `json:"sent"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

// Sender posts callbacks to a running payment service.
type Sender struct {
	client     *http.Client
	baseURL    string
	workers    int
	retries    uint64
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewSender builds a Sender. client may be nil.
func NewSender(client *http.Client, baseURL string, workers int, logger *slog.Logger) *Sender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if workers <= 0 {
		workers = 4
	}
	return &Sender{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		workers:    workers,
		retries:    2,
		retryDelay: 200 * time.Millisecond,
		logger:     logging.OrDiscard(logger).With("component", "callback-sender"),
	}
}

// Send delivers every callback and stops at the first transport failure
// that survives retries.
func (s *Sender) Send(ctx context.Context, callbacks []domain.RawCallback) (SendSummary, error) {
	var sent, accepted, rejected atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, cb := range callbacks {
		cb := cb
		g.Go(func() error {
			ack, err := s.post(ctx, cb)
			if err != nil {
				return err
			}
			sent.Add(1)
			if ack.ResultCode == 0 {
				accepted.Add(1)
			} else {
				rejected.Add(1)
				s.logger.Debug("callback rejected", "kind", cb.Kind, "desc", ack.ResultDesc)
			}
			return nil
		})
	}
	err := g.Wait()

	return SendSummary{Sent: sent.Load(), Accepted: accepted.Load(), Rejected: rejected.Load()}, err
}

func (s *Sender) post(ctx context.Context, cb domain.RawCallback) (daraja.Acknowledgement, error) {
	path, ok := callbackPaths[cb.Kind]
	if !ok {
		return daraja.Acknowledgement{}, fmt.Errorf("unknown callback kind %q", cb.Kind)
	}

	var ack daraja.Acknowledgement
	backoff := retry.WithMaxRetries(s.retries, retry.NewConstant(s.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(cb.Payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("%s: status %d", path, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: status %d", path, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&ack)
	})
	if err != nil {
		return daraja.Acknowledgement{}, fmt.Errorf("deliver %s callback: %w", cb.Kind, err)
	}
	return ack, nil
}
