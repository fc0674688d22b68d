// Package daraja is a minimal client for the Safaricom M-Pesa (Daraja) API:
// OAuth token handshake, C2B simulation, STK push and STK query, plus
// decoding of the callbacks the network posts back.
package daraja

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// SandboxURL is the default API base.
	SandboxURL = "https://sandbox.safaricom.co.ke"

	tokenPath      = "/oauth/v1/generate?grant_type=client_credentials"
	c2bSimulate    = "/mpesa/c2b/v1/simulate"
	stkPushPath    = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath   = "/mpesa/stkpushquery/v1/query"
	maxErrorBody   = 2048
	defaultDelay   = 250 * time.Millisecond
	defaultTimeout = 10 * time.Second
)

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string

	// Timeout bounds each attempt. Zero means 10s.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transport error or a
	// 5xx reply.
	Retries int
	// RetryDelay is the pause between attempts. Zero means 250ms.
	RetryDelay time.Duration
	// HTTPClient is an optional custom HTTP client (for testing).
	HTTPClient *http.Client
}

// Client talks to the Daraja REST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	consumerKey    string
	consumerSecret string
	timeout        time.Duration
	retries        int
	retryDelay     time.Duration
}

// NewClient validates opts and returns a ready client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.ConsumerKey == "" || opts.ConsumerSecret == "" {
		return nil, errors.New("daraja: consumer key and secret are required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = SandboxURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultDelay
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		consumerKey:    opts.ConsumerKey,
		consumerSecret: opts.ConsumerSecret,
		timeout:        timeout,
		retries:        retries,
		retryDelay:     delay,
	}, nil
}

// FetchToken performs the client-credentials handshake. It satisfies
// token.Fetcher.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	var out TokenResponse
	err := c.do(ctx, http.MethodGet, tokenPath, "", nil, &out, func(req *http.Request) {
		req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	})
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &UpstreamError{Method: http.MethodGet, URL: c.baseURL + tokenPath, StatusCode: http.StatusOK, Body: "empty access_token"}
	}
	return out.AccessToken, nil
}

// SimulateC2B asks the sandbox to generate a customer-to-business payment.
func (c *Client) SimulateC2B(ctx context.Context, bearer string, req C2BSimulateRequest) (C2BSimulateResponse, error) {
	var out C2BSimulateResponse
	if err := c.do(ctx, http.MethodPost, c2bSimulate, bearer, req, &out, nil); err != nil {
		return C2BSimulateResponse{}, err
	}
	if err := c.accepted(c2bSimulate, out.ResponseCode, out.ResponseDescription); err != nil {
		return out, err
	}
	return out, nil
}

// STKPush sends a payment prompt to the customer's handset.
func (c *Client) STKPush(ctx context.Context, bearer string, req STKPushRequest) (STKPushResponse, error) {
	var out STKPushResponse
	if err := c.do(ctx, http.MethodPost, stkPushPath, bearer, req, &out, nil); err != nil {
		return STKPushResponse{}, err
	}
	if err := c.accepted(stkPushPath, out.ResponseCode, out.ResponseDescription); err != nil {
		return out, err
	}
	if out.CheckoutRequestID == "" {
		return out, &UpstreamError{Method: http.MethodPost, URL: c.baseURL + stkPushPath, StatusCode: http.StatusOK, Body: "missing CheckoutRequestID"}
	}
	return out, nil
}

// STKQuery reads the current state of a push request. It never mutates
// anything on the network side.
func (c *Client) STKQuery(ctx context.Context, bearer string, req STKQueryRequest) (STKQueryResponse, error) {
	var out STKQueryResponse
	if err := c.do(ctx, http.MethodPost, stkQueryPath, bearer, req, &out, nil); err != nil {
		return STKQueryResponse{}, err
	}
	return out, nil
}

func (c *Client) accepted(path string, code Text, desc string) error {
	if code == "" || code == ResponseCodeAccepted {
		return nil
	}
	return &UpstreamError{
		Method:     http.MethodPost,
		URL:        c.baseURL + path,
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf("response code %s: %s", code, desc),
	}
}

// do runs one logical call with up to c.retries extra attempts on
// retryable failures. Each attempt gets its own timeout.
func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any, decorate func(*http.Request)) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
	}

	backoff := retry.WithMaxRetries(uint64(c.retries), retry.NewConstant(c.retryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.attempt(ctx, method, path, bearer, payload, out, decorate)
		var upstream *UpstreamError
		if errors.As(err, &upstream) && upstream.Retryable() && ctx.Err() == nil {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) attempt(ctx context.Context, method, path, bearer string, payload []byte, out any, decorate func(*http.Request)) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + path
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if decorate != nil {
		decorate(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UpstreamError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Method: method, URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
