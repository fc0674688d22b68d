package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/umkhondo/internal/category"
	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/events"
	"github.com/vanshika/umkhondo/internal/ledger"
	"github.com/vanshika/umkhondo/internal/metrics"
	"github.com/vanshika/umkhondo/internal/phone"
	"github.com/vanshika/umkhondo/internal/store"
	"github.com/vanshika/umkhondo/internal/token"
)

var fixedNow = time.Date(2025, 4, 1, 7, 30, 5, 0, time.UTC)

var testCredentials = Credentials{
	ConsumerKey:    "key",
	ConsumerSecret: "secret",
	ShortCode:      "174379",
	Passkey:        "passkey",
	CallbackURL:    "https://example.test/mpesa/callbacks/stk",
}

type fakeDirectory struct {
	phones map[string]string
	admins map[string]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		phones: map[string]string{
			"alice": "254712345678",
			"bob":   "254711111111",
			"merch": "254700000000",
			"root":  "254799999999",
		},
		admins: map[string]bool{"root": true},
	}
}

func (d *fakeDirectory) Phone(_ context.Context, username string) (string, bool, error) {
	p, ok := d.phones[username]
	return p, ok, nil
}

func (d *fakeDirectory) IsAdmin(_ context.Context, username string) (bool, error) {
	return d.admins[username], nil
}

func (d *fakeDirectory) UsernameForPhone(_ context.Context, number string) (string, bool) {
	for name, p := range d.phones {
		if phone.SameSubscriber(p, number) {
			return name, true
		}
	}
	return "", false
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.PaymentEvent(nil), p.events...)
}

type harness struct {
	store      *store.MemoryStore
	ledger     *ledger.MemoryLedger
	publisher  *recordingPublisher
	directory  *fakeDirectory
	metrics    *metrics.Metrics
	fetches    *atomic.Int32
	tokens     *token.Cache
	gateway    Gateway
	settlement *Settlement
	engine     *Engine
	processor  *Processor
	status     *StatusService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	gateway     Gateway
	credentials Credentials
	fetchErr    error
}

func withGateway(g Gateway) harnessOption {
	return func(c *harnessConfig) { c.gateway = g }
}

func withCredentials(creds Credentials) harnessOption {
	return func(c *harnessConfig) { c.credentials = creds }
}

func withFetchError(err error) harnessOption {
	return func(c *harnessConfig) { c.fetchErr = err }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{credentials: testCredentials}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.gateway == nil {
		sim := NewSimulatedGateway(0)
		sim.WithClock(func() time.Time { return fixedNow })
		cfg.gateway = sim
	}

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	h := &harness{
		store:     store.NewMemoryStore(),
		ledger:    ledger.NewMemoryLedger(),
		publisher: &recordingPublisher{},
		directory: newFakeDirectory(),
		metrics:   m,
		fetches:   &atomic.Int32{},
		gateway:   cfg.gateway,
	}
	fetchErr := cfg.fetchErr
	h.tokens = token.NewCache(token.FetcherFunc(func(context.Context) (string, error) {
		n := h.fetches.Add(1)
		if fetchErr != nil {
			return "", fetchErr
		}
		return fmt.Sprintf("token-%d", n), nil
	}), token.WithClock(func() time.Time { return fixedNow }))

	categorizer := category.NewKeyword()
	h.settlement = NewSettlement(h.ledger, h.directory, h.publisher, m, nil)
	h.engine, err = NewEngine(EngineDeps{
		Credentials: cfg.credentials,
		Gateway:     h.gateway,
		Tokens:      h.tokens,
		Guard:       phone.NewGuard(h.directory),
		Store:       h.store,
		Categorizer: categorizer,
		Settlement:  h.settlement,
		Metrics:     m,
	})
	require.NoError(t, err)
	h.engine.WithClock(func() time.Time { return fixedNow })

	h.processor = NewProcessor(h.store, categorizer, h.settlement, m, nil)
	h.processor.WithClock(func() time.Time { return fixedNow })
	h.status = NewStatusService(h.store, h.gateway, h.tokens, h.settlement, m, nil)
	return h
}

func (h *harness) entries(t *testing.T) []ledger.Entry {
	t.Helper()
	out, err := h.ledger.List(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	return out
}

func (h *harness) payments(t *testing.T) []domain.Payment {
	t.Helper()
	out, err := h.store.All(context.Background())
	require.NoError(t, err)
	return out
}

// stkCallback renders a push-result envelope. A receipt of "" omits the
// metadata block entirely, as the network does for failures.
func stkCallback(checkoutID string, code int, amount, receipt, msisdn string) []byte {
	metadata := ""
	if receipt != "" {
		metadata = fmt.Sprintf(`,
      "CallbackMetadata": {"Item": [
        {"Name": "Amount", "Value": %s},
        {"Name": "MpesaReceiptNumber", "Value": %q},
        {"Name": "TransactionDate", "Value": 20250401103005},
        {"Name": "PhoneNumber", "Value": %s}
      ]}`, amount, receipt, msisdn)
	}
	return []byte(fmt.Sprintf(`{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": %q,
      "ResultCode": %d,
      "ResultDesc": "result %d"%s
    }
  }
}`, checkoutID, code, code, metadata))
}

func c2bConfirmation(transID, amount, msisdn, reference string) []byte {
	return []byte(fmt.Sprintf(`{
  "TransactionType": "Pay Bill",
  "TransID": %q,
  "TransTime": "20250401103005",
  "TransAmount": %q,
  "BusinessShortCode": "174379",
  "BillRefNumber": %q,
  "MSISDN": %q,
  "FirstName": "Jane"
}`, transID, amount, reference, msisdn))
}

// stubGateway lets tests script gateway answers.
type stubGateway struct {
	mu         sync.Mutex
	merchant   func(MerchantOrder) (MerchantReceipt, error)
	push       func(PushOrder) (PushReceipt, error)
	query      func(string, *domain.Payment) (PushState, error)
	bearers    []string
	queryCalls int
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) SimulateMerchant(_ context.Context, bearer string, order MerchantOrder) (MerchantReceipt, error) {
	g.record(bearer)
	if g.merchant == nil {
		return MerchantReceipt{}, errors.New("merchant not scripted")
	}
	return g.merchant(order)
}

func (g *stubGateway) Push(_ context.Context, bearer string, order PushOrder) (PushReceipt, error) {
	g.record(bearer)
	if g.push == nil {
		return PushReceipt{}, errors.New("push not scripted")
	}
	return g.push(order)
}

func (g *stubGateway) QueryPush(_ context.Context, bearer, correlationID string, local *domain.Payment) (PushState, error) {
	g.record(bearer)
	g.mu.Lock()
	g.queryCalls++
	g.mu.Unlock()
	if g.query == nil {
		return PushState{}, errors.New("query not scripted")
	}
	return g.query(correlationID, local)
}

func (g *stubGateway) record(bearer string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bearers = append(g.bearers, bearer)
}
