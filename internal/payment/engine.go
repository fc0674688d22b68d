package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/umkhondo/internal/daraja"
	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/logging"
	"github.com/vanshika/umkhondo/internal/metrics"
	"github.com/vanshika/umkhondo/internal/phone"
	"github.com/vanshika/umkhondo/internal/store"
	"github.com/vanshika/umkhondo/internal/token"
)

const (
	defaultDescription = "Payment"
	referencePrefix    = "REF"
)

// TokenSource hands out bearer tokens for gateway calls.
type TokenSource interface {
	Get(ctx context.Context) (token.Token, error)
	Invalidate()
}

// MerchantPaymentRequest asks for a customer-to-merchant payment.
type MerchantPaymentRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference,omitempty"`
}

// MerchantPaymentResult identifies a recorded merchant payment.
type MerchantPaymentResult struct {
	TransactionID  string        `json:"transactionId"`
	ConversationID string        `json:"conversationId"`
	Status         domain.Status `json:"status"`
	Description    string        `json:"responseDescription,omitempty"`
}

// PushPaymentRequest asks the customer's handset to authorize a payment.
type PushPaymentRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Reference   string          `json:"reference,omitempty"`
}

// PushPaymentResult identifies a pending push payment.
type PushPaymentResult struct {
	TransactionID     string        `json:"transactionId"`
	CheckoutRequestID string        `json:"checkoutRequestId"`
	MerchantRequestID string        `json:"merchantRequestId,omitempty"`
	CustomerMessage   string        `json:"customerMessage,omitempty"`
	Status            domain.Status `json:"status"`
}

// EngineDeps are the collaborators of an Engine. Gateway, Tokens and Store
// are required.
type EngineDeps struct {
	Credentials Credentials
	Gateway     Gateway
	Tokens      TokenSource
	Guard       *phone.Guard
	Store       store.Store
	Categorizer Categorizer
	Settlement  *Settlement
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Engine initiates payments and records them in the store.
type Engine struct {
	creds       Credentials
	gateway     Gateway
	tokens      TokenSource
	guard       *phone.Guard
	store       store.Store
	categorizer Categorizer
	settlement  *Settlement
	metrics     *metrics.Metrics
	logger      *slog.Logger
	nowFn       func() time.Time
	newID       func() string
}

// NewEngine validates deps and builds an Engine.
func NewEngine(deps EngineDeps) (*Engine, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errors.New("payment engine: gateway is required")
	case deps.Tokens == nil:
		return nil, errors.New("payment engine: token source is required")
	case deps.Store == nil:
		return nil, errors.New("payment engine: store is required")
	}
	return &Engine{
		creds:       deps.Credentials,
		gateway:     deps.Gateway,
		tokens:      deps.Tokens,
		guard:       deps.Guard,
		store:       deps.Store,
		categorizer: deps.Categorizer,
		settlement:  deps.Settlement,
		metrics:     deps.Metrics,
		logger:      logging.OrDiscard(deps.Logger).With("component", "payment_engine", "gateway", deps.Gateway.Name()),
		nowFn:       time.Now,
		newID:       newTransactionID,
	}, nil
}

// WithClock overrides the time source (used primarily in tests).
func (e *Engine) WithClock(nowFn func() time.Time) *Engine {
	if nowFn != nil {
		e.nowFn = nowFn
	}
	return e
}

// SimulateMerchantPayment records a merchant payment. Merchant payments are
// confirmed synchronously and stored as Completed.
func (e *Engine) SimulateMerchantPayment(ctx context.Context, caller string, req MerchantPaymentRequest) (MerchantPaymentResult, error) {
	const kind = string(domain.KindMerchant)

	msisdn, bearer, err := e.prepare(ctx, caller, req.PhoneNumber, req.Amount)
	if err != nil {
		e.metrics.PaymentInitiated(kind, outcomeRejected)
		return MerchantPaymentResult{}, err
	}

	now := e.nowFn().UTC()
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = referencePrefix + daraja.Timestamp(now)
	}

	receipt, err := e.gateway.SimulateMerchant(ctx, bearer, MerchantOrder{
		PhoneNumber: msisdn,
		Amount:      req.Amount,
		Reference:   reference,
	})
	if err != nil {
		e.metrics.PaymentInitiated(kind, outcomeFailed)
		return MerchantPaymentResult{}, e.upstream("merchant payment", err)
	}

	id := e.newID()
	description := "M-PESA Payment Reference: " + reference
	payment := domain.Payment{
		TransactionID:  id,
		ConversationID: receipt.ConversationID,
		Kind:           domain.KindMerchant,
		PhoneNumber:    msisdn,
		Amount:         req.Amount,
		Description:    description,
		Reference:      reference,
		Direction:      domain.DirectionExpense,
		Status:         domain.StatusCompleted,
		Category:       e.categorize(description),
		ReceiptNumber:  id,
		ResultCode:     0,
		ResultDesc:     receipt.Description,
		Source:         receipt.Source,
		CreatedAt:      now,
		UpdatedAt:      now,
		CompletedAt:    &now,
	}
	if err := e.store.Create(ctx, payment); err != nil {
		e.metrics.PaymentInitiated(kind, outcomeFailed)
		return MerchantPaymentResult{}, fmt.Errorf("store merchant payment %s: %w", id, err)
	}
	if err := e.settlement.Record(ctx, payment); err != nil {
		e.logger.Error("settlement incomplete", "transaction_id", id, "error", err)
	}

	e.metrics.PaymentInitiated(kind, outcomeApplied)
	e.logger.Info("merchant payment completed",
		"transaction_id", id,
		"conversation_id", receipt.ConversationID,
		"caller", caller,
		"amount", req.Amount.String())
	return MerchantPaymentResult{
		TransactionID:  id,
		ConversationID: receipt.ConversationID,
		Status:         payment.Status,
		Description:    receipt.Description,
	}, nil
}

// InitiatePushPayment sends a push request to the customer's handset and
// records it as Pending until a callback or status query resolves it.
func (e *Engine) InitiatePushPayment(ctx context.Context, caller string, req PushPaymentRequest) (PushPaymentResult, error) {
	const kind = string(domain.KindPush)

	msisdn, bearer, err := e.prepare(ctx, caller, req.PhoneNumber, req.Amount)
	if err != nil {
		e.metrics.PaymentInitiated(kind, outcomeRejected)
		return PushPaymentResult{}, err
	}

	now := e.nowFn().UTC()
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = defaultDescription
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = referencePrefix + daraja.Timestamp(now)
	}

	receipt, err := e.gateway.Push(ctx, bearer, PushOrder{
		PhoneNumber: msisdn,
		Amount:      req.Amount,
		Description: description,
		Reference:   reference,
	})
	if err != nil {
		e.metrics.PaymentInitiated(kind, outcomeFailed)
		return PushPaymentResult{}, e.upstream("push payment", err)
	}

	id := e.newID()
	payment := domain.Payment{
		TransactionID:     id,
		CorrelationID:     receipt.CheckoutRequestID,
		MerchantRequestID: receipt.MerchantRequestID,
		Kind:              domain.KindPush,
		PhoneNumber:       msisdn,
		Amount:            req.Amount,
		Description:       description,
		Reference:         reference,
		Direction:         domain.DirectionExpense,
		Status:            domain.StatusPending,
		Category:          e.categorize(description),
		Source:            receipt.Source,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.Create(ctx, payment); err != nil {
		e.metrics.PaymentInitiated(kind, outcomeFailed)
		return PushPaymentResult{}, fmt.Errorf("store push payment %s: %w", id, err)
	}

	e.metrics.PaymentInitiated(kind, outcomeApplied)
	e.logger.Info("push payment pending",
		"transaction_id", id,
		"checkout_request_id", receipt.CheckoutRequestID,
		"caller", caller,
		"amount", req.Amount.String())
	return PushPaymentResult{
		TransactionID:     id,
		CheckoutRequestID: receipt.CheckoutRequestID,
		MerchantRequestID: receipt.MerchantRequestID,
		CustomerMessage:   receipt.CustomerMessage,
		Status:            payment.Status,
	}, nil
}

// prepare runs the checks shared by both initiation modes and returns the
// canonical phone number and a bearer token.
func (e *Engine) prepare(ctx context.Context, caller, rawPhone string, amount decimal.Decimal) (string, string, error) {
	if !e.creds.Configured() {
		return "", "", ErrCredentialsNotConfigured
	}
	if !amount.IsPositive() {
		return "", "", fmt.Errorf("%w: got %s", ErrInvalidAmount, amount.String())
	}
	msisdn, err := phone.Canonical(rawPhone)
	if err != nil {
		return "", "", err
	}
	if err := e.guard.AssertOwnedOrAdmin(ctx, caller, msisdn); err != nil {
		e.logger.Warn("payment refused", "caller", caller, "phone_number", msisdn, "error", err)
		return "", "", err
	}
	tok, err := e.tokens.Get(ctx)
	if err != nil {
		return "", "", err
	}
	return msisdn, tok.Value, nil
}

func (e *Engine) upstream(operation string, err error) error {
	return upstreamFailure(e.tokens, e.metrics, e.logger, operation, err)
}

func (e *Engine) categorize(text string) string {
	if e.categorizer == nil {
		return ""
	}
	return e.categorizer.Categorize(text)
}

// upstreamFailure classifies a gateway error. A rejected bearer token is
// dropped so the next call performs a fresh handshake.
func upstreamFailure(tokens TokenSource, m *metrics.Metrics, logger *slog.Logger, operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTransactionNotFound) {
		return err
	}
	m.UpstreamFailure(operation)

	var upstreamErr *daraja.UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.Unauthorized() {
		tokens.Invalidate()
	}
	logger.Error("upstream call failed", "operation", operation, "error", err)
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", operation, ErrUpstreamUnavailable, err)
}

func newTransactionID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
