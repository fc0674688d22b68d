package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vanshika/umkhondo/internal/daraja"
	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/logging"
	"github.com/vanshika/umkhondo/internal/metrics"
	"github.com/vanshika/umkhondo/internal/phone"
	"github.com/vanshika/umkhondo/internal/store"
)

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
	outcomeOrphaned  = "orphaned"
	outcomeRejected  = "rejected"
)

// Categorizer assigns a spending category to a free-text description.
type Categorizer interface {
	Categorize(text string) string
}

// Result is the outcome of processing one callback. Processing never fails
// loudly; a rejected callback is reported with OK=false.
type Result struct {
	OK            bool          `json:"ok"`
	TransactionID string        `json:"transactionId,omitempty"`
	Status        domain.Status `json:"status,omitempty"`
	// Applied is true when the callback changed stored state.
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
	Reason  error  `json:"-"`
}

// Acknowledgement is the reply the payment network expects.
func (r Result) Acknowledgement() daraja.Acknowledgement {
	if r.OK {
		return daraja.Acknowledgement{ResultCode: 0, ResultDesc: "Accepted"}
	}
	return daraja.Acknowledgement{ResultCode: 1, ResultDesc: "Failed to process: " + r.Error}
}

func failed(err error) Result {
	return Result{Error: err.Error(), Reason: err}
}

// Processor folds network callbacks into stored payments.
type Processor struct {
	store       store.Store
	categorizer Categorizer
	settlement  *Settlement
	metrics     *metrics.Metrics
	logger      *slog.Logger
	nowFn       func() time.Time
}

// NewProcessor builds a Processor. settlement, m and logger may be nil.
func NewProcessor(st store.Store, categorizer Categorizer, settlement *Settlement, m *metrics.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		store:       st,
		categorizer: categorizer,
		settlement:  settlement,
		metrics:     m,
		logger:      logging.OrDiscard(logger).With("component", "callback_processor"),
		nowFn:       time.Now,
	}
}

// WithClock overrides the time source used when a callback carries no timestamp.
func (p *Processor) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		p.nowFn = nowFn
	}
}

// Process dispatches a recorded or received callback by kind.
func (p *Processor) Process(ctx context.Context, raw domain.RawCallback) Result {
	switch raw.Kind {
	case domain.CallbackMerchantPayment:
		return p.HandleMerchantPayment(ctx, raw.Payload)
	case domain.CallbackPushResult:
		return p.HandlePushResult(ctx, raw.Payload)
	default:
		return failed(fmt.Errorf("unknown callback kind %q", raw.Kind))
	}
}

// HandleMerchantPayment records a merchant confirmation as a completed
// payment. A repeated confirmation overwrites the stored record without
// settling it again.
func (p *Processor) HandleMerchantPayment(ctx context.Context, payload []byte) (res Result) {
	defer p.recoverPanic(domain.CallbackMerchantPayment, &res)

	event, err := daraja.DecodeC2BConfirmation(payload)
	if err != nil {
		return p.reject(domain.CallbackMerchantPayment, err)
	}
	if event.TransactionID == "" {
		return p.reject(domain.CallbackMerchantPayment, fmt.Errorf("%w: missing TransID", daraja.ErrMalformedCallback))
	}

	at := p.eventTime(event)
	payment := domain.Payment{
		TransactionID: event.TransactionID,
		Kind:          domain.KindMerchant,
		PhoneNumber:   normalizeLoose(event.Metadata.PhoneNumber),
		Amount:        event.Metadata.Amount,
		Description:   fmt.Sprintf("M-PESA Payment to %s Reference: %s", event.ShortCode, event.BillReference),
		Reference:     event.BillReference,
		Direction:     domain.DirectionExpense,
		Status:        domain.StatusCompleted,
		Category:      p.categorize("M-PESA Payment Reference: " + event.BillReference),
		ReceiptNumber: event.Metadata.ReceiptNumber,
		ResultCode:    0,
		ResultDesc:    "Success",
		Source:        domain.SourceCallback,
		CreatedAt:     at,
		UpdatedAt:     at,
		CompletedAt:   &at,
	}

	err = p.store.Create(ctx, payment)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		if err := p.store.Put(ctx, payment); err != nil {
			return p.reject(domain.CallbackMerchantPayment, fmt.Errorf("overwrite %s: %w", payment.TransactionID, err))
		}
		p.metrics.Callback(string(domain.CallbackMerchantPayment), outcomeDuplicate)
		p.logger.Info("merchant confirmation replaced existing record", "transaction_id", payment.TransactionID)
		return Result{OK: true, TransactionID: payment.TransactionID, Status: payment.Status}
	case err != nil:
		return p.reject(domain.CallbackMerchantPayment, fmt.Errorf("store %s: %w", payment.TransactionID, err))
	}

	p.settle(ctx, payment)
	p.metrics.Callback(string(domain.CallbackMerchantPayment), outcomeApplied)
	p.logger.Info("merchant payment recorded", "transaction_id", payment.TransactionID, "amount", payment.Amount.String())
	return Result{OK: true, TransactionID: payment.TransactionID, Status: payment.Status, Applied: true}
}

// HandlePushResult resolves the pending push payment the callback refers to.
// A successful result with no matching request is recorded under its receipt
// number; an unmatched failure is rejected as orphaned.
func (p *Processor) HandlePushResult(ctx context.Context, payload []byte) (res Result) {
	defer p.recoverPanic(domain.CallbackPushResult, &res)

	event, err := daraja.DecodeSTKCallback(payload)
	if err != nil {
		return p.reject(domain.CallbackPushResult, err)
	}

	existing, err := p.findPending(ctx, event.CorrelationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return p.orphan(ctx, event)
	case err != nil:
		return p.reject(domain.CallbackPushResult, fmt.Errorf("lookup %s: %w", event.CorrelationID, err))
	}

	status := domain.StatusForResultCode(event.ResultCode)
	resolution := domain.Resolution{
		Status:     status,
		ResultCode: event.ResultCode,
		ResultDesc: event.ResultDesc,
		At:         p.eventTime(event),
	}
	if status == domain.StatusCompleted {
		resolution.Amount = event.Metadata.Amount
		resolution.ReceiptNumber = event.Metadata.ReceiptNumber
		resolution.PhoneNumber = normalizeLoose(event.Metadata.PhoneNumber)
		if existing.Category == "" {
			resolution.Category = p.categorize(existing.Description)
		}
	}

	updated, applied, err := p.store.Resolve(ctx, existing.TransactionID, resolution)
	if err != nil {
		p.logger.Warn("push result rejected",
			"transaction_id", existing.TransactionID,
			"current_status", existing.Status,
			"reported_status", status,
			"error", err)
		return p.reject(domain.CallbackPushResult, fmt.Errorf("resolve %s: %w", existing.TransactionID, err))
	}
	if !applied {
		p.metrics.Callback(string(domain.CallbackPushResult), outcomeDuplicate)
		return Result{OK: true, TransactionID: updated.TransactionID, Status: updated.Status}
	}

	p.settle(ctx, updated)
	p.metrics.Callback(string(domain.CallbackPushResult), outcomeApplied)
	p.logger.Info("push payment resolved",
		"transaction_id", updated.TransactionID,
		"checkout_request_id", updated.CorrelationID,
		"status", updated.Status,
		"result_code", updated.ResultCode)
	return Result{OK: true, TransactionID: updated.TransactionID, Status: updated.Status, Applied: true}
}

func (p *Processor) findPending(ctx context.Context, correlationID string) (domain.Payment, error) {
	if correlationID == "" {
		return domain.Payment{}, store.ErrNotFound
	}
	return p.store.FindByCorrelation(ctx, correlationID)
}

func (p *Processor) orphan(ctx context.Context, event domain.CallbackEvent) Result {
	status := domain.StatusForResultCode(event.ResultCode)
	if status != domain.StatusCompleted || event.Metadata.ReceiptNumber == "" {
		p.metrics.Callback(string(domain.CallbackPushResult), outcomeOrphaned)
		p.logger.Warn("orphaned push result",
			"checkout_request_id", event.CorrelationID,
			"result_code", event.ResultCode)
		return failed(fmt.Errorf("%w: no push request %q", ErrOrphanedCallback, event.CorrelationID))
	}

	at := p.eventTime(event)
	description := "M-PESA STK Push Payment Receipt: " + event.Metadata.ReceiptNumber
	payment := domain.Payment{
		TransactionID: event.Metadata.ReceiptNumber,
		CorrelationID: event.CorrelationID,
		Kind:          domain.KindPush,
		PhoneNumber:   normalizeLoose(event.Metadata.PhoneNumber),
		Amount:        event.Metadata.Amount,
		Description:   description,
		Reference:     event.Metadata.ReceiptNumber,
		Direction:     domain.DirectionExpense,
		Status:        domain.StatusCompleted,
		Category:      p.categorize(description),
		ReceiptNumber: event.Metadata.ReceiptNumber,
		ResultCode:    event.ResultCode,
		ResultDesc:    event.ResultDesc,
		Source:        domain.SourceCallback,
		CreatedAt:     at,
		UpdatedAt:     at,
		CompletedAt:   &at,
	}

	err := p.store.Create(ctx, payment)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		p.metrics.Callback(string(domain.CallbackPushResult), outcomeDuplicate)
		return Result{OK: true, TransactionID: payment.TransactionID, Status: payment.Status}
	case err != nil:
		return p.reject(domain.CallbackPushResult, fmt.Errorf("store %s: %w", payment.TransactionID, err))
	}

	p.settle(ctx, payment)
	p.metrics.Callback(string(domain.CallbackPushResult), outcomeApplied)
	p.logger.Info("recorded push result without matching request",
		"transaction_id", payment.TransactionID,
		"checkout_request_id", event.CorrelationID)
	return Result{OK: true, TransactionID: payment.TransactionID, Status: payment.Status, Applied: true}
}

func (p *Processor) settle(ctx context.Context, payment domain.Payment) {
	if err := p.settlement.Record(ctx, payment); err != nil {
		p.logger.Error("settlement incomplete", "transaction_id", payment.TransactionID, "error", err)
	}
}

func (p *Processor) reject(kind domain.CallbackKind, err error) Result {
	p.metrics.Callback(string(kind), outcomeFailed)
	p.logger.Warn("callback rejected", "kind", kind, "error", err)
	return failed(err)
}

func (p *Processor) recoverPanic(kind domain.CallbackKind, res *Result) {
	if r := recover(); r != nil {
		p.logger.Error("callback processing panicked", "kind", kind, "panic", r)
		p.metrics.Callback(string(kind), outcomeFailed)
		*res = failed(fmt.Errorf("internal error: %v", r))
	}
}

func (p *Processor) eventTime(event domain.CallbackEvent) time.Time {
	if !event.Metadata.CompletedAt.IsZero() {
		return event.Metadata.CompletedAt.UTC()
	}
	return p.nowFn().UTC()
}

func (p *Processor) categorize(text string) string {
	if p.categorizer == nil {
		return ""
	}
	return p.categorizer.Categorize(text)
}

// normalizeLoose rewrites a number into the 254 form when possible and keeps
// the raw value otherwise.
func normalizeLoose(raw string) string {
	if raw == "" {
		return ""
	}
	if n, err := phone.Normalize(raw); err == nil {
		return n
	}
	return raw
}
