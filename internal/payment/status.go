package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/logging"
	"github.com/vanshika/umkhondo/internal/metrics"
	"github.com/vanshika/umkhondo/internal/phone"
	"github.com/vanshika/umkhondo/internal/store"
)

// Origin says which side answered a status query.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// PaymentStatus is the answer to a status query, whether it came from the
// local store or the payment network.
type PaymentStatus struct {
	TransactionID     string          `json:"transactionId,omitempty"`
	CheckoutRequestID string          `json:"checkoutRequestId,omitempty"`
	Kind              domain.Kind     `json:"kind,omitempty"`
	Status            domain.Status   `json:"status"`
	PhoneNumber       string          `json:"phoneNumber,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description,omitempty"`
	Reference         string          `json:"reference,omitempty"`
	Category          string          `json:"category,omitempty"`
	ReceiptNumber     string          `json:"receiptNumber,omitempty"`
	ResultCode        int             `json:"resultCode"`
	ResultDesc        string          `json:"resultDesc,omitempty"`
	Source            domain.Source   `json:"source,omitempty"`
	CreatedAt         *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt         *time.Time      `json:"updatedAt,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	Origin            Origin          `json:"origin"`
}

// StatusOf is the local view of p.
func StatusOf(p domain.Payment) PaymentStatus {
	s := PaymentStatus{
		TransactionID:     p.TransactionID,
		CheckoutRequestID: p.CorrelationID,
		Kind:              p.Kind,
		Status:            p.Status,
		PhoneNumber:       p.PhoneNumber,
		Amount:            p.Amount,
		Description:       p.Description,
		Reference:         p.Reference,
		Category:          p.Category,
		ReceiptNumber:     p.ReceiptNumber,
		ResultCode:        p.ResultCode,
		ResultDesc:        p.ResultDesc,
		Source:            p.Source,
		CompletedAt:       p.CompletedAt,
		Origin:            OriginLocal,
	}
	if !p.CreatedAt.IsZero() {
		created := p.CreatedAt
		s.CreatedAt = &created
	}
	if !p.UpdatedAt.IsZero() {
		updated := p.UpdatedAt
		s.UpdatedAt = &updated
	}
	return s
}

func (s PaymentStatus) withRemote(state PushState) PaymentStatus {
	s.Status = state.Status
	s.ResultCode = state.ResultCode
	if state.ResultDesc != "" {
		s.ResultDesc = state.ResultDesc
	}
	s.Origin = OriginRemote
	return s
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	PhoneNumber string
	Status      domain.Status
	Kind        domain.Kind
}

// StatusService answers status queries.
type StatusService struct {
	store      store.Store
	gateway    Gateway
	tokens     TokenSource
	settlement *Settlement
	metrics    *metrics.Metrics
	logger     *slog.Logger
	nowFn      func() time.Time
}

func NewStatusService(st store.Store, gateway Gateway, tokens TokenSource, settlement *Settlement, m *metrics.Metrics, logger *slog.Logger) *StatusService {
	return &StatusService{
		store:      st,
		gateway:    gateway,
		tokens:     tokens,
		settlement: settlement,
		metrics:    m,
		logger:     logging.OrDiscard(logger).With("component", "status_service"),
		nowFn:      time.Now,
	}
}

// QueryByTransactionID never changes stored state. A pending push payment
// is refreshed from the network only when the gateway talks to one.
func (s *StatusService) QueryByTransactionID(ctx context.Context, transactionID string) (PaymentStatus, error) {
	p, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("transaction %s: %w", transactionID, err)
	}
	view := StatusOf(p)
	if p.Status != domain.StatusPending || p.CorrelationID == "" || settlesLocally(s.gateway) {
		return view, nil
	}

	state, err := s.queryPush(ctx, p.CorrelationID, &p)
	if err != nil {
		s.logger.Warn("remote status unavailable, answering from store",
			"transaction_id", transactionID,
			"checkout_request_id", p.CorrelationID,
			"error", err)
		return view, nil
	}
	if state.Settle || !state.Answered {
		return view, nil
	}
	return view.withRemote(state), nil
}

// QueryByCorrelationID asks the gateway about a push request. With the
// simulated gateway a pending request is resolved to Completed as a side
// effect.
func (s *StatusService) QueryByCorrelationID(ctx context.Context, correlationID string) (PaymentStatus, error) {
	var local *domain.Payment
	p, err := s.store.FindByCorrelation(ctx, correlationID)
	switch {
	case err == nil:
		local = &p
	case !errors.Is(err, store.ErrNotFound):
		return PaymentStatus{}, fmt.Errorf("checkout request %s: %w", correlationID, err)
	}

	state, err := s.queryPush(ctx, correlationID, local)
	if err != nil {
		return PaymentStatus{}, err
	}

	if local == nil {
		view := PaymentStatus{CheckoutRequestID: correlationID, Kind: domain.KindPush, Status: domain.StatusPending}
		if !state.Answered {
			view.Origin = OriginRemote
			return view, nil
		}
		return view.withRemote(state), nil
	}

	if state.Settle && state.Status.Terminal() && local.Status == domain.StatusPending {
		return s.settle(ctx, *local, state)
	}
	view := StatusOf(*local)
	if !state.Answered || state.Settle {
		return view, nil
	}
	return view.withRemote(state), nil
}

// List returns stored payments newest first.
func (s *StatusService) List(ctx context.Context, f ListFilter) ([]PaymentStatus, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	wantPhone := ""
	if f.PhoneNumber != "" {
		if n, err := phone.Normalize(f.PhoneNumber); err == nil {
			wantPhone = n
		} else {
			wantPhone = f.PhoneNumber
		}
	}

	out := make([]PaymentStatus, 0, len(all))
	for _, p := range all {
		if wantPhone != "" && p.PhoneNumber != wantPhone {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Kind != "" && p.Kind != f.Kind {
			continue
		}
		out = append(out, StatusOf(p))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return createdAt(out[i]).After(createdAt(out[j]))
	})
	return out, nil
}

func (s *StatusService) queryPush(ctx context.Context, correlationID string, local *domain.Payment) (PushState, error) {
	tok, err := s.tokens.Get(ctx)
	if err != nil {
		return PushState{}, err
	}
	state, err := s.gateway.QueryPush(ctx, tok.Value, correlationID, local)
	if err != nil {
		return PushState{}, upstreamFailure(s.tokens, s.metrics, s.logger, "push query", err)
	}
	return state, nil
}

func (s *StatusService) settle(ctx context.Context, p domain.Payment, state PushState) (PaymentStatus, error) {
	updated, applied, err := s.store.Resolve(ctx, p.TransactionID, domain.Resolution{
		Status:     state.Status,
		ResultCode: state.ResultCode,
		ResultDesc: state.ResultDesc,
		At:         s.nowFn(),
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		// A callback resolved it differently in the meantime.
		current, getErr := s.store.Get(ctx, p.TransactionID)
		if getErr != nil {
			return PaymentStatus{}, fmt.Errorf("transaction %s: %w", p.TransactionID, getErr)
		}
		return StatusOf(current), nil
	}
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("resolve %s: %w", p.TransactionID, err)
	}
	if applied {
		if err := s.settlement.Record(ctx, updated); err != nil {
			s.logger.Error("settlement incomplete", "transaction_id", updated.TransactionID, "error", err)
		}
		s.logger.Info("push payment resolved on query",
			"transaction_id", updated.TransactionID,
			"checkout_request_id", updated.CorrelationID,
			"status", updated.Status)
	}
	return StatusOf(updated), nil
}

func createdAt(s PaymentStatus) time.Time {
	if s.CreatedAt == nil {
		return time.Time{}
	}
	return *s.CreatedAt
}
