package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// ResultCodeCancelled is the network result code for a request the customer dismissed.
const ResultCodeCancelled = 1032

// ErrInvalidTransition is returned when a payment would leave a terminal state.
var ErrInvalidTransition = errors.New("invalid payment status transition")

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether s may move to the target status.
func (s Status) CanTransition(to Status) bool {
	return s == StatusPending && to.Terminal()
}

// StatusForResultCode maps a network result code onto a terminal status.
func StatusForResultCode(code int) Status {
	switch code {
	case 0:
		return StatusCompleted
	case ResultCodeCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Kind distinguishes merchant (C2B) payments from push (STK) payments.
type Kind string

const (
	KindMerchant Kind = "merchant"
	KindPush     Kind = "push"
)

// Direction is the ledger direction of a payment.
type Direction string

const DirectionExpense Direction = "expense"

// Source records where a payment record originated.
type Source string

const (
	SourceAPI        Source = "mpesa-api"
	SourceCallback   Source = "external-callback"
	SourceSimulation Source = "simulation"
)

// Payment models a single M-Pesa payment request and its outcome.
type Payment struct {
	TransactionID     string
	CorrelationID     string
	MerchantRequestID string
	ConversationID    string
	Kind              Kind
	PhoneNumber       string
	Amount            decimal.Decimal
	Description       string
	Reference         string
	Direction         Direction
	Status            Status
	Category          string
	ReceiptNumber     string
	ResultCode        int
	ResultDesc        string
	Source            Source
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// Resolution carries the outcome applied to a pending payment. Zero-valued
// fields leave the corresponding payment field untouched.
type Resolution struct {
	Status        Status
	Amount        decimal.Decimal
	ReceiptNumber string
	PhoneNumber   string
	Category      string
	ResultCode    int
	ResultDesc    string
	At            time.Time
}

// Apply moves p to the resolution status. Re-applying the status p already
// holds is a no-op and reports applied=false without an error.
func (p Payment) Apply(res Resolution) (Payment, bool, error) {
	if p.Status == res.Status {
		return p, false, nil
	}
	if !p.Status.CanTransition(res.Status) {
		return p, false, ErrInvalidTransition
	}

	p.Status = res.Status
	p.ResultCode = res.ResultCode
	if res.ResultDesc != "" {
		p.ResultDesc = res.ResultDesc
	}
	if res.Amount.IsPositive() {
		p.Amount = res.Amount
	}
	if res.ReceiptNumber != "" {
		p.ReceiptNumber = res.ReceiptNumber
	}
	if res.PhoneNumber != "" {
		p.PhoneNumber = res.PhoneNumber
	}
	if res.Category != "" {
		p.Category = res.Category
	}
	at := res.At.UTC()
	p.UpdatedAt = at
	if res.Status == StatusCompleted {
		p.CompletedAt = &at
	}
	return p, true, nil
}
