package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CallbackKind identifies the shape of an inbound network notification.
type CallbackKind string

const (
	CallbackMerchantPayment CallbackKind = "merchant_payment"
	CallbackPushResult      CallbackKind = "push_result"
)

// CallbackMetadata holds the named fields reported on a successful payment.
type CallbackMetadata struct {
	Amount        decimal.Decimal
	ReceiptNumber string
	PhoneNumber   string
	CompletedAt   time.Time
}

// CallbackEvent is a decoded notification. It is folded into a Payment and
// never stored on its own.
type CallbackEvent struct {
	Kind          CallbackKind
	CorrelationID string
	TransactionID string
	BillReference string
	ShortCode     string
	ResultCode    int
	ResultDesc    string
	Metadata      CallbackMetadata
}

// RawCallback is an undecoded notification body as received or recorded.
type RawCallback struct {
	Kind    CallbackKind    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}
