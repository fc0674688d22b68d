package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vanshika/umkhondo/internal/domain"
)

// MerchantOrder is a validated merchant (C2B) payment ready to send.
type MerchantOrder struct {
	PhoneNumber string
	Amount      decimal.Decimal
	Reference   string
}

// MerchantReceipt is the network's acceptance of a merchant payment.
type MerchantReceipt struct {
	ConversationID string
	Description    string
	Source         domain.Source
}

// PushOrder is a validated push (STK) payment ready to send.
type PushOrder struct {
	PhoneNumber string
	Amount      decimal.Decimal
	Description string
	Reference   string
}

// PushReceipt is the network's acceptance of a push request.
type PushReceipt struct {
	CheckoutRequestID string
	MerchantRequestID string
	CustomerMessage   string
	Source            domain.Source
}

// PushState is the network's view of a push request.
type PushState struct {
	// Answered is false while the customer has not yet responded.
	Answered   bool
	Status     domain.Status
	ResultCode int
	ResultDesc string
	// Settle marks an answer that should be written back to the store.
	// Only the simulated gateway sets it.
	Settle bool
}

// Gateway is the payment network backend. One implementation is chosen at
// start-up.
type Gateway interface {
	Name() string
	SimulateMerchant(ctx context.Context, bearer string, order MerchantOrder) (MerchantReceipt, error)
	Push(ctx context.Context, bearer string, order PushOrder) (PushReceipt, error)
	// QueryPush reports the state of the push request correlationID. local
	// is the stored record, or nil when none exists.
	QueryPush(ctx context.Context, bearer, correlationID string, local *domain.Payment) (PushState, error)
}

// localSettler is implemented by gateways whose answers come from the store
// itself rather than the network.
type localSettler interface {
	SettlesLocally() bool
}

func settlesLocally(g Gateway) bool {
	ls, ok := g.(localSettler)
	return ok && ls.SettlesLocally()
}
