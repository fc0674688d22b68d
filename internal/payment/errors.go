// Package payment initiates M-Pesa payments, answers status queries and
// folds network callbacks into stored payment records.
package payment

import (
	"errors"

	"github.com/vanshika/umkhondo/internal/daraja"
	"github.com/vanshika/umkhondo/internal/phone"
	"github.com/vanshika/umkhondo/internal/store"
	"github.com/vanshika/umkhondo/internal/token"
)

// Errors callers can test for with errors.Is.
var (
	ErrCredentialsNotConfigured = errors.New("mpesa credentials not configured")
	ErrAuthenticationFailed     = token.ErrAuthenticationFailed
	ErrUnauthorizedPhoneAccess  = phone.ErrUnauthorizedAccess
	ErrInvalidPhoneNumber       = phone.ErrInvalidPhoneNumber
	ErrInvalidAmount            = errors.New("amount must be greater than zero")
	ErrTransactionNotFound      = store.ErrNotFound
	ErrUpstreamUnavailable      = daraja.ErrUpstreamUnavailable
	ErrOrphanedCallback         = errors.New("orphaned callback")
)

// Credentials identify the merchant account to the payment network.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

// Configured reports whether the key, secret and short code are all set.
func (c Credentials) Configured() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.ShortCode != ""
}
