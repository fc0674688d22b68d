// Package store keeps payment records keyed by transaction id with a
// secondary lookup by correlation (checkout request) id.
package store

import (
	"context"
	"errors"

	"github.com/vanshika/umkhondo/internal/domain"
)

var (
	// ErrNotFound is returned when no payment matches the lookup key.
	ErrNotFound = errors.New("payment not found")
	// ErrDuplicate is returned by Create when the transaction id is taken.
	ErrDuplicate = errors.New("payment already exists")
)

// Store is the persistence contract for payment records. Resolve is the only
// way a stored status changes and must be atomic per transaction id.
type Store interface {
	Create(ctx context.Context, p domain.Payment) error
	Put(ctx context.Context, p domain.Payment) error
	Get(ctx context.Context, transactionID string) (domain.Payment, error)
	FindByCorrelation(ctx context.Context, correlationID string) (domain.Payment, error)
	All(ctx context.Context) ([]domain.Payment, error)
	Resolve(ctx context.Context, transactionID string, res domain.Resolution) (domain.Payment, bool, error)
}
