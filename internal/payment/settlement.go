package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/events"
	"github.com/vanshika/umkhondo/internal/ledger"
	"github.com/vanshika/umkhondo/internal/logging"
	"github.com/vanshika/umkhondo/internal/metrics"
)

// OwnerResolver maps a paying phone number to the username that owns it.
type OwnerResolver interface {
	UsernameForPhone(ctx context.Context, phoneNumber string) (string, bool)
}

// Settlement hands terminal payments to the ledger and the event stream.
type Settlement struct {
	ledger    ledger.Ledger
	owners    OwnerResolver
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	nowFn     func() time.Time
}

// NewSettlement wires the hand-off targets. Any of them may be nil.
func NewSettlement(l ledger.Ledger, owners OwnerResolver, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Settlement {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Settlement{
		ledger:    l,
		owners:    owners,
		publisher: publisher,
		metrics:   m,
		logger:    logging.OrDiscard(logger).With("component", "settlement"),
		nowFn:     time.Now,
	}
}

// Record is called once per applied terminal transition. Completed payments
// are appended to the ledger; every terminal payment is published. The
// returned error joins all hand-off failures and never undoes the transition.
func (s *Settlement) Record(ctx context.Context, p domain.Payment) error {
	if s == nil || !p.Status.Terminal() {
		return nil
	}
	s.metrics.Transition(string(p.Status))

	username := s.owner(ctx, p.PhoneNumber)
	var errs []error

	if p.Status == domain.StatusCompleted && s.ledger != nil {
		added, err := s.ledger.Append(ctx, ledger.EntryFromPayment(p, username))
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("ledger append %s: %w", p.TransactionID, err))
		case !added:
			s.logger.Debug("ledger entry already present", "transaction_id", p.TransactionID)
		}
	}

	if err := s.publisher.Publish(ctx, events.NewPaymentEvent(p, username, s.nowFn())); err != nil {
		errs = append(errs, fmt.Errorf("publish %s: %w", p.TransactionID, err))
	}
	return errors.Join(errs...)
}

func (s *Settlement) owner(ctx context.Context, phoneNumber string) string {
	if s.owners == nil || phoneNumber == "" {
		return ""
	}
	username, _ := s.owners.UsernameForPhone(ctx, phoneNumber)
	return username
}
