// Package ledger keeps the per-user record of settled payments that the
// finance views read from.
package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/umkhondo/internal/domain"
)

// ErrEntryNotFound is returned when an entry id is unknown.
var ErrEntryNotFound = errors.New("ledger entry not found")

// Entry is one settled payment as seen by its owner.
type Entry struct {
	ID            uuid.UUID
	TransactionID string
	Username      string
	Date          time.Time
	Description   string
	Amount        decimal.Decimal
	Type          domain.Direction
	Category      string
	PhoneNumber   string
	Status        domain.Status
	Reference     string
	Source        domain.Source
	CreatedAt     time.Time
}

// Filter narrows List. Zero values match everything; To is exclusive.
type Filter struct {
	Username string
	Category string
	From     time.Time
	To       time.Time
}

func (f Filter) match(e Entry) bool {
	if f.Username != "" && e.Username != f.Username {
		return false
	}
	if f.Category != "" && !strings.EqualFold(e.Category, f.Category) {
		return false
	}
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Date.Before(f.To) {
		return false
	}
	return true
}

// Ledger stores entries. Append is idempotent per transaction id.
type Ledger interface {
	Append(ctx context.Context, e Entry) (bool, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
	UpdateCategory(ctx context.Context, id uuid.UUID, category string) error
	Delete(ctx context.Context, id uuid.UUID) error
	Ping(ctx context.Context) error
}

// EntryFromPayment builds the ledger view of a completed payment.
func EntryFromPayment(p domain.Payment, username string) Entry {
	date := p.CreatedAt
	if p.CompletedAt != nil {
		date = *p.CompletedAt
	}
	description := p.Description
	if description == "" {
		description = "M-PESA Payment"
		if p.Reference != "" {
			description += " Reference: " + p.Reference
		}
	}
	return Entry{
		TransactionID: p.TransactionID,
		Username:      username,
		Date:          date.UTC(),
		Description:   description,
		Amount:        p.Amount,
		Type:          p.Direction,
		Category:      p.Category,
		PhoneNumber:   p.PhoneNumber,
		Status:        p.Status,
		Reference:     p.Reference,
		Source:        p.Source,
	}
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	byTx    map[string]int
	nowFn   func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{byTx: make(map[string]int), nowFn: time.Now}
}

func (l *MemoryLedger) Append(_ context.Context, e Entry) (bool, error) {
	if e.TransactionID == "" {
		return false, errors.New("append ledger entry: transaction id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byTx[e.TransactionID]; exists {
		return false, nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.nowFn().UTC()
	}
	l.byTx[e.TransactionID] = len(l.entries)
	l.entries = append(l.entries, e)
	return true, nil
}

func (l *MemoryLedger) List(_ context.Context, f Filter) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.ID != uuid.Nil && f.match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (l *MemoryLedger) UpdateCategory(_ context.Context, id uuid.UUID, category string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].Category = category
			return nil
		}
	}
	return ErrEntryNotFound
}

// Delete tombstones the entry; the transaction id stays reserved so a
// replayed callback does not resurrect it.
func (l *MemoryLedger) Delete(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i] = Entry{TransactionID: l.entries[i].TransactionID}
			return nil
		}
	}
	return ErrEntryNotFound
}

func (l *MemoryLedger) Ping(context.Context) error { return nil }
