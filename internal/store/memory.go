package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vanshika/umkhondo/internal/domain"
)

// MemoryStore is a process-local Store. It is safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	byID          map[string]domain.Payment
	byCorrelation map[string]string
	order         []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:          make(map[string]domain.Payment),
		byCorrelation: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, p domain.Payment) error {
	if p.TransactionID == "" {
		return fmt.Errorf("create payment: transaction id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[p.TransactionID]; exists {
		return fmt.Errorf("create payment %s: %w", p.TransactionID, ErrDuplicate)
	}
	s.put(p)
	return nil
}

func (s *MemoryStore) Put(_ context.Context, p domain.Payment) error {
	if p.TransactionID == "" {
		return fmt.Errorf("put payment: transaction id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(p)
	return nil
}

func (s *MemoryStore) put(p domain.Payment) {
	prev, exists := s.byID[p.TransactionID]
	if !exists {
		s.order = append(s.order, p.TransactionID)
	} else if prev.CorrelationID != "" && prev.CorrelationID != p.CorrelationID {
		delete(s.byCorrelation, prev.CorrelationID)
	}
	s.byID[p.TransactionID] = p
	if p.CorrelationID != "" {
		s.byCorrelation[p.CorrelationID] = p.TransactionID
	}
}

func (s *MemoryStore) Get(_ context.Context, transactionID string) (domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[transactionID]
	if !ok {
		return domain.Payment{}, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) FindByCorrelation(_ context.Context, correlationID string) (domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCorrelation[correlationID]
	if !ok || correlationID == "" {
		return domain.Payment{}, fmt.Errorf("correlation %s: %w", correlationID, ErrNotFound)
	}
	return s.byID[id], nil
}

func (s *MemoryStore) All(context.Context) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Payment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}

func (s *MemoryStore) Resolve(_ context.Context, transactionID string, res domain.Resolution) (domain.Payment, bool, error) {
	if !res.Status.Terminal() {
		return domain.Payment{}, false, fmt.Errorf("resolve %s to %s: %w", transactionID, res.Status, domain.ErrInvalidTransition)
	}
	if res.At.IsZero() {
		res.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[transactionID]
	if !ok {
		return domain.Payment{}, false, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	next, applied, err := p.Apply(res)
	if err != nil {
		return p, false, fmt.Errorf("resolve %s from %s to %s: %w", transactionID, p.Status, res.Status, err)
	}
	if applied {
		s.byID[transactionID] = next
	}
	return next, applied, nil
}
