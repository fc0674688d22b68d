package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/graph"
)

// GraphStore persists payments as :Payment nodes in Neo4j.
type GraphStore struct {
	client graph.Client
	nowFn  func() time.Time
}

// NewGraphStore returns a Store backed by the supplied graph client.
func NewGraphStore(client graph.Client) *GraphStore {
	return &GraphStore{client: client, nowFn: time.Now}
}

// EnsureSchema creates the uniqueness constraint and correlation index.
func (s *GraphStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaCypher {
		if _, err := s.client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure payment schema: %w", err)
		}
	}
	return nil
}

// Probe verifies the graph connection for health checks.
func (s *GraphStore) Probe(ctx context.Context) error {
	return s.client.VerifyConnectivity(ctx)
}

func (s *GraphStore) Create(ctx context.Context, p domain.Payment) error {
	if p.TransactionID == "" {
		return fmt.Errorf("create payment: transaction id is required")
	}
	res, err := s.client.ExecuteWrite(ctx, createPaymentCypher, map[string]any{
		"transactionId": p.TransactionID,
		"props":         paymentProperties(p),
	})
	if err != nil {
		return fmt.Errorf("create payment %s: %w", p.TransactionID, err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("create payment %s: %w", p.TransactionID, ErrDuplicate)
	}
	return nil
}

func (s *GraphStore) Put(ctx context.Context, p domain.Payment) error {
	if p.TransactionID == "" {
		return fmt.Errorf("put payment: transaction id is required")
	}
	_, err := s.client.ExecuteWrite(ctx, putPaymentCypher, map[string]any{
		"transactionId": p.TransactionID,
		"props":         paymentProperties(p),
	})
	if err != nil {
		return fmt.Errorf("put payment %s: %w", p.TransactionID, err)
	}
	return nil
}

func (s *GraphStore) Get(ctx context.Context, transactionID string) (domain.Payment, error) {
	res, err := s.client.ExecuteRead(ctx, getPaymentCypher, map[string]any{"transactionId": transactionID})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("get payment %s: %w", transactionID, err)
	}
	if len(res.Records) == 0 {
		return domain.Payment{}, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return paymentFromProperties(res.Records[0].Map("payment")), nil
}

func (s *GraphStore) FindByCorrelation(ctx context.Context, correlationID string) (domain.Payment, error) {
	if correlationID == "" {
		return domain.Payment{}, fmt.Errorf("correlation %q: %w", correlationID, ErrNotFound)
	}
	res, err := s.client.ExecuteRead(ctx, findByCorrelationCypher, map[string]any{"correlationId": correlationID})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("find payment by correlation %s: %w", correlationID, err)
	}
	if len(res.Records) == 0 {
		return domain.Payment{}, fmt.Errorf("correlation %s: %w", correlationID, ErrNotFound)
	}
	return paymentFromProperties(res.Records[0].Map("payment")), nil
}

func (s *GraphStore) All(ctx context.Context) ([]domain.Payment, error) {
	res, err := s.client.ExecuteRead(ctx, allPaymentsCypher, nil)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	out := make([]domain.Payment, 0, len(res.Records))
	for _, record := range res.Records {
		out = append(out, paymentFromProperties(record.Map("payment")))
	}
	return out, nil
}

func (s *GraphStore) Resolve(ctx context.Context, transactionID string, r domain.Resolution) (domain.Payment, bool, error) {
	if !r.Status.Terminal() {
		return domain.Payment{}, false, fmt.Errorf("resolve %s to %s: %w", transactionID, r.Status, domain.ErrInvalidTransition)
	}
	if r.At.IsZero() {
		r.At = s.nowFn()
	}

	res, err := s.client.ExecuteWrite(ctx, resolvePaymentCypher, map[string]any{
		"transactionId": transactionID,
		"pending":       string(domain.StatusPending),
		"lockedAt":      formatTime(s.nowFn()),
		"changes":       resolutionProperties(r),
	})
	if err != nil {
		return domain.Payment{}, false, fmt.Errorf("resolve payment %s: %w", transactionID, err)
	}
	if len(res.Records) == 0 {
		return domain.Payment{}, false, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}

	record := res.Records[0]
	p := paymentFromProperties(record.Map("payment"))
	if domain.Status(record.String("previous")) == domain.StatusPending {
		return p, true, nil
	}
	if p.Status == r.Status {
		return p, false, nil
	}
	return p, false, fmt.Errorf("resolve %s from %s to %s: %w", transactionID, p.Status, r.Status, domain.ErrInvalidTransition)
}

func paymentProperties(p domain.Payment) map[string]any {
	return map[string]any{
		"transactionId":     p.TransactionID,
		"correlationId":     optional(p.CorrelationID),
		"merchantRequestId": p.MerchantRequestID,
		"conversationId":    p.ConversationID,
		"kind":              string(p.Kind),
		"phoneNumber":       p.PhoneNumber,
		"amount":            p.Amount.String(),
		"description":       p.Description,
		"reference":         p.Reference,
		"direction":         string(p.Direction),
		"status":            string(p.Status),
		"category":          p.Category,
		"receiptNumber":     p.ReceiptNumber,
		"resultCode":        int64(p.ResultCode),
		"resultDesc":        p.ResultDesc,
		"source":            string(p.Source),
		"createdAt":         formatTime(p.CreatedAt),
		"updatedAt":         formatTime(p.UpdatedAt),
		"completedAt":       optional(formatTimePtr(p.CompletedAt)),
	}
}

// resolutionProperties mirrors domain.Payment.Apply: empty fields are left out
// so the node keeps its current values.
func resolutionProperties(r domain.Resolution) map[string]any {
	at := formatTime(r.At)
	props := map[string]any{
		"status":     string(r.Status),
		"resultCode": int64(r.ResultCode),
		"updatedAt":  at,
	}
	if r.ResultDesc != "" {
		props["resultDesc"] = r.ResultDesc
	}
	if r.Amount.IsPositive() {
		props["amount"] = r.Amount.String()
	}
	if r.ReceiptNumber != "" {
		props["receiptNumber"] = r.ReceiptNumber
	}
	if r.PhoneNumber != "" {
		props["phoneNumber"] = r.PhoneNumber
	}
	if r.Category != "" {
		props["category"] = r.Category
	}
	if r.Status == domain.StatusCompleted {
		props["completedAt"] = at
	}
	return props
}

func paymentFromProperties(props map[string]any) domain.Payment {
	rec := graph.Record(props)
	amount, err := decimal.NewFromString(rec.String("amount"))
	if err != nil {
		amount = decimal.Zero
	}
	p := domain.Payment{
		TransactionID:     rec.String("transactionId"),
		CorrelationID:     rec.String("correlationId"),
		MerchantRequestID: rec.String("merchantRequestId"),
		ConversationID:    rec.String("conversationId"),
		Kind:              domain.Kind(rec.String("kind")),
		PhoneNumber:       rec.String("phoneNumber"),
		Amount:            amount,
		Description:       rec.String("description"),
		Reference:         rec.String("reference"),
		Direction:         domain.Direction(rec.String("direction")),
		Status:            domain.Status(rec.String("status")),
		Category:          rec.String("category"),
		ReceiptNumber:     rec.String("receiptNumber"),
		ResultCode:        int(rec.Int("resultCode")),
		ResultDesc:        rec.String("resultDesc"),
		Source:            domain.Source(rec.String("source")),
	}
	if created, ok := rec.Time("createdAt"); ok {
		p.CreatedAt = created
	}
	if updated, ok := rec.Time("updatedAt"); ok {
		p.UpdatedAt = updated
	}
	if completed, ok := rec.Time("completedAt"); ok {
		p.CompletedAt = &completed
	}
	return p
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

var schemaCypher = []string{
	`CREATE CONSTRAINT payment_transaction_id IF NOT EXISTS FOR (p:Payment) REQUIRE p.transactionId IS UNIQUE`,
	`CREATE INDEX payment_correlation_id IF NOT EXISTS FOR (p:Payment) ON (p.correlationId)`,
}

const createPaymentCypher = `
OPTIONAL MATCH (existing:Payment {transactionId: $transactionId})
WITH existing
WHERE existing IS NULL
CREATE (p:Payment {transactionId: $transactionId})
SET p += $props
RETURN p.transactionId AS transactionId
`

const putPaymentCypher = `
MERGE (p:Payment {transactionId: $transactionId})
SET p += $props
`

const getPaymentCypher = `
MATCH (p:Payment {transactionId: $transactionId})
RETURN properties(p) AS payment
`

const findByCorrelationCypher = `
MATCH (p:Payment {correlationId: $correlationId})
RETURN properties(p) AS payment
ORDER BY p.createdAt
LIMIT 1
`

const allPaymentsCypher = `
MATCH (p:Payment)
RETURN properties(p) AS payment
ORDER BY p.createdAt
`

// The lockedAt write takes the node lock before status is read, so two
// concurrent resolutions of one payment serialize.
const resolvePaymentCypher = `
MATCH (p:Payment {transactionId: $transactionId})
SET p.lockedAt = $lockedAt
WITH p, p.status AS previous
FOREACH (_ IN CASE WHEN previous = $pending THEN [1] ELSE [] END |
  SET p += $changes
)
RETURN properties(p) AS payment, previous
`
