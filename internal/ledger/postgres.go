package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vanshika/umkhondo/internal/domain"
)

// PostgresLedger stores entries in the ledger_entries table.
type PostgresLedger struct {
	pool  *pgxpool.Pool
	nowFn func() time.Time
}

// NewPostgresLedger connects a pool to url and verifies it.
func NewPostgresLedger(ctx context.Context, url string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect ledger database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping ledger database: %w", err)
	}
	return &PostgresLedger{pool: pool, nowFn: time.Now}, nil
}

func (l *PostgresLedger) Close() {
	l.pool.Close()
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

func (l *PostgresLedger) Append(ctx context.Context, e Entry) (bool, error) {
	if e.TransactionID == "" {
		return false, errors.New("append ledger entry: transaction id is required")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.nowFn().UTC()
	}
	if e.Category == "" {
		e.Category = "Other"
	}

	tag, err := l.pool.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, transaction_id, username, entry_date, description, amount,
			entry_type, category, phone_number, status, reference, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (transaction_id) DO NOTHING`,
		e.ID, e.TransactionID, e.Username, e.Date, e.Description, e.Amount.String(),
		string(e.Type), e.Category, e.PhoneNumber, string(e.Status), e.Reference, string(e.Source), e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("append ledger entry %s: %w", e.TransactionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PostgresLedger) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where = []string{"deleted_at IS NULL"}
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Username != "" {
		add("username = $%d", f.Username)
	}
	if f.Category != "" {
		add("lower(category) = lower($%d)", f.Category)
	}
	if !f.From.IsZero() {
		add("entry_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("entry_date < $%d", f.To)
	}

	query := `
		SELECT id, transaction_id, username, entry_date, description, amount::text,
		       entry_type, category, phone_number, status, reference, source, created_at
		FROM ledger_entries
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY entry_date DESC`

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return out, nil
}

func scanEntry(rows pgx.Rows) (Entry, error) {
	var e Entry
	var amount, entryType, status, src string
	if err := rows.Scan(
		&e.ID, &e.TransactionID, &e.Username, &e.Date, &e.Description, &amount,
		&entryType, &e.Category, &e.PhoneNumber, &status, &e.Reference, &src, &e.CreatedAt,
	); err != nil {
		return Entry{}, fmt.Errorf("scan ledger entry: %w", err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Entry{}, fmt.Errorf("scan ledger entry amount %q: %w", amount, err)
	}
	e.Amount = d
	e.Type = domain.Direction(entryType)
	e.Status = domain.Status(status)
	e.Source = domain.Source(src)
	return e, nil
}

func (l *PostgresLedger) UpdateCategory(ctx context.Context, id uuid.UUID, category string) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE ledger_entries SET category = $1 WHERE id = $2 AND deleted_at IS NULL`,
		category, id)
	if err != nil {
		return fmt.Errorf("update ledger entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Delete tombstones the row so the transaction id stays reserved.
func (l *PostgresLedger) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE ledger_entries SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		l.nowFn().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete ledger entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}
