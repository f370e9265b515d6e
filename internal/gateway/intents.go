package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrIntentNotFound = errors.New("payment intent not found")

type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentCompleted IntentStatus = "completed"
	IntentExpired   IntentStatus = "expired"
	IntentFailed    IntentStatus = "failed"
)

// IntentRecord is our side of one outstanding payment request. Exactly one
// exists per order, keyed by the order's invoice id.
type IntentRecord struct {
	InvoiceID   string
	OrderID     string
	Amount      int64
	Status      IntentStatus
	CompletedAt *time.Time
	CreatedAt   time.Time
}

type IntentStore interface {
	Insert(ctx context.Context, invoiceID, orderID string, amount int64) error
	Get(ctx context.Context, invoiceID string) (IntentRecord, error)

	// UpdateAmount rewrites a still-open intent's amount after the order
	// total changed (voucher applied). False once the intent is terminal.
	UpdateAmount(ctx context.Context, invoiceID string, amount int64) (bool, error)

	// MarkCompleted flips created -> completed, compare-and-swap. False
	// means the intent was already completed (or otherwise terminal) and the
	// delivery is a duplicate.
	MarkCompleted(ctx context.Context, invoiceID string, at time.Time) (bool, error)
}

type PgxIntentStore struct{ DB *pgxpool.Pool }

func (s *PgxIntentStore) Insert(ctx context.Context, invoiceID, orderID string, amount int64) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO payment_intents(invoice_id, order_id, amount, status)
		VALUES ($1, $2, $3, 'created')
		ON CONFLICT (invoice_id) DO NOTHING`,
		invoiceID, orderID, amount)
	return err
}

func (s *PgxIntentStore) Get(ctx context.Context, invoiceID string) (IntentRecord, error) {
	var r IntentRecord
	err := s.DB.QueryRow(ctx, `
		SELECT invoice_id, order_id, amount, status, completed_at, created_at
		FROM payment_intents WHERE invoice_id=$1`, invoiceID).
		Scan(&r.InvoiceID, &r.OrderID, &r.Amount, &r.Status, &r.CompletedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return IntentRecord{}, ErrIntentNotFound
	}
	return r, err
}

func (s *PgxIntentStore) UpdateAmount(ctx context.Context, invoiceID string, amount int64) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE payment_intents SET amount=$2
		WHERE invoice_id=$1 AND status='created'`,
		invoiceID, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgxIntentStore) MarkCompleted(ctx context.Context, invoiceID string, at time.Time) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE payment_intents SET status='completed', completed_at=$2
		WHERE invoice_id=$1 AND status='created'`,
		invoiceID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
