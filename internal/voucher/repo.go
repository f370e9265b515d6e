package voucher

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgxLedger struct {
	DB       *pgxpool.Pool
	Cooldown time.Duration
}

func (l *PgxLedger) Redeem(ctx context.Context, code string, userID int64, orderID string, orderTotal int64) (int64, error) {
	now := time.Now().UTC()

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var (
		id        int64
		amount    int64
		isUsed    bool
		expiresAt time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT id, amount, is_used, expires_at
		FROM vouchers WHERE code=$1
		FOR UPDATE`, code).Scan(&id, &amount, &isUsed, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	// Materialize the cooldown row first so FOR UPDATE serializes two
	// concurrent redemptions by the same user even on first use.
	if _, err := tx.Exec(ctx, `
		INSERT INTO voucher_cooldowns(user_id, last_used_at)
		VALUES ($1, to_timestamp(0))
		ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return 0, err
	}
	var lastUsed time.Time
	if err := tx.QueryRow(ctx, `
		SELECT last_used_at FROM voucher_cooldowns
		WHERE user_id=$1 FOR UPDATE`, userID).Scan(&lastUsed); err != nil {
		return 0, err
	}

	if err := validate(isUsed, expiresAt, lastUsed, now, l.Cooldown); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE vouchers
		SET is_used=TRUE, used_by=$2, used_at=$3, order_id=$4
		WHERE id=$1 AND is_used=FALSE`,
		id, userID, now, orderID)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrAlreadyUsed
	}

	if _, err := tx.Exec(ctx, `
		UPDATE voucher_cooldowns SET last_used_at=$2 WHERE user_id=$1`,
		userID, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	return Discount(amount, orderTotal), nil
}

func (l *PgxLedger) Release(ctx context.Context, code, orderID string) error {
	// order_id guard: only the redemption being compensated is reverted
	_, err := l.DB.Exec(ctx, `
		UPDATE vouchers
		SET is_used=FALSE, used_by=NULL, used_at=NULL, order_id=NULL
		WHERE code=$1 AND order_id=$2 AND is_used=TRUE`,
		code, orderID)
	return err
}

// Issue creates a voucher (admin giveaway flow).
func (l *PgxLedger) Issue(ctx context.Context, code string, amount, createdBy int64, expiresAt time.Time) error {
	_, err := l.DB.Exec(ctx, `
		INSERT INTO vouchers(code, amount, created_by, expires_at)
		VALUES ($1, $2, $3, $4)`,
		code, amount, createdBy, expiresAt)
	return err
}

func (l *PgxLedger) GetByCode(ctx context.Context, code string) (Voucher, error) {
	var v Voucher
	err := l.DB.QueryRow(ctx, `
		SELECT id, code, amount, created_by, is_used, used_by, used_at, order_id, expires_at, created_at
		FROM vouchers WHERE code=$1`, code).
		Scan(&v.ID, &v.Code, &v.Amount, &v.CreatedBy, &v.IsUsed, &v.UsedBy, &v.UsedAt, &v.OrderID, &v.ExpiresAt, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, ErrNotFound
	}
	return v, err
}
