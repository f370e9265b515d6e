package voucher

import (
	"context"
	"errors"
	"time"
)

// Redemption failures carry a specific reason because user-facing copy
// differs per reason. Callers must not collapse these into a generic error.
var (
	ErrNotFound       = errors.New("voucher not found")
	ErrAlreadyUsed    = errors.New("voucher already used")
	ErrExpired        = errors.New("voucher expired")
	ErrCooldownActive = errors.New("voucher cooldown active")
)

type Voucher struct {
	ID        int64
	Code      string
	Amount    int64
	CreatedBy int64
	IsUsed    bool
	UsedBy    *int64
	UsedAt    *time.Time
	OrderID   *string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Ledger validates and burns discount codes. A code flips unused->used
// exactly once, atomically with the cooldown check for the redeeming user.
type Ledger interface {
	// Redeem returns the discount amount, capped at orderTotal.
	Redeem(ctx context.Context, code string, userID int64, orderID string, orderTotal int64) (int64, error)

	// Release un-burns a code whose order update lost the pending race, so
	// the code never stays bound to an order it did not discount. The
	// redeeming user's cooldown stamp stays in place.
	Release(ctx context.Context, code, orderID string) error
}

// validate applies the redemption rules to a locked snapshot of voucher and
// cooldown state. lastUsed is the zero time when the user never redeemed.
func validate(isUsed bool, expiresAt, lastUsed, now time.Time, cooldown time.Duration) error {
	if isUsed {
		return ErrAlreadyUsed
	}
	if !now.Before(expiresAt) {
		return ErrExpired
	}
	if !lastUsed.IsZero() && now.Sub(lastUsed) < cooldown {
		return ErrCooldownActive
	}
	return nil
}

// Discount caps the voucher amount at the order total; a voucher never
// drives a total negative.
func Discount(amount, orderTotal int64) int64 {
	if amount > orderTotal {
		return orderTotal
	}
	return amount
}
