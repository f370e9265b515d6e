package order

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrPendingOrderExists: the single-active-order invariant rejected the
	// insert. Raised by the storage uniqueness constraint, not by a
	// query-then-insert.
	ErrPendingOrderExists = errors.New("user already has a pending order")

	// ErrNotPending: a transition found the order already terminal. For the
	// ConfirmPayment/Expire race this is the expected loser outcome, handled
	// as a no-op by callers.
	ErrNotPending = errors.New("order is not pending")

	ErrAmountMismatch     = errors.New("gateway amount does not match order total")
	ErrUserBanned         = errors.New("user is banned")
	ErrFraudBlocked       = errors.New("order blocked by risk check")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrNotDue             = errors.New("order deadline has not passed")
)

// Store is the order state machine's persistence contract. Every status
// mutation is a conditional write: the guard and the write are one
// operation, never a read-then-write pair.
type Store interface {
	GetUser(ctx context.Context, userID int64) (User, error)
	GetProduct(ctx context.Context, productID int) (Product, error)

	// Insert writes a pending order with its items; returns
	// ErrPendingOrderExists if the user already has one.
	Insert(ctx context.Context, o Order) error

	Get(ctx context.Context, orderID string) (Order, error)
	GetByInvoice(ctx context.Context, invoiceID string) (Order, error)

	// UpdateTotals rewrites discount/fee/total while the order is still
	// pending; reports false if it no longer is.
	UpdateTotals(ctx context.Context, orderID string, discount, fee, total int64) (bool, error)

	// Transition flips pending -> to, compare-and-swap on status. False
	// means the order was not pending anymore.
	Transition(ctx context.Context, orderID string, to Status) (bool, error)

	// TransitionExpired is Transition(expired) with the extra guard that the
	// deadline has passed.
	TransitionExpired(ctx context.Context, orderID string, now time.Time) (bool, error)

	// DuePending lists pending orders whose deadline has passed, for the
	// expiry sweep.
	DuePending(ctx context.Context, now time.Time, limit int) ([]Order, error)

	CountRecentOrders(ctx context.Context, userID int64, since time.Time) (int, error)
	CountFailedOrders(ctx context.Context, userID int64, since time.Time) (int, error)
}
