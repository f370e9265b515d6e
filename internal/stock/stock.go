package stock

import (
	"context"
	"errors"
	"time"
)

type State string

const (
	StateFree     State = "free"
	StateReserved State = "reserved"
	StateSold     State = "sold"
)

var (
	// ErrInsufficientStock: fewer free units than requested. Reported to the
	// caller, never retried automatically.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidState: a commit touched a unit that is not reserved by the
	// committing order. Upstream logic bug, fails the whole operation.
	ErrInvalidState = errors.New("stock unit in invalid state")
)

// Unit is one sellable instance of a product's digital content.
// free -> reserved -> sold is monotonic; a sold unit never returns to free.
type Unit struct {
	ID        string
	ProductID int
	Content   string
	State     State
	OrderID   string // empty unless reserved or sold
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pool is the claim/release/commit contract the order state machine runs on.
// All three operations are atomic with respect to concurrent callers.
type Pool interface {
	// Claim reserves qty free units for the order, all-or-nothing.
	Claim(ctx context.Context, orderID string, productID int, qty int) ([]Unit, error)

	// Release returns reserved units to free. Units already free or sold are
	// skipped, so repeated sweeps are safe.
	Release(ctx context.Context, unitIDs []string) error

	// Commit marks units sold permanently. Every unit must currently be
	// reserved by orderID, otherwise nothing is committed and ErrInvalidState
	// is returned.
	Commit(ctx context.Context, orderID string, unitIDs []string) error
}
