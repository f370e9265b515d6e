package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quickcart/order-engine/internal/audit"
	"github.com/quickcart/order-engine/internal/fraud"
	"github.com/quickcart/order-engine/internal/stock"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// memStore mirrors the conditional-write semantics of the pgx store: every
// status mutation checks its guard and applies under one lock acquisition.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]User
	products map[int]Product
	orders   map[string]Order
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[int64]User{},
		products: map[int]Product{},
		orders:   map[string]Order{},
	}
}

func (m *memStore) GetUser(_ context.Context, userID int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetProduct(_ context.Context, productID int) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return Product{}, ErrProductUnavailable
	}
	return p, nil
}

func (m *memStore) Insert(_ context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.orders {
		if cur.UserID == o.UserID && cur.Status == StatusPending {
			return ErrPendingOrderExists
		}
	}
	m.orders[o.ID] = o
	return nil
}

func (m *memStore) Get(_ context.Context, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (m *memStore) GetByInvoice(_ context.Context, invoiceID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.InvoiceID == invoiceID {
			return o, nil
		}
	}
	return Order{}, ErrNotFound
}

func (m *memStore) UpdateTotals(_ context.Context, orderID string, discount, fee, total int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != StatusPending {
		return false, nil
	}
	o.Discount, o.Fee, o.Total = discount, fee, total
	m.orders[orderID] = o
	return true, nil
}

func (m *memStore) Transition(_ context.Context, orderID string, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != StatusPending || !CanTransition(o.Status, to) {
		return false, nil
	}
	o.Status = to
	m.orders[orderID] = o
	return true, nil
}

func (m *memStore) TransitionExpired(_ context.Context, orderID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != StatusPending || o.Deadline.After(now) {
		return false, nil
	}
	o.Status = StatusExpired
	m.orders[orderID] = o
	return true, nil
}

func (m *memStore) DuePending(_ context.Context, now time.Time, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.Status == StatusPending && !o.Deadline.After(now) {
			out = append(out, o)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) ListByUser(_ context.Context, userID int64, limit, offset int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) CountRecentOrders(_ context.Context, userID int64, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.UserID == userID && !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountFailedOrders(_ context.Context, userID int64, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.UserID == userID && (o.Status == StatusExpired || o.Status == StatusCancelled) && !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) pendingCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.UserID == userID && o.Status == StatusPending {
			n++
		}
	}
	return n
}

// memPool implements stock.Pool with the same atomicity contract as the
// postgres pool: claims are all-or-nothing under one critical section.
type memPool struct {
	mu    sync.Mutex
	units map[string]*stock.Unit
}

func newMemPool() *memPool { return &memPool{units: map[string]*stock.Unit{}} }

func (m *memPool) addUnits(productID, n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.NewString()
		m.units[id] = &stock.Unit{
			ID: id, ProductID: productID,
			Content: fmt.Sprintf("key-%d-%d", productID, i),
			State:   stock.StateFree,
		}
		ids = append(ids, id)
	}
	return ids
}

func (m *memPool) Claim(_ context.Context, orderID string, productID, qty int) ([]stock.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var free []*stock.Unit
	for _, u := range m.units {
		if u.ProductID == productID && u.State == stock.StateFree {
			free = append(free, u)
			if len(free) == qty {
				break
			}
		}
	}
	if len(free) < qty {
		return nil, fmt.Errorf("product %d: need %d, got %d: %w",
			productID, qty, len(free), stock.ErrInsufficientStock)
	}
	out := make([]stock.Unit, 0, qty)
	for _, u := range free {
		u.State = stock.StateReserved
		u.OrderID = orderID
		out = append(out, *u)
	}
	return out, nil
}

func (m *memPool) Release(_ context.Context, unitIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range unitIDs {
		if u, ok := m.units[id]; ok && u.State == stock.StateReserved {
			u.State = stock.StateFree
			u.OrderID = ""
		}
	}
	return nil
}

func (m *memPool) Commit(_ context.Context, orderID string, unitIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range unitIDs {
		u, ok := m.units[id]
		if !ok || u.State != stock.StateReserved || u.OrderID != orderID {
			// no partial mutation on invariant violation
			return fmt.Errorf("unit %s: %w", id, stock.ErrInvalidState)
		}
	}
	for _, id := range unitIDs {
		m.units[id].State = stock.StateSold
	}
	return nil
}

func (m *memPool) counts(productID int) (free, reserved, sold int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.units {
		if u.ProductID != productID {
			continue
		}
		switch u.State {
		case stock.StateFree:
			free++
		case stock.StateReserved:
			reserved++
		case stock.StateSold:
			sold++
		}
	}
	return
}

type fakeLedger struct {
	discount int64
	err      error
	calls    int
	released int
	onRedeem func() // runs after a successful burn, before returning
}

func (f *fakeLedger) Redeem(_ context.Context, code string, userID int64, orderID string, orderTotal int64) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if f.onRedeem != nil {
		f.onRedeem()
	}
	if f.discount > orderTotal {
		return orderTotal, nil
	}
	return f.discount, nil
}

func (f *fakeLedger) Release(_ context.Context, code, orderID string) error {
	f.released++
	return nil
}

type fakeGate struct {
	assessment fraud.Assessment
	err        error
}

func (f *fakeGate) Evaluate(context.Context, int64, int64, int) (fraud.Assessment, error) {
	if f.err != nil {
		return fraud.Assessment{}, f.err
	}
	return f.assessment, nil
}

type recordSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordSink) Emit(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordSink) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type recordPublisher struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (r *recordPublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, value)
}

func (r *recordPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}
