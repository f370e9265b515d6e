package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quickcart/order-engine/internal/audit"
	"github.com/quickcart/order-engine/internal/fraud"
	kafkax "github.com/quickcart/order-engine/internal/kafka"
	"github.com/quickcart/order-engine/internal/stock"
	"github.com/quickcart/order-engine/internal/voucher"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is the async fire-and-forget side of a kafka producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// RiskGate is consulted before any stock is claimed.
type RiskGate interface {
	Evaluate(ctx context.Context, userID int64, total int64, itemCount int) (fraud.Assessment, error)
}

// Service owns one order's lifecycle: it is the only writer of order status
// and the only caller of stock claim/commit/release.
type Service struct {
	Store    Store
	Stock    stock.Pool
	Vouchers voucher.Ledger
	Fraud    RiskGate

	Events Publisher  // order lifecycle facts for the chat/UI layer
	Review Publisher  // manual-review queue references
	Audit  audit.Sink // best-effort, never gates a transition

	FeeRate  float64
	FeeFixed int64
	Expiry   time.Duration

	Producer string // envelope producer name
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Create reserves stock and writes a pending order, all-or-nothing. On any
// failure every claim made so far is released before returning.
func (s *Service) Create(ctx context.Context, userID int64, lines []LineInput, paymentMethod string) (Order, error) {
	if len(lines) == 0 {
		return Order{}, fmt.Errorf("no items: %w", ErrInvalidQuantity)
	}
	for _, l := range lines {
		if l.Qty <= 0 {
			return Order{}, fmt.Errorf("product %d: %w", l.ProductID, ErrInvalidQuantity)
		}
	}

	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return Order{}, err
	}
	if u.IsBanned {
		return Order{}, ErrUserBanned
	}

	// Price tier is locked in now, not at payment time.
	type pricedLine struct {
		product Product
		qty     int
		price   int64
	}
	priced := make([]pricedLine, 0, len(lines))
	var subtotal int64
	itemCount := 0
	for _, l := range lines {
		p, err := s.Store.GetProduct(ctx, l.ProductID)
		if err != nil {
			return Order{}, err
		}
		if !p.IsActive {
			return Order{}, fmt.Errorf("product %d: %w", l.ProductID, ErrProductUnavailable)
		}
		price := p.PriceFor(u.MemberStatus)
		priced = append(priced, pricedLine{product: p, qty: l.Qty, price: price})
		subtotal += price * int64(l.Qty)
		itemCount += l.Qty
	}

	assessment, err := s.Fraud.Evaluate(ctx, userID, subtotal, itemCount)
	if err != nil {
		return Order{}, err
	}
	if assessment.Action == fraud.ActionBlock {
		return Order{}, fmt.Errorf("risk score %d: %w", assessment.Score, ErrFraudBlocked)
	}

	now := s.now()
	orderID := uuid.NewString()

	// Claim all units before the order row exists; the order id already
	// binds the reservation, so compensation is a plain Release.
	var claimed []string
	var items []Item
	for _, pl := range priced {
		units, err := s.Stock.Claim(ctx, orderID, pl.product.ID, pl.qty)
		if err != nil {
			s.release(ctx, claimed)
			return Order{}, err
		}
		for _, un := range units {
			claimed = append(claimed, un.ID)
			items = append(items, Item{ProductID: pl.product.ID, StockID: un.ID, UnitPrice: pl.price})
		}
	}

	fee := Fee(subtotal, 0, s.FeeRate, s.FeeFixed)
	o := Order{
		ID:            orderID,
		InvoiceID:     newInvoiceID(),
		UserID:        userID,
		Items:         items,
		Subtotal:      subtotal,
		Discount:      0,
		Fee:           fee,
		Total:         Total(subtotal, 0, fee),
		PaymentMethod: paymentMethod,
		Status:        StatusPending,
		Flagged:       assessment.Action == fraud.ActionFlag,
		CreatedAt:     now,
		Deadline:      now.Add(s.Expiry),
		UpdatedAt:     now,
	}

	if err := s.Store.Insert(ctx, o); err != nil {
		s.release(ctx, claimed)
		return Order{}, err
	}

	s.emitAudit(audit.Event{
		ActorID: userID, ActorType: audit.ActorUser,
		Action: "order_create", EntityType: "order", EntityID: o.ID,
		After: audit.Snapshot(o), CorrelationID: o.ID,
	})
	s.publishState(EventOrderCreated, o, "")

	if o.Flagged && s.Review != nil {
		s.Review.Publish(PartitionKey(o.ID), kafkax.MustMarshal(FlaggedPayload{
			OrderID: o.ID, InvoiceID: o.InvoiceID, UserID: userID,
			Score: assessment.Score, Total: o.Total,
		}))
		s.emitAudit(audit.Event{
			ActorType: audit.ActorSystem,
			Action:    "order_flagged", EntityType: "order", EntityID: o.ID,
			After: audit.Snapshot(assessment), CorrelationID: o.ID,
		})
	}
	return o, nil
}

// ApplyVoucher redeems a code against a pending order and recomputes the
// total. On any redemption failure the order totals are untouched and the
// specific reason is returned.
func (s *Service) ApplyVoucher(ctx context.Context, orderID, code string) (Order, error) {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusPending {
		return Order{}, ErrNotPending
	}

	discount, err := s.Vouchers.Redeem(ctx, code, o.UserID, o.ID, o.Subtotal)
	if err != nil {
		return Order{}, err
	}

	before := audit.Snapshot(o)
	fee := Fee(o.Subtotal, discount, s.FeeRate, s.FeeFixed)
	total := Total(o.Subtotal, discount, fee)
	ok, err := s.Store.UpdateTotals(ctx, o.ID, discount, fee, total)
	if err != nil {
		s.unredeem(ctx, code, o.ID)
		return Order{}, err
	}
	if !ok {
		// the order left pending between the read and the update; give the
		// code back instead of leaving it burned against a dead order
		s.unredeem(ctx, code, o.ID)
		return Order{}, ErrNotPending
	}
	o.Discount, o.Fee, o.Total = discount, fee, total

	s.emitAudit(audit.Event{
		ActorID: o.UserID, ActorType: audit.ActorUser,
		Action: "voucher_apply", EntityType: "order", EntityID: o.ID,
		Before: before, After: audit.Snapshot(o), CorrelationID: o.ID,
	})
	return o, nil
}

// ConfirmPayment flips pending -> paid and commits the reserved units.
// Idempotent: confirming an already-paid order is a success no-op. A
// mismatched amount is a hard failure. If the order already expired, the
// caller gets ErrNotPending and treats it as the lost race it is.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, gatewayAmount int64) error {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == StatusPaid {
		return nil
	}
	if o.Status != StatusPending {
		return ErrNotPending
	}
	if gatewayAmount != o.Total {
		return fmt.Errorf("got %d, order total %d: %w", gatewayAmount, o.Total, ErrAmountMismatch)
	}

	ok, err := s.Store.Transition(ctx, o.ID, StatusPaid)
	if err != nil {
		return err
	}
	if !ok {
		// lost the race; re-read to distinguish duplicate payment from expiry
		cur, err := s.Store.Get(ctx, o.ID)
		if err != nil {
			return err
		}
		if cur.Status == StatusPaid {
			return nil
		}
		return ErrNotPending
	}

	if err := s.Stock.Commit(ctx, o.ID, o.UnitIDs()); err != nil {
		// Invariant violation: units we reserved are gone. The order is paid,
		// nothing is silently swallowed — this needs a human.
		slog.Error("stock commit failed after payment",
			"order_id", o.ID, "invoice_id", o.InvoiceID, "err", err)
		return fmt.Errorf("commit stock for order %s: %w", o.ID, err)
	}

	before := audit.Snapshot(o)
	o.Status = StatusPaid
	s.emitAudit(audit.Event{
		ActorType: audit.ActorSystem,
		Action:    "order_paid", EntityType: "order", EntityID: o.ID,
		Before: before, After: audit.Snapshot(o), CorrelationID: o.ID,
	})
	s.publishState(EventOrderPaid, o, "")
	return nil
}

// Expire drives an overdue pending order to expired and frees its units.
// Safe under repeated and concurrent sweeps: losers see 0 rows and no-op.
func (s *Service) Expire(ctx context.Context, orderID string) error {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPending {
		return nil
	}
	if s.now().Before(o.Deadline) {
		return ErrNotDue
	}

	ok, err := s.Store.TransitionExpired(ctx, o.ID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := s.Stock.Release(ctx, o.UnitIDs()); err != nil {
		return err
	}

	before := audit.Snapshot(o)
	o.Status = StatusExpired
	s.emitAudit(audit.Event{
		ActorType: audit.ActorSystem,
		Action:    "order_expired", EntityType: "order", EntityID: o.ID,
		Before: before, After: audit.Snapshot(o), CorrelationID: o.ID,
	})
	s.publishState(EventOrderExpired, o, "deadline passed")
	return nil
}

// Cancel is Expire's user-initiated twin, attributed to an actor instead of
// the clock.
func (s *Service) Cancel(ctx context.Context, orderID string, actorID int64, actorType string) error {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPending {
		return ErrNotPending
	}

	ok, err := s.Store.Transition(ctx, o.ID, StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotPending
	}

	if err := s.Stock.Release(ctx, o.UnitIDs()); err != nil {
		return err
	}

	before := audit.Snapshot(o)
	o.Status = StatusCancelled
	s.emitAudit(audit.Event{
		ActorID: actorID, ActorType: actorType,
		Action: "order_cancel", EntityType: "order", EntityID: o.ID,
		Before: before, After: audit.Snapshot(o), CorrelationID: o.ID,
	})
	s.publishState(EventOrderCancelled, o, "cancelled by "+actorType)
	return nil
}

func (s *Service) unredeem(ctx context.Context, code, orderID string) {
	if err := s.Vouchers.Release(ctx, code, orderID); err != nil {
		slog.Error("voucher release failed", "code", code, "order_id", orderID, "err", err)
	}
}

func (s *Service) release(ctx context.Context, unitIDs []string) {
	if len(unitIDs) == 0 {
		return
	}
	if err := s.Stock.Release(ctx, unitIDs); err != nil {
		slog.Error("compensating release failed", "units", len(unitIDs), "err", err)
	}
}

func (s *Service) emitAudit(e audit.Event) {
	if s.Audit == nil {
		return
	}
	e.Timestamp = s.now()
	s.Audit.Emit(e)
}

func (s *Service) publishState(eventType string, o Order, reason string) {
	if s.Events == nil {
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.Producer,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(StateChangedPayload{
			OrderID: o.ID, InvoiceID: o.InvoiceID, UserID: o.UserID,
			Status: o.Status, Total: o.Total, Reason: reason,
		}),
	}
	s.Events.Publish(PartitionKey(o.ID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func newInvoiceID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "INV-" + strings.ToUpper(raw[:12])
}

// IsExpectedRaceLoss reports whether err is the benign outcome of losing the
// ConfirmPayment/Expire race.
func IsExpectedRaceLoss(err error) bool {
	return errors.Is(err, ErrNotPending)
}
