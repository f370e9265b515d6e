package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quickcart/order-engine/internal/audit"
	"github.com/quickcart/order-engine/internal/order"
	"github.com/quickcart/order-engine/internal/redisx"
)

var (
	// ErrBadSignature: payload failed HMAC verification. Engine state is
	// untouched, but the attempt is still recorded for security review.
	ErrBadSignature = errors.New("webhook signature invalid")
)

// WebhookPayload is the gateway's async notification. OrderID carries the
// invoice id the intent was created under.
type WebhookPayload struct {
	OrderID     string    `json:"order_id"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"` // completed | pending | failed
	CompletedAt time.Time `json:"completed_at"`
	ProjectSlug string    `json:"project"`
}

// VerifySignature checks an HMAC-SHA256 hex signature over the raw body,
// in constant time.
func VerifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Confirmer is the single entry point a completed payment goes through.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, orderID string, amount int64) error
}

// DeliveryCache is the redis-backed fast path: delivery dedup plus dropping
// stale order-status cache entries once a payment lands.
type DeliveryCache interface {
	Seen(ctx context.Context, key string) bool
	Mark(ctx context.Context, key string)
	DropStatus(ctx context.Context, orderID string)
}

// WebhookProcessor ingests gateway notifications. It never trusts an
// unverified payload, and redelivery of a completed intent is a no-op.
type WebhookProcessor struct {
	Secret  string
	Intents IntentStore
	Orders  Confirmer
	Audit   audit.Sink
	Cache   DeliveryCache // optional
}

// Handle processes one raw webhook delivery. A nil return means the
// delivery is settled: applied, duplicate, informational, or the expected
// loss of the payment/expiry race. Any other error leaves the intent open
// and the dedup key unset, so the gateway's redelivery retries.
func (p *WebhookProcessor) Handle(ctx context.Context, body []byte, signature string) error {
	if !VerifySignature(body, signature, p.Secret) {
		p.emit(audit.Event{
			ActorType: audit.ActorSystem,
			Action:    "webhook_rejected", EntityType: "webhook", EntityID: "unverified",
			After:         audit.Snapshot(map[string]any{"reason": "bad_signature", "bytes": len(body)}),
			CorrelationID: "webhook-rejected",
		})
		return ErrBadSignature
	}

	var w WebhookPayload
	if err := json.Unmarshal(body, &w); err != nil {
		return fmt.Errorf("decode webhook: %w", err)
	}
	if w.OrderID == "" {
		return fmt.Errorf("decode webhook: missing order_id")
	}

	// Non-completed notifications are informational only.
	if w.Status != "completed" {
		slog.Info("webhook ignored", "invoice_id", w.OrderID, "status", w.Status)
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedupWebhook, w.OrderID, w.CompletedAt.Unix())
	if p.Cache != nil && p.Cache.Seen(ctx, dkey) {
		return nil
	}

	rec, err := p.Intents.Get(ctx, w.OrderID)
	if err != nil {
		return err
	}
	if rec.Status == IntentCompleted {
		return nil // duplicate delivery
	}

	// The intent flips to completed only after the order settles; a failed
	// confirmation stays retryable instead of reading as a duplicate.
	confirmErr := p.Orders.ConfirmPayment(ctx, rec.OrderID, w.Amount)
	switch {
	case confirmErr == nil:
	case order.IsExpectedRaceLoss(confirmErr):
		// The expiry sweep got there first. Expected, not exceptional.
		slog.Warn("payment arrived for finalized order",
			"order_id", rec.OrderID, "invoice_id", w.OrderID)
		p.emit(audit.Event{
			ActorType: audit.ActorSystem,
			Action:    "payment_after_final", EntityType: "order", EntityID: rec.OrderID,
			After:         audit.Snapshot(w),
			CorrelationID: rec.OrderID,
		})
	default:
		return confirmErr
	}

	at := w.CompletedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if _, err := p.Intents.MarkCompleted(ctx, w.OrderID, at); err != nil {
		// ConfirmPayment is idempotent; the redelivery re-settles this.
		return err
	}

	if p.Cache != nil {
		p.Cache.DropStatus(ctx, rec.OrderID)
		p.Cache.Mark(ctx, dkey)
	}
	return nil
}

func (p *WebhookProcessor) emit(e audit.Event) {
	if p.Audit == nil {
		return
	}
	e.Timestamp = time.Now().UTC()
	p.Audit.Emit(e)
}
