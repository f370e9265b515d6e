package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quickcart/order-engine/internal/audit"
	"github.com/quickcart/order-engine/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "wh-secret"

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type memIntents struct {
	mu      sync.Mutex
	records map[string]IntentRecord
}

func newMemIntents() *memIntents { return &memIntents{records: map[string]IntentRecord{}} }

func (m *memIntents) Insert(_ context.Context, invoiceID, orderID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[invoiceID]; ok {
		return nil
	}
	m.records[invoiceID] = IntentRecord{
		InvoiceID: invoiceID, OrderID: orderID, Amount: amount,
		Status: IntentCreated, CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (m *memIntents) Get(_ context.Context, invoiceID string) (IntentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[invoiceID]
	if !ok {
		return IntentRecord{}, ErrIntentNotFound
	}
	return r, nil
}

func (m *memIntents) UpdateAmount(_ context.Context, invoiceID string, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[invoiceID]
	if !ok || r.Status != IntentCreated {
		return false, nil
	}
	r.Amount = amount
	m.records[invoiceID] = r
	return true, nil
}

func (m *memIntents) MarkCompleted(_ context.Context, invoiceID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[invoiceID]
	if !ok || r.Status != IntentCreated {
		return false, nil
	}
	r.Status = IntentCompleted
	r.CompletedAt = &at
	m.records[invoiceID] = r
	return true, nil
}

// fakeConfirmer pops one queued error per call; an empty queue means the
// confirmation succeeds.
type fakeConfirmer struct {
	mu    sync.Mutex
	calls []int64 // amounts seen
	errs  []error
}

func (f *fakeConfirmer) ConfirmPayment(_ context.Context, orderID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, amount)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeConfirmer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCache struct {
	mu      sync.Mutex
	marked  map[string]bool
	dropped []string
}

func newFakeCache() *fakeCache { return &fakeCache{marked: map[string]bool{}} }

func (c *fakeCache) Seen(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marked[key]
}

func (c *fakeCache) Mark(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marked[key] = true
}

func (c *fakeCache) DropStatus(_ context.Context, orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = append(c.dropped, orderID)
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Emit(e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Action)
	}
	return out
}

func completedBody(t *testing.T, invoiceID string, amount int64) []byte {
	t.Helper()
	b, err := json.Marshal(WebhookPayload{
		OrderID: invoiceID, Amount: amount, Status: "completed",
		CompletedAt: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return b
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"order_id":"INV-1"}`)
	assert.True(t, VerifySignature(body, sign(body, testSecret), testSecret))
	assert.False(t, VerifySignature(body, sign(body, "other-secret"), testSecret))
	assert.False(t, VerifySignature(body, "deadbeef", testSecret))
	assert.False(t, VerifySignature(body, "", testSecret))
}

func TestHandleBadSignature(t *testing.T) {
	intents := newMemIntents()
	require.NoError(t, intents.Insert(context.Background(), "INV-A", "ord-1", 30_520))
	confirmer := &fakeConfirmer{}
	sink := &captureSink{}
	p := &WebhookProcessor{Secret: testSecret, Intents: intents, Orders: confirmer, Audit: sink}

	body := completedBody(t, "INV-A", 30_520)
	err := p.Handle(context.Background(), body, sign(body, "attacker-secret"))
	assert.ErrorIs(t, err, ErrBadSignature)

	// zero engine state changed, but the attempt is on the record
	assert.Zero(t, confirmer.count())
	rec, _ := intents.Get(context.Background(), "INV-A")
	assert.Equal(t, IntentCreated, rec.Status)
	assert.Contains(t, sink.actions(), "webhook_rejected")
}

func TestHandleCompleted(t *testing.T) {
	intents := newMemIntents()
	require.NoError(t, intents.Insert(context.Background(), "INV-A", "ord-1", 30_520))
	confirmer := &fakeConfirmer{}
	cache := newFakeCache()
	p := &WebhookProcessor{Secret: testSecret, Intents: intents, Orders: confirmer, Cache: cache}

	body := completedBody(t, "INV-A", 30_520)
	require.NoError(t, p.Handle(context.Background(), body, sign(body, testSecret)))

	assert.Equal(t, []int64{30_520}, confirmer.calls)
	rec, _ := intents.Get(context.Background(), "INV-A")
	assert.Equal(t, IntentCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)

	// the stale pending entry is dropped once the payment lands
	assert.Equal(t, []string{"ord-1"}, cache.dropped)
	assert.Len(t, cache.marked, 1)
}

func TestHandleDuplicateDelivery(t *testing.T) {
	intents := newMemIntents()
	require.NoError(t, intents.Insert(context.Background(), "INV-A", "ord-1", 30_520))
	confirmer := &fakeConfirmer{}
	p := &WebhookProcessor{Secret: testSecret, Intents: intents, Orders: confirmer}

	body := completedBody(t, "INV-A", 30_520)
	sig := sign(body, testSecret)
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Handle(context.Background(), body, sig), "delivery %d", i)
	}
	assert.Equal(t, 1, confirmer.count(), "exactly one confirmation despite redelivery")
}

func TestHandleDedupCacheShortCircuits(t *testing.T) {
	intents := newMemIntents()
	require.NoError(t, intents.Insert(context.Background(), "INV-A", "ord-1", 30_520))
	confirmer := &fakeConfirmer{}
	cache := newFakeCache()
	p := &WebhookProcessor{Secret: testSecret, Intents: intents, Orders: confirmer, Cache: cache}

	body := completedBody(t, "INV-A", 30_520)
	sig := sign(body, testSecret)
	require.NoError(t, p.Handle(context.Background(), body, sig))
	require.NoError(t, p.Handle(context.Background(), body, sig))
	assert.Equal(t, 1, confirmer.count(), "second delivery never reaches the store")
}

// A transient confirmation failure must leave the delivery retryable: the
// intent stays open, no dedup key is written, and the retried delivery
// applies the payment.
func TestHandleTransientConfirmFailureRetried(t *testing.T) {
	intents := newMemIntents()
	require.NoError(t, intents.Insert(context.Background(), "INV-A", "ord-1", 30_520))
	confirmer := &fakeConfirmer{errs: []error{errors.New("db connection reset")}}
	cache := newFakeCache()
	p := &WebhookProcessor{Secret: testSecret, Intents: intents, Orders: confirmer, Cache: cache}

	body := completedBody(t, "INV-A", 30_520)
	sig := sign(body, testSecret)

	err := p.Handle(context.Background(), body, sig)
	require.Error(t, err)

	rec, _ := intents.Get(context.Background(), "INV-A")
	assert.Equal(t, IntentCreated, rec.Status, "failed confirmation must not complete the intent")
	assert.Empty(t, cache.marked, "no dedup key until the delivery settles")

	// gateway redelivers; this time the confirmation goes through
	require.NoError(t, p.Handle(context.Background(), body, sig))
	assert.Equal(t, 2, confirmer.count())
	rec, _ = intents.Get(context.Background(), "INV-A")
	assert.Equal(t, IntentCompleted, rec.Status)
}

func TestHandleNonCompletedIsInformational(t *testing.T) {
	intents := newMemIntents()
	require.NoError(t, intents.Insert(context.Background(), "INV-A", "ord-1", 30_520))
	confirmer := &fakeConfirmer{}
	p := &WebhookProcessor{Secret: testSecret, Intents: intents, Orders: confirmer}

	for _, status := range []string{"pending", "failed"} {
		b, err := json.Marshal(WebhookPayload{OrderID: "INV-A", Amount: 30_520, Status: status})
		require.NoError(t, err)
		require.NoError(t, p.Handle(context.Background(), b, sign(b, testSecret)))
	}
	assert.Zero(t, confirmer.count())
	rec, _ := intents.Get(context.Background(), "INV-A")
	assert.Equal(t, IntentCreated, rec.Status)
}

func TestHandleUnknownInvoice(t *testing.T) {
	p := &WebhookProcessor{Secret: testSecret, Intents: newMemIntents(), Orders: &fakeConfirmer{}}
	body := completedBody(t, "INV-NOPE", 1000)
	err := p.Handle(context.Background(), body, sign(body, testSecret))
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestHandleRaceLossSettles(t *testing.T) {
	intents := newMemIntents()
	require.NoError(t, intents.Insert(context.Background(), "INV-A", "ord-1", 30_520))
	confirmer := &fakeConfirmer{errs: []error{order.ErrNotPending}}
	sink := &captureSink{}
	p := &WebhookProcessor{Secret: testSecret, Intents: intents, Orders: confirmer, Audit: sink}

	body := completedBody(t, "INV-A", 30_520)
	// the sweep finalized the order first; the delivery still settles
	require.NoError(t, p.Handle(context.Background(), body, sign(body, testSecret)))
	assert.Contains(t, sink.actions(), "payment_after_final")

	// the gateway did collect money, so the intent records the completion
	rec, _ := intents.Get(context.Background(), "INV-A")
	assert.Equal(t, IntentCompleted, rec.Status)
}

func TestHandleAmountMismatchKeepsIntentOpen(t *testing.T) {
	intents := newMemIntents()
	require.NoError(t, intents.Insert(context.Background(), "INV-A", "ord-1", 30_520))
	confirmer := &fakeConfirmer{errs: []error{order.ErrAmountMismatch}}
	p := &WebhookProcessor{Secret: testSecret, Intents: intents, Orders: confirmer}

	body := completedBody(t, "INV-A", 29_000)
	err := p.Handle(context.Background(), body, sign(body, testSecret))
	assert.ErrorIs(t, err, order.ErrAmountMismatch, "mismatch stays loud so the gateway redelivers")

	rec, _ := intents.Get(context.Background(), "INV-A")
	assert.Equal(t, IntentCreated, rec.Status, "unapplied payment never completes the intent")
}
