package order

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "order_created"
	EventOrderPaid      = "order_paid"
	EventOrderExpired   = "order_expired"
	EventOrderCancelled = "order_cancelled"
	EventOrderFlagged   = "order_flagged"
)

// Envelope wraps every published event. The chat/UI layer consumes these as
// plain facts, independent of presentation.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type StateChangedPayload struct {
	OrderID   string `json:"order_id"`
	InvoiceID string `json:"invoice_id"`
	UserID    int64  `json:"user_id"`
	Status    Status `json:"status"`
	Total     int64  `json:"total"`
	Reason    string `json:"reason,omitempty"`
}

// FlaggedPayload is the reference handed to the manual-review queue.
type FlaggedPayload struct {
	OrderID   string `json:"order_id"`
	InvoiceID string `json:"invoice_id"`
	UserID    int64  `json:"user_id"`
	Score     int    `json:"score"`
	Total     int64  `json:"total"`
}
