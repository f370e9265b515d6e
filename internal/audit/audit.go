package audit

import (
	"encoding/json"
	"time"
)

const TopicAuditEvents = "audit.events"

const (
	ActorUser   = "user"
	ActorAdmin  = "admin"
	ActorSystem = "system"
)

// Event is an append-only record of one state transition. Events sharing a
// correlation id (one order's lifecycle) are delivered in order.
type Event struct {
	Timestamp     time.Time       `json:"timestamp"`
	ActorID       int64           `json:"actor_id,omitempty"`
	ActorType     string          `json:"actor_type"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	CorrelationID string          `json:"correlation_id"`
}

// Sink records events best-effort. Implementations must never block or fail
// the business transition being recorded.
type Sink interface {
	Emit(e Event)
}

// Snapshot serializes an entity state for before/after capture.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
