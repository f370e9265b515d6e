package audit

import (
	"log/slog"
	"time"

	kafkax "github.com/quickcart/order-engine/internal/kafka"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaSink ships audit events through the async producer. Partition key is
// the correlation id, so one order's trail stays ordered.
type KafkaSink struct {
	Producer *kafkax.Producer
}

func (s *KafkaSink) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.Producer.Publish([]byte(e.CorrelationID), kafkax.MustMarshal(e),
		kafkago.Header{Key: "x-entity-type", Value: []byte(e.EntityType)},
	)
}

// LogSink is a fallback for binaries without a broker (tests, local runs).
type LogSink struct{}

func (LogSink) Emit(e Event) {
	slog.Info("audit",
		"action", e.Action,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"correlation_id", e.CorrelationID,
	)
}
