package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer appends consumed audit events to the audit_logs table. Rows are
// never updated or deleted by the engine; retention is an external policy.
type Writer struct {
	DB *pgxpool.Pool
}

// HandleMessage is wired as a kafka consumer handler. Returning an error
// keeps the offset uncommitted so delivery retries out-of-band.
func (w *Writer) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var e Event
	if err := json.Unmarshal(m.Value, &e); err != nil {
		return err
	}

	var actor any
	if e.ActorID != 0 {
		actor = e.ActorID
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO audit_logs(ts, actor_id, actor_type, action, entity_type, entity_id, before_state, after_state, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Timestamp, actor, e.ActorType, e.Action, e.EntityType, e.EntityID,
		e.Before, e.After, e.CorrelationID)
	return err
}

// Trail returns one correlation chain in append order.
func (w *Writer) Trail(ctx context.Context, correlationID string) ([]Event, error) {
	rows, err := w.DB.Query(ctx, `
		SELECT ts, COALESCE(actor_id, 0), actor_type, action, entity_type, entity_id, before_state, after_state, correlation_id
		FROM audit_logs WHERE correlation_id=$1 ORDER BY id`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Timestamp, &e.ActorID, &e.ActorType, &e.Action,
			&e.EntityType, &e.EntityID, &e.Before, &e.After, &e.CorrelationID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
