package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-attest/pkg/repo"
)

type Publisher interface {
	Enqueue(ctx context.Context, tx repo.Tx, table pgx.Identifier, msg Message) (sequence int64, err error)
}

type publisher struct {
	m   *metrics
	now func() time.Time
}

func NewPublisher() Publisher {
	return &publisher{m: getMetrics(), now: time.Now}
}

func validateMessage(table pgx.Identifier, msg Message) error {
	switch {
	case msg.TenantID == uuid.Nil:
		return invalidConfig("tenant_id is required")
	case msg.EventID == uuid.Nil:
		return invalidConfig("event_id is required")
	case msg.Topic == "":
		return invalidConfig("topic is required")
	case len(table) == 0:
		return invalidConfig("table is required")
	case len(msg.Payload) == 0:
		return invalidConfig("payload is required")
	}
	return nil
}

// Enqueue inserts msg within tx. Re-enqueueing the same EventID returns the
// sequence of the existing row and leaves it untouched.
func (p *publisher) Enqueue(ctx context.Context, tx repo.Tx, table pgx.Identifier, msg Message) (int64, error) {
	if err := validateMessage(table, msg); err != nil {
		return 0, err
	}

	availableAt := msg.AvailableAt
	if availableAt.IsZero() {
		availableAt = p.now()
	}
	traceParent, traceState := captureTrace(ctx)

	q := fmt.Sprintf(
		`INSERT INTO %s (tenant_id, topic, payload, event_id, available_at, trace_parent, trace_state)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		 ON CONFLICT (event_id) DO UPDATE SET event_id = EXCLUDED.event_id
		 RETURNING sequence`,
		table.Sanitize(),
	)

	var sequence int64
	err := tx.QueryRow(ctx, q,
		msg.TenantID, msg.Topic, []byte(msg.Payload), msg.EventID, availableAt, traceParent, traceState,
	).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("outbox enqueue %s: %w", msg.Topic, err)
	}

	p.m.enqueueTotal.WithLabelValues(TableLabel(table), msg.Topic).Inc()
	return sequence, nil
}
