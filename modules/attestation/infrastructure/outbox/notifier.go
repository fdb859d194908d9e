package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/events"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/hierarchy"
	"github.com/iota-uz/iota-attest/pkg/composables"
	"github.com/iota-uz/iota-attest/pkg/outbox"
	"github.com/iota-uz/iota-attest/pkg/repo"
)

const DefaultTable = "attestation_outbox"

// eventNamespace seeds deterministic event ids so a retried step enqueues
// the same message instead of a second one.
var eventNamespace = uuid.MustParse("6f1d3a52-9c7e-4b8a-a3f1-2d9e5c4b7a10")

func ApprovalEventID(requestID uuid.UUID, tier attestation.Tier, superiorID uuid.UUID, reminder int) uuid.UUID {
	key := fmt.Sprintf("%s|%s|%s|%d", requestID, tier, superiorID, reminder)
	return uuid.NewSHA1(eventNamespace, []byte(key))
}

func CompletedEventID(requestID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(eventNamespace, []byte(requestID.String()+"|completed"))
}

// Notifier writes notifications to the outbox table in the transaction of
// the workflow step. Delivery happens later through the relay.
type Notifier struct {
	publisher outbox.Publisher
	table     pgx.Identifier
	now       func() time.Time
	txFrom    func(ctx context.Context) (repo.Tx, error)
}

func NewNotifier(publisher outbox.Publisher, table pgx.Identifier) *Notifier {
	if len(table) == 0 {
		table = pgx.Identifier{DefaultTable}
	}
	return &Notifier{
		publisher: publisher,
		table:     table,
		now:       time.Now,
		txFrom:    composables.UseTx,
	}
}

func period(req *attestation.Request) events.PeriodV1 {
	return events.PeriodV1{
		StartDate: req.Period.StartDate.Format(time.DateOnly),
		EndDate:   req.Period.EndDate.Format(time.DateOnly),
	}
}

func (n *Notifier) NotifyApprovalNeeded(ctx context.Context, req *attestation.Request, superior hierarchy.SuperiorRef, tier attestation.Tier) error {
	reminder := 0
	if slot, ok := req.Slot(superior.ID); ok {
		reminder = slot.Reminders
	}
	ev := events.ApprovalNeededV1{
		EventID:      ApprovalEventID(req.ID, tier, superior.ID, reminder),
		EventVersion: events.EventVersionV1,
		TenantID:     req.TenantID,
		RequestID:    req.ID,
		WorkerID:     req.WorkerID,
		WorkerName:   req.WorkerName,
		Period:       period(req),
		Tier:         string(tier),
		Superior: events.SuperiorV1{
			ID:    superior.ID,
			Name:  superior.Name,
			Role:  superior.Role,
			Email: superior.Email,
		},
		Reminder:   reminder,
		OccurredAt: n.now().UTC(),
	}
	return n.enqueue(ctx, req.TenantID, events.TopicApprovalNeededV1, ev.EventID, ev)
}

func (n *Notifier) NotifyCompletion(ctx context.Context, req *attestation.Request) error {
	ev := events.CompletedV1{
		EventID:      CompletedEventID(req.ID),
		EventVersion: events.EventVersionV1,
		TenantID:     req.TenantID,
		RequestID:    req.ID,
		WorkerID:     req.WorkerID,
		WorkerName:   req.WorkerName,
		Period:       period(req),
		Status:       string(req.Status),
		DocumentRef:  req.DocumentRef,
		Observations: req.Observations,
		OccurredAt:   n.now().UTC(),
	}
	return n.enqueue(ctx, req.TenantID, events.TopicCompletedV1, ev.EventID, ev)
}

// enqueue runs inside a savepoint when ctx carries a transaction, so a failed
// insert does not poison the workflow step.
func (n *Notifier) enqueue(ctx context.Context, tenantID uuid.UUID, topic string, eventID uuid.UUID, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	msg := outbox.Message{
		TenantID: tenantID,
		Topic:    topic,
		EventID:  eventID,
		Payload:  raw,
	}

	tx, err := n.txFrom(ctx)
	if err != nil {
		return err
	}
	ptx, ok := tx.(pgx.Tx)
	if !ok {
		_, err := n.publisher.Enqueue(ctx, tx, n.table, msg)
		return err
	}

	sp, err := ptx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox savepoint: %w", err)
	}
	if _, err := n.publisher.Enqueue(ctx, sp, n.table, msg); err != nil {
		if rErr := sp.Rollback(ctx); rErr != nil {
			return errors.Join(err, rErr)
		}
		return err
	}
	return sp.Commit(ctx)
}
