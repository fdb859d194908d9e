// Package events holds the payloads the attestation module publishes: outbox
// topics delivered to notification transports, and in-process lifecycle events.
package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicApprovalNeededV1 = "attestation.approval_needed.v1"
	TopicCompletedV1      = "attestation.completed.v1"
	EventVersionV1        = 1
)

type PeriodV1 struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type SuperiorV1 struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Role  string    `json:"role"`
	Email string    `json:"email,omitempty"`
}

// ApprovalNeededV1 asks a superior to decide on a request. Reminder is zero
// for the first notice and counts reminders after that.
type ApprovalNeededV1 struct {
	EventID      uuid.UUID  `json:"event_id"`
	EventVersion int        `json:"event_version"`
	TenantID     uuid.UUID  `json:"tenant_id"`
	RequestID    uuid.UUID  `json:"request_id"`
	WorkerID     uuid.UUID  `json:"worker_id"`
	WorkerName   string     `json:"worker_name"`
	Period       PeriodV1   `json:"period"`
	Tier         string     `json:"tier"`
	Superior     SuperiorV1 `json:"superior"`
	Reminder     int        `json:"reminder"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// CompletedV1 tells the requester the attestation reached a terminal state.
type CompletedV1 struct {
	EventID      uuid.UUID `json:"event_id"`
	EventVersion int       `json:"event_version"`
	TenantID     uuid.UUID `json:"tenant_id"`
	RequestID    uuid.UUID `json:"request_id"`
	WorkerID     uuid.UUID `json:"worker_id"`
	WorkerName   string    `json:"worker_name"`
	Period       PeriodV1  `json:"period"`
	Status       string    `json:"status"`
	DocumentRef  *string   `json:"document_ref,omitempty"`
	Observations *string   `json:"observations,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
