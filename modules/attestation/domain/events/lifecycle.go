package events

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle events are published on the in-process event bus after the
// transaction that produced them commits.

type RequestCreated struct {
	TenantID   uuid.UUID
	RequestID  uuid.UUID
	WorkerID   uuid.UUID
	Period     string
	Records    int
	OccurredAt time.Time
}

type TierOpened struct {
	TenantID   uuid.UUID
	RequestID  uuid.UUID
	Tier       string
	Superiors  int
	Automatic  int
	OccurredAt time.Time
}

type DecisionRecorded struct {
	TenantID   uuid.UUID
	RequestID  uuid.UUID
	Tier       string
	SuperiorID uuid.UUID
	Decision   string
	Automatic  bool
	OccurredAt time.Time
}

type RequestCompleted struct {
	TenantID    uuid.UUID
	RequestID   uuid.UUID
	WorkerID    uuid.UUID
	DocumentRef *string
	OccurredAt  time.Time
}

type RequestRejected struct {
	TenantID     uuid.UUID
	RequestID    uuid.UUID
	WorkerID     uuid.UUID
	Tier         string
	Observations string
	OccurredAt   time.Time
}

type ReminderSent struct {
	TenantID   uuid.UUID
	RequestID  uuid.UUID
	Tier       string
	SuperiorID uuid.UUID
	Reminder   int
	OccurredAt time.Time
}

// SideEffectFailed covers notification and document failures after the
// workflow state was already decided.
type SideEffectFailed struct {
	TenantID   uuid.UUID
	RequestID  uuid.UUID
	Kind       string
	Detail     string
	OccurredAt time.Time
}
