package services

import (
	"context"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/hierarchy"
)

// NotificationPort delivers notices to superiors and requesters. The slot of
// superior in req carries the reminder count when a notice is a reminder.
type NotificationPort interface {
	NotifyApprovalNeeded(ctx context.Context, req *attestation.Request, superior hierarchy.SuperiorRef, tier attestation.Tier) error
	NotifyCompletion(ctx context.Context, req *attestation.Request) error
}

// DocumentPort renders the attestation document and returns its reference.
type DocumentPort interface {
	GenerateAttestationDocument(ctx context.Context, req *attestation.Request) (string, error)
}

// Locker serialises work on a key. unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Transactor runs fn inside a transaction bound to the returned context.
type Transactor func(ctx context.Context, fn func(context.Context) error) error

// ApprovalRuleEvaluator returns nil when the superior has to decide manually.
// Implementations must be pure.
type ApprovalRuleEvaluator interface {
	EvaluateAutomatic(superior hierarchy.SuperiorRef, req *attestation.Request) *AutomaticDecision
}
