package attestation

import (
	"errors"
	"fmt"
)

var ErrInvariant = errors.New("attestation invariant violated")

func invariant(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...)
}

func allApproved(records []ApprovalRecord) bool {
	for _, r := range records {
		if r.Decision != DecisionApproved {
			return false
		}
	}
	return true
}

func hasRejection(records []ApprovalRecord) bool {
	return !allApproved(records)
}

// Validate checks the structural invariants a stored request must satisfy.
func (r *Request) Validate() error {
	if !r.Status.Valid() {
		return invariant("unknown status %q", r.Status)
	}
	if r.MediateApprovals != nil && (r.ImmediateApprovals == nil || !allApproved(r.ImmediateApprovals)) {
		return invariant("mediate approvals without an approved immediate tier")
	}
	if r.OpenTier != "" {
		if r.IsTerminal() {
			return invariant("terminal request with an open %s tier", r.OpenTier)
		}
		opensFrom := map[Tier]Status{TierImmediate: StatusPending, TierMediate: StatusApprovedImmediate}
		if from, ok := opensFrom[r.OpenTier]; !ok || from != r.Status {
			return invariant("%s tier open while %s", r.OpenTier, r.Status)
		}
	}
	switch r.Status {
	case StatusPending:
		if r.ImmediateApprovals != nil {
			return invariant("pending request with immediate approvals")
		}
	case StatusApprovedImmediate:
		if r.ImmediateApprovals == nil || !allApproved(r.ImmediateApprovals) || r.MediateApprovals != nil {
			return invariant("approved_immediate requires only an all-approved immediate tier")
		}
	case StatusApprovedMediate, StatusCompleted:
		if r.ImmediateApprovals == nil || r.MediateApprovals == nil ||
			!allApproved(r.ImmediateApprovals) || !allApproved(r.MediateApprovals) {
			return invariant("%s requires both tiers approved", r.Status)
		}
	case StatusRejected:
		if !hasRejection(r.ImmediateApprovals) && !hasRejection(r.MediateApprovals) {
			return invariant("rejected request without a recorded rejection")
		}
	}
	if r.Status.Terminal() && r.CompletedAt == nil {
		return invariant("terminal request without completed_at")
	}
	return nil
}
