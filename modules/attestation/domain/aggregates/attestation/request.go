package attestation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/attendance"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/hierarchy"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTierAlreadyOpen   = errors.New("an approval tier is already open")
	ErrTierNotOpen       = errors.New("no approval tier is open")
	ErrNotInTier         = errors.New("superior is not part of the open tier")
	ErrAlreadyDecided    = errors.New("superior already decided in the open tier")
	ErrInvalidDecision   = errors.New("invalid decision")
)

type Tier string

const (
	TierImmediate Tier = "immediate"
	TierMediate   Tier = "mediate"
)

func (t Tier) Valid() bool {
	return t == TierImmediate || t == TierMediate
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

type ApprovalRecord struct {
	SuperiorID   uuid.UUID `json:"superior_id"`
	SuperiorName string    `json:"superior_name"`
	SuperiorRole string    `json:"superior_role"`
	DecidedAt    time.Time `json:"decided_at"`
	Decision     Decision  `json:"decision"`
	Comments     *string   `json:"comments,omitempty"`
	Automatic    bool      `json:"automatic"`
}

// ApprovalSlot tracks one superior of the open tier until the tier closes.
// Decision is serialized as an explicit null while outstanding.
type ApprovalSlot struct {
	Superior   hierarchy.SuperiorRef `json:"superior"`
	Decision   *ApprovalRecord       `json:"decision"`
	OpenedAt   time.Time             `json:"opened_at"`
	NotifiedAt *time.Time            `json:"notified_at"`
	RemindedAt *time.Time            `json:"reminded_at"`
	Reminders  int                   `json:"reminders"`
}

// LastNoticeAt is the latest of the reminder, the first notice, and the tier opening.
func (s ApprovalSlot) LastNoticeAt() time.Time {
	switch {
	case s.RemindedAt != nil:
		return *s.RemindedAt
	case s.NotifiedAt != nil:
		return *s.NotifiedAt
	default:
		return s.OpenedAt
	}
}

type Request struct {
	ID       uuid.UUID
	TenantID uuid.UUID

	WorkerID     uuid.UUID
	WorkerName   string
	WorkerSector string

	Period            attendance.Period
	AttendanceRecords []attendance.Record

	Status Status

	// nil until the tier closes; an empty non-nil slice is a skipped tier.
	ImmediateApprovals []ApprovalRecord
	MediateApprovals   []ApprovalRecord

	OpenTier Tier
	Slots    []ApprovalSlot

	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
	Observations *string
	DocumentRef  *string

	Version int64
}

type NewParams struct {
	TenantID uuid.UUID
	Worker   hierarchy.Worker
	Period   attendance.Period
	Records  []attendance.Record
	Now      time.Time
}

func New(p NewParams) *Request {
	return &Request{
		ID:                uuid.New(),
		TenantID:          p.TenantID,
		WorkerID:          p.Worker.ID,
		WorkerName:        p.Worker.Name,
		WorkerSector:      p.Worker.Sector,
		Period:            p.Period,
		AttendanceRecords: p.Records,
		Status:            StatusPending,
		CreatedAt:         p.Now,
		UpdatedAt:         p.Now,
	}
}

func (r *Request) IsTerminal() bool {
	return r.Status.Terminal()
}

func (r *Request) Transition(to Status, now time.Time) error {
	if !r.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	if to.Terminal() {
		r.CompletedAt = &now
	}
	return nil
}

// NextTier reports which tier has to open next. ready is true when every
// tier has been approved and the request can complete.
func (r *Request) NextTier() (tier Tier, ready bool) {
	if r.OpenTier != "" {
		return "", false
	}
	switch r.Status {
	case StatusPending:
		return TierImmediate, false
	case StatusApprovedImmediate:
		return TierMediate, false
	case StatusApprovedMediate:
		return "", true
	}
	return "", false
}

// OpenTierWith starts collecting decisions from superiors. Duplicate ids are
// collapsed to their first occurrence. An empty list opens an empty tier that
// is immediately ready to close.
func (r *Request) OpenTierWith(tier Tier, superiors []hierarchy.SuperiorRef, now time.Time) error {
	if r.OpenTier != "" {
		return ErrTierAlreadyOpen
	}
	if expected, _ := r.NextTier(); expected != tier {
		return fmt.Errorf("%w: cannot open %s tier while %s", ErrInvalidTransition, tier, r.Status)
	}
	unique := hierarchy.Dedupe(superiors)
	r.OpenTier = tier
	r.Slots = make([]ApprovalSlot, 0, len(unique))
	for _, s := range unique {
		r.Slots = append(r.Slots, ApprovalSlot{Superior: s, OpenedAt: now})
	}
	r.UpdatedAt = now
	return nil
}

// Slot returns the open-tier slot of superiorID.
func (r *Request) Slot(superiorID uuid.UUID) (*ApprovalSlot, bool) {
	for i := range r.Slots {
		if r.Slots[i].Superior.ID == superiorID {
			return &r.Slots[i], true
		}
	}
	return nil, false
}

// Awaiting reports whether superiorID has an outstanding slot in the open tier.
func (r *Request) Awaiting(superiorID uuid.UUID) bool {
	slot, ok := r.Slot(superiorID)
	return ok && slot.Decision == nil
}

// Decide records a decision in the open tier.
func (r *Request) Decide(rec ApprovalRecord, now time.Time) error {
	if r.OpenTier == "" {
		return ErrTierNotOpen
	}
	if !rec.Decision.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDecision, rec.Decision)
	}
	slot, ok := r.Slot(rec.SuperiorID)
	if !ok {
		return ErrNotInTier
	}
	if slot.Decision != nil {
		return ErrAlreadyDecided
	}
	slot.Decision = &rec
	r.UpdatedAt = now
	return nil
}

func (r *Request) Undecided() []ApprovalSlot {
	var out []ApprovalSlot
	for _, s := range r.Slots {
		if s.Decision == nil {
			out = append(out, s)
		}
	}
	return out
}

// Rejection returns the first rejecting decision of the open tier.
func (r *Request) Rejection() *ApprovalRecord {
	for _, s := range r.Slots {
		if s.Decision != nil && s.Decision.Decision == DecisionRejected {
			return s.Decision
		}
	}
	return nil
}

// ReadyToClose is true once the open tier has a rejection or no outstanding slots.
func (r *Request) ReadyToClose() bool {
	if r.OpenTier == "" {
		return false
	}
	return r.Rejection() != nil || len(r.Undecided()) == 0
}

// CloseTier writes the tier's approval sequence (decided slots in slot order)
// and moves the request to the tier's outcome status.
func (r *Request) CloseTier(now time.Time) (Status, error) {
	if !r.ReadyToClose() {
		return r.Status, ErrTierNotOpen
	}

	records := make([]ApprovalRecord, 0, len(r.Slots))
	for _, s := range r.Slots {
		if s.Decision != nil {
			records = append(records, *s.Decision)
		}
	}

	tier := r.OpenTier
	rejection := r.Rejection()

	next := StatusApprovedImmediate
	if tier == TierMediate {
		next = StatusApprovedMediate
	}
	if rejection != nil {
		next = StatusRejected
	}
	if err := r.Transition(next, now); err != nil {
		return r.Status, err
	}

	if tier == TierImmediate {
		r.ImmediateApprovals = records
	} else {
		r.MediateApprovals = records
	}
	r.OpenTier = ""
	r.Slots = nil

	if rejection != nil {
		r.AppendObservation(RejectionObservation(tier, *rejection))
	}
	return next, nil
}

func RejectionObservation(tier Tier, rec ApprovalRecord) string {
	msg := fmt.Sprintf("rejected at %s tier by %s (%s)", tier, rec.SuperiorName, rec.SuperiorID)
	if rec.Comments != nil && strings.TrimSpace(*rec.Comments) != "" {
		msg += ": " + strings.TrimSpace(*rec.Comments)
	}
	return msg
}

// Complete moves an approved request to completed.
func (r *Request) Complete(now time.Time) error {
	if _, ready := r.NextTier(); !ready {
		return fmt.Errorf("%w: cannot complete while %s", ErrInvalidTransition, r.Status)
	}
	return r.Transition(StatusCompleted, now)
}

// Approvals returns the closed approval sequence of tier (nil if not reached).
func (r *Request) Approvals(tier Tier) []ApprovalRecord {
	if tier == TierImmediate {
		return r.ImmediateApprovals
	}
	return r.MediateApprovals
}

// ClosedDecision finds superiorID's decision in a closed tier.
func (r *Request) ClosedDecision(tier Tier, superiorID uuid.UUID) *ApprovalRecord {
	for i, rec := range r.Approvals(tier) {
		if rec.SuperiorID == superiorID {
			return &r.Approvals(tier)[i]
		}
	}
	return nil
}

// AppendObservation adds a line to Observations, separated by "; ".
func (r *Request) AppendObservation(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if r.Observations == nil || *r.Observations == "" {
		r.Observations = &text
		return
	}
	joined := *r.Observations + "; " + text
	r.Observations = &joined
}
