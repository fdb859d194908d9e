package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/attendance"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/events"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/hierarchy"
	"github.com/iota-uz/iota-attest/pkg/composables"
	"github.com/iota-uz/iota-attest/pkg/eventbus"
)

const (
	DefaultMaxPeriodDays = 93
	DefaultReminderAfter = 48 * time.Hour
	DefaultBatchSize     = 100

	SideEffectNotification = "notification"
	SideEffectDocument     = "document"
)

var tracer = otel.Tracer("github.com/iota-uz/iota-attest/modules/attestation/services")

type Config struct {
	MaxPeriodDays int
	ReminderAfter time.Duration
	// BatchSize bounds how many requests one background pass touches.
	BatchSize int
}

type Deps struct {
	Repository attestation.Repository
	Hierarchy  hierarchy.Resolver
	Workers    hierarchy.WorkerDirectory
	Attendance attendance.Provider
	Rules      ApprovalRuleEvaluator
	Notifier   NotificationPort
	Documents  DocumentPort
	Locker     Locker
	EventBus   eventbus.EventBus
	Logger     *logrus.Logger
	// Transactor defaults to composables.InTenantTx.
	Transactor Transactor
}

type Option func(*WorkflowService)

func WithClock(now func() time.Time) Option {
	return func(s *WorkflowService) { s.now = now }
}

// WorkflowService drives attestation requests through the immediate and
// mediate approval tiers. Every state change of a request happens inside
// step, which holds the request lock and a row lock for its duration.
type WorkflowService struct {
	repo       attestation.Repository
	resolver   hierarchy.Resolver
	workers    hierarchy.WorkerDirectory
	attendance attendance.Provider
	rules      ApprovalRuleEvaluator
	notifier   NotificationPort
	documents  DocumentPort
	locker     Locker
	bus        eventbus.EventBus
	logger     *logrus.Logger
	tx         Transactor
	cfg        Config
	now        func() time.Time
}

func NewWorkflowService(deps Deps, cfg Config, opts ...Option) *WorkflowService {
	if cfg.MaxPeriodDays <= 0 {
		cfg.MaxPeriodDays = DefaultMaxPeriodDays
	}
	if cfg.ReminderAfter <= 0 {
		cfg.ReminderAfter = DefaultReminderAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	s := &WorkflowService{
		repo:       deps.Repository,
		resolver:   deps.Hierarchy,
		workers:    deps.Workers,
		attendance: deps.Attendance,
		rules:      deps.Rules,
		notifier:   deps.Notifier,
		documents:  deps.Documents,
		locker:     deps.Locker,
		bus:        deps.EventBus,
		logger:     deps.Logger,
		tx:         deps.Transactor,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.rules == nil {
		s.rules = DefaultRuleSet()
	}
	if s.locker == nil {
		s.locker = NewMemoryLocker()
	}
	if s.tx == nil {
		s.tx = composables.InTenantTx
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WorkflowService) Config() Config { return s.cfg }

type CreateRequestParams struct {
	WorkerID uuid.UUID
	Period   attendance.Period
}

type ProcessApprovalParams struct {
	RequestID  uuid.UUID
	SuperiorID uuid.UUID
	Decision   attestation.Decision
	Comments   *string
	// Tier optionally names the tier the caller believes it is deciding.
	Tier attestation.Tier
}

// stepEffects collects what a step changed. Events are published only after
// the step transaction commits.
type stepEffects struct {
	now       time.Time
	dirty     bool
	completed bool
	events    []any
}

func (fx *stepEffects) emit(e any) {
	fx.events = append(fx.events, e)
	fx.dirty = true
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func requireTenant(ctx context.Context) (uuid.UUID, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return uuid.Nil, ErrTenantRequired.withCause(err)
	}
	return tenantID, nil
}

func lockKey(tenantID, requestID uuid.UUID) string {
	return fmt.Sprintf("attestation:%s:%s", tenantID, requestID)
}

// CreateRequest snapshots the worker and the attendance of period, persists a
// pending request and opens the first tier. A failure while opening the tier
// is logged and the pending request is returned; Resume picks it up later.
func (s *WorkflowService) CreateRequest(ctx context.Context, p CreateRequestParams) (_ *attestation.Request, err error) {
	ctx, span := startSpan(ctx, "attestation.CreateRequest", attribute.String("worker_id", p.WorkerID.String()))
	defer func() { endSpan(span, err) }()

	tenantID, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	period, err := s.validatePeriod(p.Period)
	if err != nil {
		return nil, err
	}

	worker, err := s.workers.FindWorker(ctx, p.WorkerID)
	if err != nil {
		if errors.Is(err, hierarchy.ErrWorkerNotFound) {
			return nil, ErrWorkerNotFound.withCause(err)
		}
		return nil, fmt.Errorf("find worker: %w", err)
	}

	records, err := s.attendance.FetchRecords(ctx, worker.ID, period)
	if err != nil {
		s.logWithFields(ctx, logrus.WarnLevel, "attestation.attendance.unavailable", logrus.Fields{
			"worker_id": worker.ID.String(),
			"period":    period.String(),
			"error":     err.Error(),
		})
		return nil, ErrAttendanceUnavailable.withCause(err)
	}

	req := attestation.New(attestation.NewParams{
		TenantID: tenantID,
		Worker:   worker,
		Period:   period,
		Records:  records,
		Now:      s.now(),
	})
	if err := s.tx(ctx, func(txCtx context.Context) error {
		return s.repo.Create(txCtx, req)
	}); err != nil {
		return nil, fmt.Errorf("persist request: %w", err)
	}

	attestationRequestsCreated.Inc()
	span.SetAttributes(attribute.String("request_id", req.ID.String()))
	s.logWithFields(ctx, logrus.InfoLevel, "attestation.request.created", logrus.Fields{
		"request_id": req.ID.String(),
		"worker_id":  worker.ID.String(),
		"period":     period.String(),
		"records":    len(records),
	})
	s.publish(&events.RequestCreated{
		TenantID:   tenantID,
		RequestID:  req.ID,
		WorkerID:   worker.ID,
		Period:     period.String(),
		Records:    len(records),
		OccurredAt: req.CreatedAt,
	})

	advanced, stepErr := s.step(ctx, req.ID, "create", func(txCtx context.Context, cur *attestation.Request, fx *stepEffects) error {
		return s.advance(txCtx, cur, fx)
	})
	if stepErr != nil {
		s.logWithFields(ctx, logrus.WarnLevel, "attestation.step.failed", logrus.Fields{
			"request_id": req.ID.String(),
			"operation":  "create",
			"error":      stepErr.Error(),
		})
		return req, nil
	}
	return advanced, nil
}

func (s *WorkflowService) validatePeriod(p attendance.Period) (attendance.Period, error) {
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return p, ErrInvalidPeriod.withMessage("period start and end dates are required")
	}
	period := attendance.NewPeriod(p.StartDate, p.EndDate)
	if period.EndDate.Before(period.StartDate) {
		return period, ErrInvalidPeriod.withMessage("period end %s is before start %s",
			period.EndDate.Format(time.DateOnly), period.StartDate.Format(time.DateOnly))
	}
	if days := period.Days(); days > s.cfg.MaxPeriodDays {
		return period, ErrInvalidPeriod.withMessage("period spans %d days, at most %d allowed", days, s.cfg.MaxPeriodDays)
	}
	return period, nil
}

// ProcessApproval records a manual decision and advances the request when the
// decision closes the open tier.
func (s *WorkflowService) ProcessApproval(ctx context.Context, p ProcessApprovalParams) (_ *attestation.Request, err error) {
	ctx, span := startSpan(ctx, "attestation.ProcessApproval",
		attribute.String("request_id", p.RequestID.String()),
		attribute.String("superior_id", p.SuperiorID.String()),
		attribute.String("decision", string(p.Decision)),
	)
	defer func() { endSpan(span, err) }()

	if !p.Decision.Valid() {
		return nil, ErrInvalidDecision.withMessage("decision must be approved or rejected, got %q", p.Decision)
	}
	if p.Tier != "" && !p.Tier.Valid() {
		return nil, ErrInvalidDecision.withMessage("tier must be immediate or mediate, got %q", p.Tier)
	}
	if p.SuperiorID == uuid.Nil {
		return nil, ErrInvalidSuperior.withMessage("superior id is required")
	}

	return s.step(ctx, p.RequestID, "process_approval", func(txCtx context.Context, req *attestation.Request, fx *stepEffects) error {
		if err := checkDecisionAllowed(req, p.SuperiorID, p.Tier); err != nil {
			return err
		}
		slot, _ := req.Slot(p.SuperiorID)
		rec := attestation.ApprovalRecord{
			SuperiorID:   slot.Superior.ID,
			SuperiorName: slot.Superior.Name,
			SuperiorRole: slot.Superior.Role,
			DecidedAt:    fx.now,
			Decision:     p.Decision,
			Comments:     normalizeComments(p.Comments),
		}
		tier := req.OpenTier
		if err := req.Decide(rec, fx.now); err != nil {
			return mapDomainError(err)
		}
		s.decisionRecorded(txCtx, req, tier, rec, fx)
		return s.advance(txCtx, req, fx)
	})
}

// checkDecisionAllowed classifies a decision attempt. Resubmitting a decision
// already on record is a duplicate even after the request left the tier.
func checkDecisionAllowed(req *attestation.Request, superiorID uuid.UUID, tier attestation.Tier) error {
	if tier != "" && tier != req.OpenTier {
		if req.ClosedDecision(tier, superiorID) != nil {
			return ErrDuplicateDecision.withMessage("superior already decided the %s tier", tier)
		}
		if req.Approvals(tier) != nil || req.OpenTier == "" || req.IsTerminal() {
			return ErrRequestNotPending.withMessage("the %s tier is no longer open", tier)
		}
		return ErrInvalidSuperior.withMessage("the %s tier is not open yet", tier)
	}

	if req.OpenTier != "" {
		if slot, ok := req.Slot(superiorID); ok {
			if slot.Decision != nil {
				return ErrDuplicateDecision.withMessage("superior already decided the %s tier", req.OpenTier)
			}
			if tier == "" && req.OpenTier == attestation.TierMediate &&
				req.ClosedDecision(attestation.TierImmediate, superiorID) != nil {
				return ErrDuplicateDecision.withMessage("superior already decided the immediate tier; name the mediate tier to decide it")
			}
			return nil
		}
	}
	for _, t := range []attestation.Tier{attestation.TierImmediate, attestation.TierMediate} {
		if req.ClosedDecision(t, superiorID) != nil {
			return ErrDuplicateDecision.withMessage("superior already decided the %s tier", t)
		}
	}
	if req.IsTerminal() || req.OpenTier == "" {
		return ErrRequestNotPending.withMessage("request is %s", req.Status)
	}
	return ErrInvalidSuperior
}

func mapDomainError(err error) error {
	switch {
	case errors.Is(err, attestation.ErrAlreadyDecided):
		return ErrDuplicateDecision.withCause(err)
	case errors.Is(err, attestation.ErrNotInTier):
		return ErrInvalidSuperior.withCause(err)
	case errors.Is(err, attestation.ErrTierNotOpen):
		return ErrRequestNotPending.withCause(err)
	case errors.Is(err, attestation.ErrInvalidDecision):
		return ErrInvalidDecision.withCause(err)
	}
	return err
}

func normalizeComments(c *string) *string {
	if c == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*c)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *WorkflowService) GetRequest(ctx context.Context, id uuid.UUID) (*attestation.Request, error) {
	if _, err := requireTenant(ctx); err != nil {
		return nil, err
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, attestation.ErrNotFound) {
			return nil, ErrRequestNotFound.withCause(err)
		}
		return nil, err
	}
	return req, nil
}

// GetPendingForSuperior lists requests where superiorID has an undecided slot
// in the open tier.
func (s *WorkflowService) GetPendingForSuperior(ctx context.Context, superiorID uuid.UUID) ([]*attestation.Request, error) {
	if _, err := requireTenant(ctx); err != nil {
		return nil, err
	}
	return s.repo.PendingForSuperior(ctx, superiorID)
}

// GetHistory lists every request of the worker, newest first.
func (s *WorkflowService) GetHistory(ctx context.Context, workerID uuid.UUID) ([]*attestation.Request, error) {
	if _, err := requireTenant(ctx); err != nil {
		return nil, err
	}
	return s.repo.ByWorker(ctx, workerID)
}

// Resume re-drives a request whose last step was interrupted: no tier open on
// a non-terminal request, an open tier that is ready to close, or a completed
// request still missing its document.
func (s *WorkflowService) Resume(ctx context.Context, id uuid.UUID) (*attestation.Request, error) {
	return s.step(ctx, id, "resume", func(txCtx context.Context, req *attestation.Request, fx *stepEffects) error {
		if req.Status == attestation.StatusCompleted && req.DocumentRef == nil {
			return s.finishCompleted(txCtx, req, fx)
		}
		if req.IsTerminal() {
			return nil
		}
		if req.OpenTier != "" && !req.ReadyToClose() {
			return nil
		}
		return s.advance(txCtx, req, fx)
	})
}

// ResumeStalled resumes stalled requests of every tenant and reports how many
// were handled.
func (s *WorkflowService) ResumeStalled(ctx context.Context) (int, error) {
	refs, err := s.repo.Stalled(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stalled requests: %w", err)
	}
	var errs []error
	resumed := 0
	for _, ref := range refs {
		tenantCtx := composables.WithTenantID(ctx, ref.TenantID)
		if _, err := s.Resume(tenantCtx, ref.ID); err != nil {
			s.logWithFields(tenantCtx, logrus.WarnLevel, "attestation.resume.failed", logrus.Fields{
				"request_id": ref.ID.String(),
				"tenant_id":  ref.TenantID.String(),
				"error":      err.Error(),
			})
			errs = append(errs, fmt.Errorf("resume %s: %w", ref.ID, err))
			continue
		}
		resumed++
	}
	return resumed, errors.Join(errs...)
}

// RemindOverdue re-notifies superiors whose decision has been outstanding for
// longer than ReminderAfter since their last notice. Status never changes.
func (s *WorkflowService) RemindOverdue(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.ReminderAfter)
	refs, err := s.repo.Overdue(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list overdue requests: %w", err)
	}

	var errs []error
	sent := 0
	for _, ref := range refs {
		tenantCtx := composables.WithTenantID(ctx, ref.TenantID)
		n := 0
		_, err := s.step(tenantCtx, ref.ID, "remind", func(txCtx context.Context, req *attestation.Request, fx *stepEffects) error {
			n = s.remind(txCtx, req, cutoff, fx)
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("remind %s: %w", ref.ID, err))
			continue
		}
		sent += n
	}
	return sent, errors.Join(errs...)
}

func (s *WorkflowService) remind(ctx context.Context, req *attestation.Request, cutoff time.Time, fx *stepEffects) int {
	if req.IsTerminal() || req.OpenTier == "" {
		return 0
	}
	sent := 0
	for i := range req.Slots {
		slot := &req.Slots[i]
		if slot.Decision != nil || slot.LastNoticeAt().After(cutoff) {
			continue
		}
		prevAt, prevCount := slot.RemindedAt, slot.Reminders
		at := fx.now
		slot.RemindedAt = &at
		slot.Reminders++

		if err := s.notifier.NotifyApprovalNeeded(ctx, req, slot.Superior, req.OpenTier); err != nil {
			slot.RemindedAt, slot.Reminders = prevAt, prevCount
			s.sideEffectFailed(ctx, req, SideEffectNotification,
				fmt.Sprintf("reminder to %s (%s)", slot.Superior.Name, slot.Superior.ID), err, fx)
			continue
		}
		sent++
		attestationReminders.Inc()
		s.logWithFields(ctx, logrus.InfoLevel, "attestation.reminder.sent", logrus.Fields{
			"request_id":  req.ID.String(),
			"tier":        string(req.OpenTier),
			"superior_id": slot.Superior.ID.String(),
			"reminder":    slot.Reminders,
		})
		fx.emit(&events.ReminderSent{
			TenantID:   req.TenantID,
			RequestID:  req.ID,
			Tier:       string(req.OpenTier),
			SuperiorID: slot.Superior.ID,
			Reminder:   slot.Reminders,
			OccurredAt: fx.now,
		})
	}
	return sent
}

// RecordSideEffectFailure appends a late delivery failure, such as an outbox
// message that exhausted its retries, to the request observations.
func (s *WorkflowService) RecordSideEffectFailure(ctx context.Context, requestID uuid.UUID, kind, detail string) error {
	_, err := s.step(ctx, requestID, "record_failure", func(txCtx context.Context, req *attestation.Request, fx *stepEffects) error {
		s.sideEffectFailed(txCtx, req, kind, detail, nil, fx)
		return nil
	})
	return err
}

// step runs a workflow step. When the step completes the request, the
// document is rendered in a second step once the completion is committed.
func (s *WorkflowService) step(
	ctx context.Context,
	requestID uuid.UUID,
	operation string,
	fn func(context.Context, *attestation.Request, *stepEffects) error,
) (*attestation.Request, error) {
	out, fx, err := s.runStep(ctx, requestID, operation, fn)
	if err != nil || !fx.completed {
		return out, err
	}
	finished, _, err := s.runStep(ctx, requestID, "finish", s.finishCompleted)
	if err != nil {
		s.logWithFields(ctx, logrus.ErrorLevel, "attestation.step.failed", logrus.Fields{
			"request_id": requestID.String(),
			"operation":  "finish",
			"error":      err.Error(),
		})
		return out, nil
	}
	return finished, nil
}

// runStep loads requestID under the request lock and a row lock, applies fn
// and saves the request if fn changed it. Lifecycle events are published
// after the commit.
func (s *WorkflowService) runStep(
	ctx context.Context,
	requestID uuid.UUID,
	operation string,
	fn func(context.Context, *attestation.Request, *stepEffects) error,
) (_ *attestation.Request, _ *stepEffects, err error) {
	started := time.Now()
	defer func() { recordStep(operation, time.Since(started).Seconds(), err) }()

	tenantID, err := requireTenant(ctx)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := s.locker.Lock(ctx, lockKey(tenantID, requestID))
	if err != nil {
		return nil, nil, fmt.Errorf("lock request %s: %w", requestID, err)
	}
	defer unlock()

	fx := &stepEffects{now: s.now()}
	var out *attestation.Request
	err = s.tx(ctx, func(txCtx context.Context) error {
		req, err := s.repo.GetForUpdate(txCtx, requestID)
		if err != nil {
			if errors.Is(err, attestation.ErrNotFound) {
				return ErrRequestNotFound.withCause(err)
			}
			return err
		}
		if err := fn(txCtx, req, fx); err != nil {
			return err
		}
		if fx.dirty {
			if err := req.Validate(); err != nil {
				return err
			}
			if err := s.repo.Save(txCtx, req); err != nil {
				if errors.Is(err, attestation.ErrVersionConflict) {
					return ErrConcurrentModification.withCause(err)
				}
				return err
			}
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.publish(fx.events...)
	return out, fx, nil
}

// advance moves the request forward until it needs a manual decision or
// reaches a terminal status.
func (s *WorkflowService) advance(ctx context.Context, req *attestation.Request, fx *stepEffects) error {
	for !req.IsTerminal() {
		if req.OpenTier != "" {
			if !req.ReadyToClose() {
				return nil
			}
			tier := req.OpenTier
			status, err := req.CloseTier(fx.now)
			if err != nil {
				return err
			}
			fx.dirty = true
			if status == attestation.StatusRejected {
				s.rejected(ctx, req, tier, fx)
				return nil
			}
			continue
		}

		tier, ready := req.NextTier()
		if ready {
			return s.complete(ctx, req, fx)
		}
		if err := s.openTier(ctx, req, tier, fx); err != nil {
			return err
		}
	}
	return nil
}

func (s *WorkflowService) superiors(ctx context.Context, workerID uuid.UUID, tier attestation.Tier) ([]hierarchy.SuperiorRef, error) {
	if tier == attestation.TierImmediate {
		return s.resolver.ImmediateSuperiors(ctx, workerID)
	}
	return s.resolver.MediateSuperiors(ctx, workerID)
}

// openTier resolves the tier, records automatic decisions and notifies the
// remaining superiors. An automatic rejection suppresses all notifications of
// the tier because the tier closes right away.
func (s *WorkflowService) openTier(ctx context.Context, req *attestation.Request, tier attestation.Tier, fx *stepEffects) error {
	superiors, err := s.superiors(ctx, req.WorkerID, tier)
	if err != nil {
		return fmt.Errorf("resolve %s superiors: %w", tier, err)
	}
	if err := req.OpenTierWith(tier, superiors, fx.now); err != nil {
		return err
	}

	automatic := 0
	autoRejected := false
	for i := range req.Slots {
		superior := req.Slots[i].Superior
		d := s.rules.EvaluateAutomatic(superior, req)
		if d == nil {
			continue
		}
		comment := d.Comment
		rec := attestation.ApprovalRecord{
			SuperiorID:   superior.ID,
			SuperiorName: superior.Name,
			SuperiorRole: superior.Role,
			DecidedAt:    fx.now,
			Decision:     d.Decision,
			Comments:     &comment,
			Automatic:    true,
		}
		if err := req.Decide(rec, fx.now); err != nil {
			return err
		}
		automatic++
		s.decisionRecorded(ctx, req, tier, rec, fx)
		if d.Decision == attestation.DecisionRejected {
			autoRejected = true
		}
	}

	s.logWithFields(ctx, logrus.InfoLevel, "attestation.tier.opened", logrus.Fields{
		"request_id": req.ID.String(),
		"tier":       string(tier),
		"superiors":  len(req.Slots),
		"automatic":  automatic,
	})
	fx.emit(&events.TierOpened{
		TenantID:   req.TenantID,
		RequestID:  req.ID,
		Tier:       string(tier),
		Superiors:  len(req.Slots),
		Automatic:  automatic,
		OccurredAt: fx.now,
	})

	if autoRejected {
		return nil
	}
	for i := range req.Slots {
		slot := &req.Slots[i]
		if slot.Decision != nil {
			continue
		}
		if err := s.notifier.NotifyApprovalNeeded(ctx, req, slot.Superior, tier); err != nil {
			s.sideEffectFailed(ctx, req, SideEffectNotification,
				fmt.Sprintf("approval request to %s (%s)", slot.Superior.Name, slot.Superior.ID), err, fx)
			continue
		}
		at := fx.now
		slot.NotifiedAt = &at
	}
	return nil
}

func (s *WorkflowService) decisionRecorded(ctx context.Context, req *attestation.Request, tier attestation.Tier, rec attestation.ApprovalRecord, fx *stepEffects) {
	recordDecision(string(tier), string(rec.Decision), rec.Automatic)
	s.logWithFields(ctx, logrus.InfoLevel, "attestation.decision.recorded", logrus.Fields{
		"request_id":  req.ID.String(),
		"tier":        string(tier),
		"superior_id": rec.SuperiorID.String(),
		"decision":    string(rec.Decision),
		"automatic":   rec.Automatic,
	})
	fx.emit(&events.DecisionRecorded{
		TenantID:   req.TenantID,
		RequestID:  req.ID,
		Tier:       string(tier),
		SuperiorID: rec.SuperiorID,
		Decision:   string(rec.Decision),
		Automatic:  rec.Automatic,
		OccurredAt: fx.now,
	})
}

// complete marks an approved request completed. The document and the
// completion notice follow in finishCompleted after the commit.
func (s *WorkflowService) complete(ctx context.Context, req *attestation.Request, fx *stepEffects) error {
	if err := req.Complete(fx.now); err != nil {
		return err
	}
	fx.dirty = true
	fx.completed = true
	attestationRequestsFinished.WithLabelValues(string(attestation.StatusCompleted)).Inc()
	s.logWithFields(ctx, logrus.InfoLevel, "attestation.request.completed", logrus.Fields{
		"request_id": req.ID.String(),
		"worker_id":  req.WorkerID.String(),
	})
	return nil
}

// finishCompleted renders the document of a committed completion and sends
// the completion notice. Neither failure reverts the status.
func (s *WorkflowService) finishCompleted(ctx context.Context, req *attestation.Request, fx *stepEffects) error {
	if req.Status != attestation.StatusCompleted || req.DocumentRef != nil {
		return nil
	}
	fx.dirty = true
	if ref, err := s.documents.GenerateAttestationDocument(ctx, req); err != nil {
		s.sideEffectFailed(ctx, req, SideEffectDocument, "attestation document", err, fx)
	} else {
		req.DocumentRef = &ref
	}
	s.notifyCompletion(ctx, req, fx)

	if req.DocumentRef != nil {
		s.logWithFields(ctx, logrus.InfoLevel, "attestation.document.generated", logrus.Fields{
			"request_id":   req.ID.String(),
			"document_ref": *req.DocumentRef,
		})
	}
	fx.emit(&events.RequestCompleted{
		TenantID:    req.TenantID,
		RequestID:   req.ID,
		WorkerID:    req.WorkerID,
		DocumentRef: req.DocumentRef,
		OccurredAt:  fx.now,
	})
	return nil
}

func (s *WorkflowService) rejected(ctx context.Context, req *attestation.Request, tier attestation.Tier, fx *stepEffects) {
	attestationRequestsFinished.WithLabelValues(string(attestation.StatusRejected)).Inc()
	s.notifyCompletion(ctx, req, fx)

	observations := ""
	if req.Observations != nil {
		observations = *req.Observations
	}
	s.logWithFields(ctx, logrus.InfoLevel, "attestation.request.rejected", logrus.Fields{
		"request_id":   req.ID.String(),
		"worker_id":    req.WorkerID.String(),
		"tier":         string(tier),
		"observations": observations,
	})
	fx.emit(&events.RequestRejected{
		TenantID:     req.TenantID,
		RequestID:    req.ID,
		WorkerID:     req.WorkerID,
		Tier:         string(tier),
		Observations: observations,
		OccurredAt:   fx.now,
	})
}

func (s *WorkflowService) notifyCompletion(ctx context.Context, req *attestation.Request, fx *stepEffects) {
	if err := s.notifier.NotifyCompletion(ctx, req); err != nil {
		s.sideEffectFailed(ctx, req, SideEffectNotification, "completion notice", err, fx)
	}
}

// sideEffectFailed logs, counts and records a failure in the observations.
// cause may be nil when detail already describes the failure.
func (s *WorkflowService) sideEffectFailed(ctx context.Context, req *attestation.Request, kind, detail string, cause error, fx *stepEffects) {
	sentinel := ErrNotificationDeliveryFailed
	event := "attestation.notification.failed"
	if kind == SideEffectDocument {
		sentinel = ErrDocumentGenerationFailed
		event = "attestation.document.failed"
	}

	text := sentinel.Message
	if detail != "" {
		text += " (" + detail + ")"
	}
	if cause != nil {
		text += ": " + cause.Error()
	}

	recordSideEffectFailure(kind)
	s.logWithFields(ctx, logrus.ErrorLevel, event, logrus.Fields{
		"request_id": req.ID.String(),
		"code":       sentinel.Code,
		"status":     string(req.Status),
		"detail":     text,
	})
	req.AppendObservation(text)
	fx.emit(&events.SideEffectFailed{
		TenantID:   req.TenantID,
		RequestID:  req.ID,
		Kind:       kind,
		Detail:     text,
		OccurredAt: fx.now,
	})
}

func (s *WorkflowService) publish(evts ...any) {
	if s.bus == nil {
		return
	}
	for _, e := range evts {
		s.bus.Publish(e)
	}
}
