// Package handlers subscribes the attestation module to the event bus.
package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/events"
	"github.com/iota-uz/iota-attest/pkg/eventbus"
)

// AuditHandler writes one audit line per lifecycle event to a dedicated
// logger, separate from the operational logs of the workflow service.
type AuditHandler struct {
	logger *logrus.Logger
}

func NewAuditHandler(logger *logrus.Logger) *AuditHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuditHandler{logger: logger}
}

func (h *AuditHandler) Subscribe(bus eventbus.EventBus) {
	bus.Subscribe(h.onCreated)
	bus.Subscribe(h.onTierOpened)
	bus.Subscribe(h.onDecision)
	bus.Subscribe(h.onCompleted)
	bus.Subscribe(h.onRejected)
	bus.Subscribe(h.onReminder)
	bus.Subscribe(h.onSideEffectFailed)
}

func (h *AuditHandler) entry(kind string, fields logrus.Fields) *logrus.Entry {
	fields["audit"] = kind
	return h.logger.WithFields(fields)
}

func (h *AuditHandler) onCreated(e *events.RequestCreated) {
	h.entry("request_created", logrus.Fields{
		"tenant_id":  e.TenantID.String(),
		"request_id": e.RequestID.String(),
		"worker_id":  e.WorkerID.String(),
		"period":     e.Period,
		"records":    e.Records,
	}).WithTime(e.OccurredAt).Info("attestation.audit")
}

func (h *AuditHandler) onTierOpened(e *events.TierOpened) {
	h.entry("tier_opened", logrus.Fields{
		"tenant_id":  e.TenantID.String(),
		"request_id": e.RequestID.String(),
		"tier":       e.Tier,
		"superiors":  e.Superiors,
		"automatic":  e.Automatic,
	}).WithTime(e.OccurredAt).Info("attestation.audit")
}

func (h *AuditHandler) onDecision(e *events.DecisionRecorded) {
	h.entry("decision_recorded", logrus.Fields{
		"tenant_id":   e.TenantID.String(),
		"request_id":  e.RequestID.String(),
		"tier":        e.Tier,
		"superior_id": e.SuperiorID.String(),
		"decision":    e.Decision,
		"automatic":   e.Automatic,
	}).WithTime(e.OccurredAt).Info("attestation.audit")
}

func (h *AuditHandler) onCompleted(e *events.RequestCompleted) {
	fields := logrus.Fields{
		"tenant_id":  e.TenantID.String(),
		"request_id": e.RequestID.String(),
		"worker_id":  e.WorkerID.String(),
	}
	if e.DocumentRef != nil {
		fields["document_ref"] = *e.DocumentRef
	}
	h.entry("request_completed", fields).WithTime(e.OccurredAt).Info("attestation.audit")
}

func (h *AuditHandler) onRejected(e *events.RequestRejected) {
	h.entry("request_rejected", logrus.Fields{
		"tenant_id":    e.TenantID.String(),
		"request_id":   e.RequestID.String(),
		"worker_id":    e.WorkerID.String(),
		"tier":         e.Tier,
		"observations": e.Observations,
	}).WithTime(e.OccurredAt).Info("attestation.audit")
}

func (h *AuditHandler) onReminder(e *events.ReminderSent) {
	h.entry("reminder_sent", logrus.Fields{
		"tenant_id":   e.TenantID.String(),
		"request_id":  e.RequestID.String(),
		"tier":        e.Tier,
		"superior_id": e.SuperiorID.String(),
		"reminder":    e.Reminder,
	}).WithTime(e.OccurredAt).Info("attestation.audit")
}

func (h *AuditHandler) onSideEffectFailed(e *events.SideEffectFailed) {
	h.entry("side_effect_failed", logrus.Fields{
		"tenant_id":  e.TenantID.String(),
		"request_id": e.RequestID.String(),
		"kind":       e.Kind,
		"detail":     e.Detail,
	}).WithTime(e.OccurredAt).Warn("attestation.audit")
}
