package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-attest/modules/attestation/services"
	"github.com/iota-uz/iota-attest/pkg/composables"
	"github.com/iota-uz/iota-attest/pkg/outbox"
)

// FailureRecorder is implemented by services.WorkflowService.
type FailureRecorder interface {
	RecordSideEffectFailure(ctx context.Context, requestID uuid.UUID, kind, detail string) error
}

// OnDead returns a relay hook that records a notification which exhausted its
// delivery attempts on the request it belongs to.
func OnDead(recorder FailureRecorder, logger *logrus.Entry) func(ctx context.Context, msg outbox.DispatchedMessage, lastErr string) {
	return func(ctx context.Context, msg outbox.DispatchedMessage, lastErr string) {
		var ref struct {
			RequestID uuid.UUID `json:"request_id"`
		}
		if err := json.Unmarshal(msg.Payload, &ref); err != nil || ref.RequestID == uuid.Nil {
			logger.WithField("event_id", msg.Meta.EventID.String()).Warn("attestation.outbox.dead_without_request")
			return
		}

		detail := fmt.Sprintf("%s gave up after %d attempts: %s", msg.Meta.Topic, msg.Meta.Attempts, lastErr)
		tenantCtx := composables.WithTenantID(ctx, msg.Meta.TenantID)
		if err := recorder.RecordSideEffectFailure(tenantCtx, ref.RequestID, services.SideEffectNotification, detail); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"event_id":   msg.Meta.EventID.String(),
				"request_id": ref.RequestID.String(),
			}).Error("attestation.outbox.dead_not_recorded")
		}
	}
}
