package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/events"
	"github.com/iota-uz/iota-attest/modules/attestation/infrastructure/notify"
	"github.com/iota-uz/iota-attest/pkg/eventbus"
	"github.com/iota-uz/iota-attest/pkg/outbox"
)

// NotificationHandler hands relayed outbox events to the notification
// transport. A returned error makes the relay retry the message.
type NotificationHandler struct {
	sender notify.Sender
}

func NewNotificationHandler(sender notify.Sender) *NotificationHandler {
	return &NotificationHandler{sender: sender}
}

func (h *NotificationHandler) Subscribe(bus eventbus.EventBus) {
	bus.Subscribe(h.onApprovalNeeded)
	bus.Subscribe(h.onCompleted)
}

func (h *NotificationHandler) onApprovalNeeded(ctx context.Context, meta *outbox.Meta, ev *events.ApprovalNeededV1) error {
	if meta == nil || ev == nil {
		return nil
	}
	return h.send(outbox.ContextWithTrace(ctx, *meta), meta, ev)
}

func (h *NotificationHandler) onCompleted(ctx context.Context, meta *outbox.Meta, ev *events.CompletedV1) error {
	if meta == nil || ev == nil {
		return nil
	}
	return h.send(outbox.ContextWithTrace(ctx, *meta), meta, ev)
}

func (h *NotificationHandler) send(ctx context.Context, meta *outbox.Meta, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", meta.Topic, err)
	}
	return h.sender.Send(ctx, notify.Message{
		Topic:    meta.Topic,
		EventID:  meta.EventID,
		TenantID: meta.TenantID,
		Data:     data,
	})
}
