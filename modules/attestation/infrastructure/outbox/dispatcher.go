package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/events"
	"github.com/iota-uz/iota-attest/pkg/eventbus"
	"github.com/iota-uz/iota-attest/pkg/outbox"
)

// Dispatcher decodes relayed attestation messages and publishes them as
// (ctx, *outbox.Meta, *events.XxxV1) on the event bus.
type Dispatcher struct {
	bus eventbus.EventBusWithError
}

func NewDispatcher(bus eventbus.EventBusWithError) *Dispatcher {
	return &Dispatcher{bus: bus}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg outbox.DispatchedMessage) error {
	if d == nil || d.bus == nil {
		return fmt.Errorf("attestation outbox dispatcher: bus is nil")
	}

	meta := msg.Meta
	switch meta.Topic {
	case events.TopicApprovalNeededV1:
		var ev events.ApprovalNeededV1
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("attestation outbox dispatcher: decode %s: %w", meta.Topic, err)
		}
		return d.bus.PublishE(ctx, &meta, &ev)
	case events.TopicCompletedV1:
		var ev events.CompletedV1
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("attestation outbox dispatcher: decode %s: %w", meta.Topic, err)
		}
		return d.bus.PublishE(ctx, &meta, &ev)
	default:
		return fmt.Errorf("attestation outbox dispatcher: unsupported topic %q", meta.Topic)
	}
}
