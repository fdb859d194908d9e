// Package eventbus delivers relayed outbox messages to in-process subscribers.
package eventbus

import (
	"context"

	"github.com/iota-uz/iota-attest/pkg/eventbus"
	"github.com/iota-uz/iota-attest/pkg/outbox"
)

type Dispatcher struct {
	bus eventbus.EventBusWithError
}

func New(bus eventbus.EventBusWithError) *Dispatcher {
	return &Dispatcher{bus: bus}
}

// Dispatch publishes (ctx, *outbox.Meta, topic, payload). Subscribers declare
//
//	func(ctx context.Context, meta *outbox.Meta, topic string, payload json.RawMessage) error
//
// and any returned error or panic makes the relay retry the message.
func (d *Dispatcher) Dispatch(ctx context.Context, msg outbox.DispatchedMessage) error {
	meta := msg.Meta
	return d.bus.PublishE(ctx, &meta, meta.Topic, msg.Payload)
}
