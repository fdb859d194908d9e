package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/iota-uz/iota-attest/pkg/configuration"
)

const (
	HeaderTenantID = "Attestation-Tenant-Id"
	HeaderTopic    = "Attestation-Topic"
)

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSender publishes notifications to "<prefix>.<topic>". The event id is
// sent as Nats-Msg-Id so JetStream streams drop relay retries.
type NATSSender struct {
	conn   msgPublisher
	prefix string
}

func NewNATSSender(conn *nats.Conn, prefix string) *NATSSender {
	return &NATSSender{conn: conn, prefix: strings.Trim(prefix, ".")}
}

// Connect dials NATS with the reconnect policy from opts.
func Connect(opts configuration.NATSOptions) (*nats.Conn, error) {
	conn, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

func (s *NATSSender) Subject(topic string) string {
	if s.prefix == "" {
		return topic
	}
	return s.prefix + "." + topic
}

func (s *NATSSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := nats.NewMsg(s.Subject(msg.Topic))
	m.Data = msg.Data
	m.Header.Set(nats.MsgIdHdr, msg.EventID.String())
	m.Header.Set(HeaderTenantID, msg.TenantID.String())
	m.Header.Set(HeaderTopic, msg.Topic)
	if err := s.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("publish %s: %w", m.Subject, err)
	}
	return nil
}
