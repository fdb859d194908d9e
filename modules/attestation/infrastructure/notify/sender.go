// Package notify delivers relayed attestation notifications to a transport.
package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Message is a notification ready for a transport. Data is the JSON payload
// of the outbox event.
type Message struct {
	Topic    string
	EventID  uuid.UUID
	TenantID uuid.UUID
	Data     json.RawMessage
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes notifications to the log. It is the development transport.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.WithFields(logrus.Fields{
		"topic":     msg.Topic,
		"event_id":  msg.EventID.String(),
		"tenant_id": msg.TenantID.String(),
		"payload":   string(msg.Data),
	}).Info("attestation.notification.sent")
	return nil
}
