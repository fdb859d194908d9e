package notify

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-attest/pkg/configuration"
)

type recordingConn struct {
	msgs []*nats.Msg
	err  error
}

func (c *recordingConn) PublishMsg(m *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func TestNATSSender_Send(t *testing.T) {
	conn := &recordingConn{}
	s := &NATSSender{conn: conn, prefix: "attest"}
	msg := Message{
		Topic:    "attestation.completed.v1",
		EventID:  uuid.New(),
		TenantID: uuid.New(),
		Data:     []byte(`{"status":"completed"}`),
	}

	require.NoError(t, s.Send(context.Background(), msg))
	require.Len(t, conn.msgs, 1)
	got := conn.msgs[0]
	require.Equal(t, "attest.attestation.completed.v1", got.Subject)
	require.JSONEq(t, `{"status":"completed"}`, string(got.Data))
	require.Equal(t, msg.EventID.String(), got.Header.Get(nats.MsgIdHdr))
	require.Equal(t, msg.TenantID.String(), got.Header.Get(HeaderTenantID))
	require.Equal(t, msg.Topic, got.Header.Get(HeaderTopic))
}

func TestNATSSender_Errors(t *testing.T) {
	boom := errors.New("connection closed")
	s := &NATSSender{conn: &recordingConn{err: boom}}
	require.ErrorIs(t, s.Send(context.Background(), Message{Topic: "x"}), boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn := &recordingConn{}
	s = &NATSSender{conn: conn}
	require.ErrorIs(t, s.Send(ctx, Message{Topic: "x"}), context.Canceled)
	require.Empty(t, conn.msgs)
}

func TestNATSSender_Subject(t *testing.T) {
	require.Equal(t, "a.b", NewNATSSender(nil, "").Subject("a.b"))
	require.Equal(t, "p.a.b", NewNATSSender(nil, ".p.").Subject("a.b"))
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	eventID := uuid.New()
	require.NoError(t, NewLogSender(logger).Send(context.Background(), Message{
		Topic:   "attestation.approval_needed.v1",
		EventID: eventID,
		Data:    []byte(`{}`),
	}))
	require.Contains(t, buf.String(), "attestation.notification.sent")
	require.Contains(t, buf.String(), eventID.String())
}

func TestNATSSender_Live(t *testing.T) {
	url := strings.TrimSpace(os.Getenv("ATTESTATION_TEST_NATS_URL"))
	if url == "" {
		t.Skip("ATTESTATION_TEST_NATS_URL is not set")
	}
	conn, err := Connect(configuration.NATSOptions{URL: url, Name: "attest-test", MaxReconnects: 1, ReconnectWait: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	sub, err := conn.SubscribeSync("it.attestation.>")
	require.NoError(t, err)

	s := NewNATSSender(conn, "it")
	require.NoError(t, s.Send(context.Background(), Message{Topic: "attestation.completed.v1", EventID: uuid.New(), Data: []byte(`{}`)}))
	require.NoError(t, conn.Flush())

	got, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "it.attestation.completed.v1", got.Subject)
}
