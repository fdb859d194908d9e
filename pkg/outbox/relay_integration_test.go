//go:build integration

package outbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	failTopic string
	calls     []DispatchedMessage
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg DispatchedMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, msg)
	if msg.Meta.Topic == d.failTopic {
		return errors.New("poison")
	}
	return nil
}

func setupOutboxTable(t *testing.T) (*pgxpool.Pool, pgx.Identifier) {
	t.Helper()

	dsn := os.Getenv("ATTESTATION_TEST_DSN")
	if dsn == "" {
		t.Skip("ATTESTATION_TEST_DSN is not set")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	name := "outbox_it_" + uuid.NewString()[:8]
	table, err := ParseIdentifier("public." + name)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE %s (
  id           UUID        NOT NULL DEFAULT gen_random_uuid() PRIMARY KEY,
  tenant_id    UUID        NOT NULL,
  topic        TEXT        NOT NULL,
  payload      JSONB       NOT NULL,
  event_id     UUID        NOT NULL UNIQUE,
  sequence     BIGSERIAL   NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  published_at TIMESTAMPTZ NULL,
  attempts     INT         NOT NULL DEFAULT 0 CHECK (attempts >= 0),
  available_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  locked_at    TIMESTAMPTZ NULL,
  last_error   TEXT        NULL,
  trace_parent TEXT        NULL,
  trace_state  TEXT        NULL
)`, table.Sanitize()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s", table.Sanitize()))
	})
	return pool, table
}

func enqueueAll(t *testing.T, pool *pgxpool.Pool, table pgx.Identifier, msgs ...Message) {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	p := NewPublisher()
	for _, m := range msgs {
		_, err := p.Enqueue(ctx, tx, table, m)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(ctx))
}

func TestRelay_Integration_PoisonDoesNotBlock(t *testing.T) {
	pool, table := setupOutboxTable(t)
	ctx := context.Background()

	tenantID := uuid.New()
	failEvent, okEvent, laterEvent := uuid.New(), uuid.New(), uuid.New()
	enqueueAll(t, pool, table,
		Message{TenantID: tenantID, Topic: "test.fail", EventID: failEvent, Payload: []byte(`{"x":1}`)},
		Message{TenantID: tenantID, Topic: "test.ok", EventID: okEvent, Payload: []byte(`{"y":2}`)},
		Message{TenantID: tenantID, Topic: "test.ok", EventID: laterEvent, Payload: []byte(`{"z":3}`),
			AvailableAt: time.Now().Add(time.Hour)},
	)

	var deadTopics []string
	dispatcher := &recordingDispatcher{failTopic: "test.fail"}
	relay, err := NewRelay(pool, table, dispatcher, RelayOptions{
		BatchSize:   10,
		LockTTL:     time.Second,
		MaxAttempts: 1,
		OnDead: func(_ context.Context, msg DispatchedMessage, lastErr string) {
			deadTopics = append(deadTopics, msg.Meta.Topic)
			assert.Equal(t, "poison", lastErr)
		},
	})
	require.NoError(t, err)

	n, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, dispatcher.calls, 2)
	assert.Equal(t, []string{"test.fail"}, deadTopics)

	var published bool
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT published_at IS NOT NULL FROM %s WHERE event_id=$1`, table.Sanitize()), okEvent,
	).Scan(&published))
	assert.True(t, published)

	var attempts int
	var lastErr *string
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT attempts, last_error FROM %s WHERE event_id=$1`, table.Sanitize()), failEvent,
	).Scan(&attempts, &lastErr))
	assert.Equal(t, 1, attempts)
	require.NotNil(t, lastErr)
	assert.Equal(t, "poison", *lastErr)
}

func TestPublisher_Integration_IdempotentByEventID(t *testing.T) {
	pool, table := setupOutboxTable(t)
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	p := NewPublisher()
	msg := Message{TenantID: uuid.New(), Topic: "test.ok", EventID: uuid.New(), Payload: []byte(`{}`)}
	seq1, err := p.Enqueue(ctx, tx, table, msg)
	require.NoError(t, err)
	seq2, err := p.Enqueue(ctx, tx, table, msg)
	require.NoError(t, err)
	assert.Equal(t, seq1, seq2)
}
