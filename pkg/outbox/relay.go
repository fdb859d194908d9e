package outbox

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Relay polls one outbox table and hands claimed rows to a Dispatcher.
// Failed deliveries are retried with exponential backoff until MaxAttempts.
type Relay struct {
	pool       *pgxpool.Pool
	table      pgx.Identifier
	dispatcher Dispatcher
	opts       RelayOptions

	lockKey    int64
	m          *metrics
	tableLabel string
}

func NewRelay(pool *pgxpool.Pool, table pgx.Identifier, dispatcher Dispatcher, opts RelayOptions) (*Relay, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if dispatcher == nil {
		return nil, invalidConfig("dispatcher is required")
	}
	opts.setDefaults()

	label := TableLabel(table)
	return &Relay{
		pool:       pool,
		table:      table,
		dispatcher: dispatcher,
		opts:       opts,
		lockKey:    advisoryLockKey("outbox:" + label),
		m:          getMetrics(),
		tableLabel: label,
	}, nil
}

func (r *Relay) Run(ctx context.Context) error {
	if r.opts.SingleActive {
		return r.runSingleActive(ctx)
	}
	r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
	return r.runLoop(ctx, nil)
}

// Drain processes batches until the table has nothing available or ctx ends.
// It returns the number of messages dispatched.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.processOnce(ctx, nil)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Relay) runSingleActive(ctx context.Context) error {
	log := r.opts.Logger.WithField("table", r.tableLabel)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := r.pool.Acquire(ctx)
		if err != nil {
			log.WithError(err).Warn("outbox: failed to acquire connection for single-active relay")
			if err := sleepCtx(ctx, r.opts.PollInterval); err != nil {
				return err
			}
			continue
		}

		var leader bool
		err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, r.lockKey).Scan(&leader)
		if err != nil || !leader {
			conn.Release()
			r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)
			if err != nil {
				log.WithError(err).Warn("outbox: failed to attempt advisory lock")
			}
			if err := sleepCtx(ctx, r.opts.PollInterval); err != nil {
				return err
			}
			continue
		}

		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
		log.Info("outbox: relay became leader")

		err = r.runLoop(ctx, conn)
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1::bigint)`, r.lockKey)
		conn.Release()
		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)
		return err
	}
}

func (r *Relay) runLoop(ctx context.Context, conn *pgxpool.Conn) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	var nextDepthAt time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if now := time.Now(); now.After(nextDepthAt) {
			if err := r.observeQueueDepth(ctx, conn); err != nil {
				r.opts.Logger.WithError(err).Debug("outbox: observe queue depth failed")
			}
			nextDepthAt = now.Add(r.opts.ObserveQueueDepthEvery)
		}

		if _, err := r.processOnce(ctx, conn); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).WithField("table", r.tableLabel).Warn("outbox: process tick failed")
		}
	}
}

type claimedRow struct {
	id  uuid.UUID
	msg DispatchedMessage
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDead
)

func (r *Relay) processOnce(ctx context.Context, conn *pgxpool.Conn) (int, error) {
	rows, err := r.claim(ctx, conn, time.Now())
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		err := r.dispatch(ctx, row.msg)
		meta := row.msg.Meta
		log := r.opts.Logger.WithFields(logFields(meta, r.tableLabel))

		switch {
		case err == nil:
			if settleErr := r.settle(ctx, conn, row.id, outcomeAck, "", time.Time{}); settleErr != nil {
				log.WithError(settleErr).Warn("outbox: ack failed")
			}
		case meta.Attempts >= r.opts.MaxAttempts:
			lastErr := truncateError(err, r.opts.LastErrorMaxLen)
			r.m.deadTotal.WithLabelValues(r.tableLabel, meta.Topic).Inc()
			log.WithError(err).Error("outbox: message exhausted its attempts")
			if settleErr := r.settle(ctx, conn, row.id, outcomeDead, lastErr, time.Time{}); settleErr != nil {
				log.WithError(settleErr).Warn("outbox: dead update failed")
			}
			if r.opts.OnDead != nil {
				r.opts.OnDead(ctx, row.msg, lastErr)
			}
		default:
			next := time.Now().Add(backoff(meta.Attempts, r.opts.MaxBackoff) + jitter(r.opts.Rand, r.opts.JitterMax))
			log.WithError(err).WithField("retry_at", next).Warn("outbox: dispatch failed")
			lastErr := truncateError(err, r.opts.LastErrorMaxLen)
			if settleErr := r.settle(ctx, conn, row.id, outcomeRetry, lastErr, next); settleErr != nil {
				log.WithError(settleErr).Warn("outbox: nack failed")
			}
		}
	}
	return len(rows), nil
}

func (r *Relay) dispatch(ctx context.Context, msg DispatchedMessage) error {
	ctx, cancel := context.WithTimeout(ContextWithTrace(ctx, msg.Meta), r.opts.DispatchTimeout)
	defer cancel()

	start := time.Now()
	err := r.dispatcher.Dispatch(ctx, msg)

	result := "success"
	if err != nil {
		result = "failure"
	}
	r.m.dispatchTotal.WithLabelValues(r.tableLabel, msg.Meta.Topic, result).Inc()
	r.m.dispatchLatency.WithLabelValues(r.tableLabel, msg.Meta.Topic, result).Observe(time.Since(start).Seconds())
	return err
}

// claim locks a batch of available rows and bumps their attempt counter in
// one short transaction, so a crashed relay releases them after LockTTL.
func (r *Relay) claim(ctx context.Context, conn *pgxpool.Conn, now time.Time) ([]claimedRow, error) {
	var out []claimedRow
	err := r.inTx(ctx, conn, func(tx pgx.Tx) error {
		q := fmt.Sprintf(
			`SELECT id, tenant_id, topic, payload, event_id, sequence, attempts,
			        COALESCE(trace_parent, ''), COALESCE(trace_state, '')
			   FROM %s
			  WHERE published_at IS NULL
			    AND available_at <= $1
			    AND attempts < $2
			    AND (locked_at IS NULL OR locked_at < $3)
			  ORDER BY available_at, sequence
			  LIMIT $4
			  FOR UPDATE SKIP LOCKED`,
			r.table.Sanitize(),
		)
		rows, err := tx.Query(ctx, q, now, r.opts.MaxAttempts, now.Add(-r.opts.LockTTL), r.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("outbox claim select: %w", err)
		}
		defer rows.Close()

		ids := make([]uuid.UUID, 0, r.opts.BatchSize)
		for rows.Next() {
			var c claimedRow
			m := &c.msg.Meta
			var payload []byte
			if err := rows.Scan(&c.id, &m.TenantID, &m.Topic, &payload, &m.EventID, &m.Sequence, &m.Attempts,
				&m.TraceParent, &m.TraceState); err != nil {
				return fmt.Errorf("outbox claim scan: %w", err)
			}
			m.Table = r.table
			m.Attempts++
			c.msg.Payload = payload
			out = append(out, c)
			ids = append(ids, c.id)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("outbox claim rows: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		update := fmt.Sprintf(`UPDATE %s SET locked_at = $1, attempts = attempts + 1 WHERE id = ANY($2)`, r.table.Sanitize())
		if _, err := tx.Exec(ctx, update, now, pgtype.FlatArray[uuid.UUID](ids)); err != nil {
			return fmt.Errorf("outbox claim update: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Relay) settle(ctx context.Context, conn *pgxpool.Conn, id uuid.UUID, o outcome, lastErr string, next time.Time) error {
	table := r.table.Sanitize()
	var (
		q    string
		args []any
	)
	switch o {
	case outcomeAck:
		q = fmt.Sprintf(`UPDATE %s SET published_at = now(), locked_at = NULL, last_error = NULL
		                  WHERE id = $1 AND published_at IS NULL`, table)
		args = []any{id}
	case outcomeRetry:
		q = fmt.Sprintf(`UPDATE %s SET locked_at = NULL, last_error = $2, available_at = $3
		                  WHERE id = $1 AND published_at IS NULL`, table)
		args = []any{id, lastErr, next}
	case outcomeDead:
		q = fmt.Sprintf(`UPDATE %s SET locked_at = NULL, last_error = $2, available_at = now()
		                  WHERE id = $1 AND published_at IS NULL`, table)
		args = []any{id, lastErr}
	}
	return r.inTx(ctx, conn, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, args...)
		return err
	})
}

func (r *Relay) observeQueueDepth(ctx context.Context, conn *pgxpool.Conn) error {
	q := fmt.Sprintf(
		`SELECT count(*), count(*) FILTER (WHERE locked_at IS NOT NULL)
		   FROM %s WHERE published_at IS NULL`,
		r.table.Sanitize(),
	)
	var pending, locked int64
	var row pgx.Row
	if conn != nil {
		row = conn.QueryRow(ctx, q)
	} else {
		row = r.pool.QueryRow(ctx, q)
	}
	if err := row.Scan(&pending, &locked); err != nil {
		return fmt.Errorf("outbox queue depth: %w", err)
	}
	r.m.pending.WithLabelValues(r.tableLabel).Set(float64(pending))
	r.m.locked.WithLabelValues(r.tableLabel).Set(float64(locked))
	return nil
}

// inTx runs fn on the leader connection when one is held, otherwise on the pool.
func (r *Relay) inTx(ctx context.Context, conn *pgxpool.Conn, fn func(pgx.Tx) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	if conn != nil {
		tx, err = conn.BeginTx(ctx, pgx.TxOptions{})
	} else {
		tx, err = r.pool.BeginTx(ctx, pgx.TxOptions{})
	}
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

func logFields(m Meta, table string) logrus.Fields {
	return logrus.Fields{
		"table":     table,
		"topic":     m.Topic,
		"event_id":  m.EventID.String(),
		"tenant_id": m.TenantID.String(),
		"sequence":  m.Sequence,
		"attempts":  m.Attempts,
	}
}
