package bootstrap

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	attestoutbox "github.com/iota-uz/iota-attest/modules/attestation/infrastructure/outbox"
	"github.com/iota-uz/iota-attest/pkg/configuration"
	"github.com/iota-uz/iota-attest/pkg/eventbus"
	"github.com/iota-uz/iota-attest/pkg/outbox"
	eventbusdispatcher "github.com/iota-uz/iota-attest/pkg/outbox/dispatchers/eventbus"
)

var attestationTable = outbox.TableLabel(pgx.Identifier{"public", attestoutbox.DefaultTable})

// OutboxWorkers are the relays and cleaners configured by OUTBOX_* settings.
type OutboxWorkers struct {
	Relays   []*outbox.Relay
	Cleaners []*outbox.Cleaner
}

// Run starts every worker in its own goroutine; they stop with ctx.
func (w OutboxWorkers) Run(ctx context.Context, logger *logrus.Entry) {
	for _, r := range w.Relays {
		go func(r *outbox.Relay) {
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("outbox: relay stopped")
			}
		}(r)
	}
	for _, c := range w.Cleaners {
		go func(c *outbox.Cleaner) {
			if err := c.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("outbox: cleaner stopped")
			}
		}(c)
	}
}

// Outbox builds the workers for this runtime.
func (rt *Runtime) Outbox(relayEnabled bool) OutboxWorkers {
	conf := rt.Conf
	if !relayEnabled {
		conf = withoutRelay(conf)
	}
	return newOutboxWorkers(conf, rt.Pool, rt.App.EventPublisher(), rt.Service, rt.Conf.Logger().WithField("component", "outbox"))
}

func withoutRelay(conf *configuration.Configuration) *configuration.Configuration {
	c := *conf
	c.Outbox.RelayEnabled = false
	return &c
}

// dispatcherFor routes the attestation table through the typed dispatcher so
// subscribers receive decoded events. Other tables get raw topic and payload.
func dispatcherFor(table pgx.Identifier, eb eventbus.EventBusWithError) outbox.Dispatcher {
	if outbox.TableLabel(table) == attestationTable {
		return attestoutbox.NewDispatcher(eb)
	}
	return eventbusdispatcher.New(eb)
}

func newOutboxWorkers(
	conf *configuration.Configuration,
	pool *pgxpool.Pool,
	bus eventbus.EventBus,
	recorder attestoutbox.FailureRecorder,
	outboxLog *logrus.Entry,
) OutboxWorkers {
	var workers OutboxWorkers

	relayTables, relayTablesErr := outbox.ParseIdentifierList(conf.Outbox.RelayTables)
	if relayTablesErr != nil {
		outboxLog.WithError(relayTablesErr).Warn("outbox: invalid OUTBOX_RELAY_TABLES; relay disabled")
		relayTables = nil
	}

	var cleanerTables []pgx.Identifier
	if conf.Outbox.CleanerTables == "" {
		cleanerTables = relayTables
	} else {
		var cleanerTablesErr error
		cleanerTables, cleanerTablesErr = outbox.ParseIdentifierList(conf.Outbox.CleanerTables)
		if cleanerTablesErr != nil {
			outboxLog.WithError(cleanerTablesErr).Warn("outbox: invalid OUTBOX_CLEANER_TABLES; cleaner disabled")
			cleanerTables = nil
		}
	}

	if conf.Outbox.RelayEnabled {
		if len(relayTables) == 0 {
			if relayTablesErr == nil {
				outboxLog.Info("outbox: relay enabled but OUTBOX_RELAY_TABLES is empty")
			}
		} else if eb, ok := bus.(eventbus.EventBusWithError); !ok {
			outboxLog.Warn("outbox: eventbus does not support PublishE; relay not started")
		} else {
			for _, table := range relayTables {
				tableLog := outboxLog.WithField("table", outbox.TableLabel(table))
				opts := outbox.RelayOptions{
					PollInterval:    conf.Outbox.RelayPollInterval,
					BatchSize:       conf.Outbox.RelayBatchSize,
					LockTTL:         conf.Outbox.RelayLockTTL,
					MaxAttempts:     conf.Outbox.RelayMaxAttempts,
					SingleActive:    conf.Outbox.RelaySingleActive,
					LastErrorMaxLen: conf.Outbox.LastErrorMaxBytes,
					DispatchTimeout: conf.Outbox.RelayDispatchTimeout,
					Logger:          tableLog,
				}
				if outbox.TableLabel(table) == attestationTable && recorder != nil {
					opts.OnDead = attestoutbox.OnDead(recorder, tableLog)
				}
				relay, err := outbox.NewRelay(pool, table, dispatcherFor(table, eb), opts)
				if err != nil {
					outboxLog.WithError(err).Warn("outbox: failed to create relay")
					continue
				}
				workers.Relays = append(workers.Relays, relay)
			}
		}
	}

	if conf.Outbox.CleanerEnabled && len(cleanerTables) > 0 {
		for _, table := range cleanerTables {
			cleaner, err := outbox.NewCleaner(pool, table, outbox.CleanerOptions{
				Enabled:               true,
				Interval:              conf.Outbox.CleanerInterval,
				Retention:             conf.Outbox.CleanerRetention,
				DeadRetention:         conf.Outbox.CleanerDeadRetention,
				DeadAttemptsThreshold: conf.Outbox.RelayMaxAttempts,
				Logger:                outboxLog.WithField("table", outbox.TableLabel(table)),
			})
			if err != nil {
				outboxLog.WithError(err).Warn("outbox: failed to create cleaner")
				continue
			}
			workers.Cleaners = append(workers.Cleaners, cleaner)
		}
	} else if conf.Outbox.CleanerEnabled && len(cleanerTables) == 0 {
		outboxLog.Info("outbox: cleaner enabled but no tables configured")
	}
	return workers
}
