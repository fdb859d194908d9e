// Package bootstrap assembles the attestation application from configuration.
// Both the HTTP server and attestctl start from here.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-attest/modules"
	"github.com/iota-uz/iota-attest/modules/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/infrastructure/locking"
	"github.com/iota-uz/iota-attest/modules/attestation/infrastructure/notify"
	"github.com/iota-uz/iota-attest/modules/attestation/presentation/controllers"
	"github.com/iota-uz/iota-attest/modules/attestation/services"
	"github.com/iota-uz/iota-attest/pkg/application"
	"github.com/iota-uz/iota-attest/pkg/configuration"
	"github.com/iota-uz/iota-attest/pkg/eventbus"
	"github.com/iota-uz/iota-attest/pkg/middleware"
)

type Runtime struct {
	Conf    *configuration.Configuration
	Pool    *pgxpool.Pool
	App     application.Application
	Service *services.WorkflowService

	closers []func()
}

// New connects to Postgres, picks the notification transport and lock backend
// and registers the attestation module.
func New(ctx context.Context, conf *configuration.Configuration) (*Runtime, error) {
	logger := conf.Logger()
	rt := &Runtime{Conf: conf}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	rt.Pool = pool
	rt.closers = append(rt.closers, pool.Close)

	sender, err := rt.sender(logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.App = application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	if err := modules.Load(rt.App, attestation.NewModule(&attestation.ModuleOptions{
		Attestation: conf.Attestation,
		Headers: controllers.Headers{
			Tenant:   conf.TenantHeader,
			Superior: conf.SuperiorHeader,
		},
		Sender: sender,
		Locker: rt.locker(logger),
	})); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to load modules: %w", err)
	}

	svc, ok := rt.App.Service(services.WorkflowService{}).(*services.WorkflowService)
	if !ok {
		rt.Close()
		return nil, fmt.Errorf("attestation workflow service is not registered")
	}
	rt.Service = svc
	return rt, nil
}

func (rt *Runtime) sender(logger *logrus.Logger) (notify.Sender, error) {
	if rt.Conf.Attestation.NotifyTransport != "nats" {
		return notify.NewLogSender(logger), nil
	}
	conn, err := notify.Connect(rt.Conf.NATS)
	if err != nil {
		return nil, fmt.Errorf("nats connect failed: %w", err)
	}
	rt.closers = append(rt.closers, func() {
		if err := conn.Drain(); err != nil && err != nats.ErrConnectionClosed {
			logger.WithError(err).Warn("nats drain failed")
		}
	})
	logger.WithField("url", rt.Conf.NATS.URL).Info("attestation notifications go to NATS")
	return notify.NewNATSSender(conn, rt.Conf.NATS.SubjectPrefix), nil
}

func (rt *Runtime) locker(logger *logrus.Logger) services.Locker {
	if rt.Conf.Attestation.LockBackend != "redis" {
		return services.NewMemoryLocker()
	}
	client := redis.NewClient(middleware.RedisOptions(rt.Conf.RedisURL))
	rt.closers = append(rt.closers, func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("redis close failed")
		}
	})
	return locking.NewRedisLocker(client, rt.Conf.Attestation.LockTTL, logger)
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
