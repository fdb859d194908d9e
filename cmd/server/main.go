package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/iota-uz/iota-attest/internal/bootstrap"
	"github.com/iota-uz/iota-attest/internal/server"
	"github.com/iota-uz/iota-attest/pkg/application"
	"github.com/iota-uz/iota-attest/pkg/composables"
	"github.com/iota-uz/iota-attest/pkg/configuration"
	"github.com/iota-uz/iota-attest/pkg/logging"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(ctx, conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	rt, err := bootstrap.New(ctx, conf)
	if err != nil {
		panic(err)
	}
	defer rt.Close()

	rt.Outbox(conf.Outbox.RelayEnabled).Run(ctx, logger.WithField("component", "outbox"))

	jobCtx := composables.WithPool(ctx, rt.Pool)
	for _, job := range rt.App.BackgroundJobs() {
		go func(job application.BackgroundJob) {
			if err := job.Run(jobCtx); err != nil && ctx.Err() == nil {
				logger.WithError(err).WithField("job", job.Name).Error("background job failed")
			}
		}(job)
	}

	serverInstance, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   rt.App,
		Pool:          rt.Pool,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	log.Printf("Listening on: %s\n", conf.Origin)
	if err := serverInstance.Start(ctx, conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
	conf.Unload()
}
