package attestation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-attest/modules/attestation/presentation/controllers"
	"github.com/iota-uz/iota-attest/modules/attestation/services"
	"github.com/iota-uz/iota-attest/pkg/application"
	"github.com/iota-uz/iota-attest/pkg/configuration"
	"github.com/iota-uz/iota-attest/pkg/eventbus"
)

func newApp() application.Application {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return application.New(&application.ApplicationOptions{
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
}

func options() *ModuleOptions {
	return &ModuleOptions{
		Attestation: configuration.AttestationOptions{
			ReminderAfter:    48 * time.Hour,
			ReminderInterval: time.Minute,
			MaxPeriodDays:    31,
			DocumentsDir:     "documents",
			ResumeOnStart:    true,
		},
		Headers: controllers.Headers{Tenant: "X-Tenant-ID", Superior: "X-Superior-ID"},
	}
}

func TestModule_Register(t *testing.T) {
	app := newApp()
	require.NoError(t, NewModule(options()).Register(app))

	require.Equal(t, []string{"attestation"}, app.Migrations().Modules())

	svc, ok := app.Service(services.WorkflowService{}).(*services.WorkflowService)
	require.True(t, ok)
	require.Equal(t, 31, svc.Config().MaxPeriodDays)
	require.Equal(t, 48*time.Hour, svc.Config().ReminderAfter)

	keys := make([]string, 0)
	for _, c := range app.Controllers() {
		keys = append(keys, c.Key())
	}
	require.Equal(t, []string{controllers.APIPrefix}, keys)

	names := make([]string, 0)
	for _, j := range app.BackgroundJobs() {
		names = append(names, j.Name)
	}
	require.Equal(t, []string{"attestation.reminders", "attestation.resume"}, names)

	// Notification and audit handlers.
	require.Equal(t, 9, app.EventPublisher().SubscribersCount())
}

func TestModule_ResumeJobIsOptional(t *testing.T) {
	app := newApp()
	opts := options()
	opts.Attestation.ResumeOnStart = false
	require.NoError(t, NewModule(opts).Register(app))
	require.Len(t, app.BackgroundJobs(), 1)
}

func TestModule_InvalidRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - type: unknown\n"), 0o644))

	opts := options()
	opts.Attestation.RulesPath = path
	require.Error(t, NewModule(opts).Register(newApp()))
}

func TestReminderJob_StopsOnCancel(t *testing.T) {
	app := newApp()
	require.NoError(t, NewModule(options()).Register(app))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.BackgroundJobs()[0].Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reminder job did not stop")
	}
}
