package attestation

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-attest/modules/attestation/handlers"
	"github.com/iota-uz/iota-attest/modules/attestation/infrastructure/documents"
	"github.com/iota-uz/iota-attest/modules/attestation/infrastructure/notify"
	attestoutbox "github.com/iota-uz/iota-attest/modules/attestation/infrastructure/outbox"
	"github.com/iota-uz/iota-attest/modules/attestation/infrastructure/persistence"
	"github.com/iota-uz/iota-attest/modules/attestation/presentation/controllers"
	"github.com/iota-uz/iota-attest/modules/attestation/services"
	"github.com/iota-uz/iota-attest/pkg/application"
	"github.com/iota-uz/iota-attest/pkg/configuration"
	"github.com/iota-uz/iota-attest/pkg/outbox"
)

type ModuleOptions struct {
	Attestation configuration.AttestationOptions
	Headers     controllers.Headers
	// OutboxTable defaults to attestation_outbox.
	OutboxTable pgx.Identifier
	// Sender defaults to a LogSender on the application logger.
	Sender notify.Sender
	// Locker defaults to an in-process MemoryLocker.
	Locker services.Locker
	// AuditLogger defaults to the application logger.
	AuditLogger *logrus.Logger
}

func NewModule(opts *ModuleOptions) application.Module {
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	opts := m.options
	app.RegisterMigrations(m.Name(), persistence.Migrations())

	rules, err := services.LoadRuleSet(opts.Attestation.RulesPath)
	if err != nil {
		return err
	}

	table := opts.OutboxTable
	if len(table) == 0 {
		table = pgx.Identifier{attestoutbox.DefaultTable}
	}

	directory := persistence.NewDirectoryRepository()
	svc := services.NewWorkflowService(services.Deps{
		Repository: persistence.NewRequestRepository(),
		Hierarchy:  directory,
		Workers:    directory,
		Attendance: persistence.NewAttendanceRepository(),
		Rules:      rules,
		Notifier:   attestoutbox.NewNotifier(outbox.NewPublisher(), table),
		Documents:  documents.NewXLSXWriter(opts.Attestation.DocumentsDir),
		Locker:     opts.Locker,
		EventBus:   app.EventPublisher(),
		Logger:     app.Logger(),
	}, services.Config{
		MaxPeriodDays: opts.Attestation.MaxPeriodDays,
		ReminderAfter: opts.Attestation.ReminderAfter,
	})
	app.RegisterServices(svc)

	sender := opts.Sender
	if sender == nil {
		sender = notify.NewLogSender(app.Logger())
	}
	handlers.NewNotificationHandler(sender).Subscribe(app.EventPublisher())
	audit := opts.AuditLogger
	if audit == nil {
		audit = app.Logger()
	}
	handlers.NewAuditHandler(audit).Subscribe(app.EventPublisher())

	app.RegisterControllers(controllers.NewAttestationAPIController(svc, opts.Headers))

	app.RegisterBackgroundJobs(reminderJob(svc, opts.Attestation.ReminderInterval, app.Logger()))
	if opts.Attestation.ResumeOnStart {
		app.RegisterBackgroundJobs(resumeJob(svc))
	}
	return nil
}

func (m *Module) Name() string {
	return "attestation"
}

const defaultReminderInterval = 15 * time.Minute

func reminderJob(svc *services.WorkflowService, interval time.Duration, logger *logrus.Logger) application.BackgroundJob {
	if interval <= 0 {
		interval = defaultReminderInterval
	}
	return application.BackgroundJob{
		Name: "attestation.reminders",
		Run: func(ctx context.Context) error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := svc.RemindOverdue(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
						logger.WithError(err).Error("attestation.reminders.failed")
					}
				}
			}
		},
	}
}

func resumeJob(svc *services.WorkflowService) application.BackgroundJob {
	return application.BackgroundJob{
		Name: "attestation.resume",
		Run: func(ctx context.Context) error {
			_, err := svc.ResumeStalled(ctx)
			return err
		},
	}
}
