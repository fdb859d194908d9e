package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/iota-uz/iota-attest/modules"
	"github.com/iota-uz/iota-attest/modules/attestation"
	"github.com/iota-uz/iota-attest/pkg/application"
	"github.com/iota-uz/iota-attest/pkg/configuration"
	"github.com/iota-uz/iota-attest/pkg/eventbus"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations of every module",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd, func(m application.MigrationManager, db *sql.DB) error {
				return m.Up(cmd.Context(), db)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the migration status of every module",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd, func(m application.MigrationManager, db *sql.DB) error {
				return m.Status(cmd.Context(), db)
			})
		},
	})
	return cmd
}

// migrationApp registers modules without opening any connection.
func migrationApp(conf *configuration.Configuration) (application.Application, error) {
	app := application.New(&application.ApplicationOptions{
		EventBus: eventbus.NewEventPublisher(conf.Logger()),
		Logger:   conf.Logger(),
	})
	if err := modules.Load(app, attestation.NewModule(&attestation.ModuleOptions{
		Attestation: conf.Attestation,
	})); err != nil {
		return nil, withCode(exitFailed, err)
	}
	return app, nil
}

func runMigrations(cmd *cobra.Command, fn func(application.MigrationManager, *sql.DB) error) error {
	conf := configuration.Use()
	app, err := migrationApp(conf)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", conf.Database.Opts)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("db open failed: %w", err))
	}
	defer db.Close()
	if err := db.PingContext(cmd.Context()); err != nil {
		return withCode(exitDB, fmt.Errorf("db connect failed: %w", err))
	}

	if err := fn(app.Migrations(), db); err != nil {
		return withCode(exitDB, err)
	}
	return nil
}
