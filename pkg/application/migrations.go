package application

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

// MigrationManager applies the goose migrations each module registered.
// Every module tracks its versions in its own goose table.
type MigrationManager interface {
	Modules() []string
	Up(ctx context.Context, db *sql.DB) error
	Status(ctx context.Context, db *sql.DB) error
}

type migrationSet struct {
	name string
	fsys fs.FS
}

type migrationManager struct {
	sets []migrationSet
}

func newMigrationManager() *migrationManager {
	return &migrationManager{}
}

func (m *migrationManager) add(name string, fsys fs.FS) {
	m.sets = append(m.sets, migrationSet{name: name, fsys: fsys})
}

func (m *migrationManager) Modules() []string {
	out := make([]string, 0, len(m.sets))
	for _, s := range m.sets {
		out = append(out, s.name)
	}
	return out
}

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

func (m *migrationManager) each(fn func(set migrationSet) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetLogger(logrus.StandardLogger())
	for _, set := range m.sets {
		goose.SetBaseFS(set.fsys)
		goose.SetTableName(VersionTable(set.name))
		if err := fn(set); err != nil {
			return fmt.Errorf("migrations %s: %w", set.name, err)
		}
	}
	return nil
}

func (m *migrationManager) Up(ctx context.Context, db *sql.DB) error {
	return m.each(func(migrationSet) error {
		return goose.UpContext(ctx, db, ".")
	})
}

func (m *migrationManager) Status(ctx context.Context, db *sql.DB) error {
	return m.each(func(migrationSet) error {
		return goose.StatusContext(ctx, db, ".")
	})
}

func VersionTable(module string) string {
	return "goose_" + module + "_version"
}
