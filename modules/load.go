package modules

import (
	"github.com/iota-uz/iota-attest/pkg/application"
)

// Load registers modules in order and stops at the first failure.
func Load(app application.Application, modules ...application.Module) error {
	for _, module := range modules {
		if err := module.Register(app); err != nil {
			return err
		}
	}
	return nil
}
