package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-attest/pkg/composables"
)

func loggerFromContext(ctx context.Context) *logrus.Entry {
	logger, ok := composables.TryUseLogger(ctx)
	if !ok {
		return nil
	}
	return logger
}

func (s *WorkflowService) logWithFields(ctx context.Context, level logrus.Level, msg string, fields logrus.Fields) {
	logger := loggerFromContext(ctx)
	if logger == nil {
		if s.logger == nil {
			return
		}
		logger = logrus.NewEntry(s.logger)
	}
	logger.WithFields(fields).Log(level, msg)
}
