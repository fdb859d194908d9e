package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/iota-attest/internal/bootstrap"
)

func newOutboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Outbox maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Deliver every available outbox message once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				start := time.Now()
				total := 0
				var errs []error
				for _, relay := range rt.Outbox(true).Relays {
					n, err := relay.Drain(ctx)
					total += n
					if err != nil {
						errs = append(errs, fmt.Errorf("drain: %w", err))
					}
				}
				return reportCount(cmd, "outbox drain", start, total, errors.Join(errs...))
			})
		},
	})
	return cmd
}
