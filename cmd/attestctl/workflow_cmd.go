package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iota-uz/iota-attest/internal/bootstrap"
	"github.com/iota-uz/iota-attest/modules/attestation/presentation/controllers"
	"github.com/iota-uz/iota-attest/pkg/composables"
	"github.com/iota-uz/iota-attest/pkg/configuration"
)

type countOutput struct {
	Command    string `json:"command"`
	DurationMS int64  `json:"duration_ms"`
	Count      int    `json:"count"`
	Error      string `json:"error,omitempty"`
}

func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *bootstrap.Runtime) error) error {
	rt, err := bootstrap.New(cmd.Context(), configuration.Use())
	if err != nil {
		return withCode(exitDB, err)
	}
	defer rt.Close()
	return fn(composables.WithPool(cmd.Context(), rt.Pool), rt)
}

func parseUUIDFlag(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, withCode(exitUsage, fmt.Errorf("invalid --%s: %w", name, err))
	}
	return id, nil
}

// reportCount prints partial progress before surfacing err.
func reportCount(cmd *cobra.Command, name string, start time.Time, n int, err error) error {
	out := countOutput{
		Command:    name,
		DurationMS: time.Since(start).Milliseconds(),
		Count:      n,
	}
	if err != nil {
		out.Error = err.Error()
	}
	if werr := writeJSON(cmd.OutOrStdout(), out); werr != nil {
		return werr
	}
	return withCode(exitFailed, err)
}

func newRemindCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Re-notify superiors whose decision is overdue",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return withCode(exitUsage, fmt.Errorf("invalid --at: %w", err))
				}
				now = t.UTC()
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				start := time.Now()
				n, err := rt.Service.RemindOverdue(ctx, now)
				return reportCount(cmd, "remind", start, n, err)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Evaluate overdue decisions as of this RFC3339 time (default now)")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var tenantID, requestID string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume stalled requests, or one request with --id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
					start := time.Now()
					n, err := rt.Service.ResumeStalled(ctx)
					return reportCount(cmd, "resume", start, n, err)
				})
			}
			tid, err := parseUUIDFlag("tenant", tenantID)
			if err != nil {
				return err
			}
			id, err := parseUUIDFlag("id", requestID)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				req, err := rt.Service.Resume(composables.WithTenantID(ctx, tid), id)
				if err != nil {
					return withCode(exitFailed, err)
				}
				return writeJSON(cmd.OutOrStdout(), controllers.RequestView(req))
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant UUID (required with --id)")
	cmd.Flags().StringVar(&requestID, "id", "", "Request UUID")
	return cmd
}

func newShowCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Print one request with its approvals and attendance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tid, err := parseUUIDFlag("tenant", tenantID)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid request id: %w", err))
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				req, err := rt.Service.GetRequest(composables.WithTenantID(ctx, tid), id)
				if err != nil {
					return withCode(exitFailed, err)
				}
				return writeJSON(cmd.OutOrStdout(), controllers.RequestView(req))
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant UUID (required)")
	return cmd
}
