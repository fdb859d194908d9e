package hierarchy

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrWorkerNotFound = errors.New("worker not found")

// SuperiorRef is the snapshot of an approving party taken when a tier opens.
type SuperiorRef struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	Email            string    `json:"email,omitempty"`
	Sector           string    `json:"sector,omitempty"`
	FlexibleSchedule bool      `json:"flexible_schedule"`
}

type Worker struct {
	ID     uuid.UUID
	Name   string
	Sector string
	Email  string
}

// Resolver returns the ordered superiors of a worker for each tier.
// An empty slice is a final answer, not a transient failure.
type Resolver interface {
	ImmediateSuperiors(ctx context.Context, workerID uuid.UUID) ([]SuperiorRef, error)
	MediateSuperiors(ctx context.Context, workerID uuid.UUID) ([]SuperiorRef, error)
}

// WorkerDirectory returns ErrWorkerNotFound for unknown ids.
type WorkerDirectory interface {
	FindWorker(ctx context.Context, workerID uuid.UUID) (Worker, error)
}

// Dedupe keeps the first occurrence of each superior id, preserving order.
func Dedupe(refs []SuperiorRef) []SuperiorRef {
	seen := make(map[uuid.UUID]struct{}, len(refs))
	out := make([]SuperiorRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
