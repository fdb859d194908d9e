package attestation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("attestation request not found")
	ErrVersionConflict = errors.New("attestation request was modified concurrently")
)

// Ref addresses a request across tenants for background jobs.
type Ref struct {
	TenantID uuid.UUID
	ID       uuid.UUID
}

// Repository reads and writes requests of the tenant carried by ctx, except
// Stalled and Overdue which scan all tenants.
type Repository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// GetForUpdate locks the row for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error)
	// Save persists req if its Version still matches and increments Version.
	Save(ctx context.Context, req *Request) error
	PendingForSuperior(ctx context.Context, superiorID uuid.UUID) ([]*Request, error)
	ByWorker(ctx context.Context, workerID uuid.UUID) ([]*Request, error)
	// Stalled lists non-terminal requests with no open tier or a tier ready to close.
	Stalled(ctx context.Context, limit int) ([]Ref, error)
	// Overdue lists requests with an undecided slot last noticed at or before cutoff.
	Overdue(ctx context.Context, cutoff time.Time, limit int) ([]Ref, error)
}
