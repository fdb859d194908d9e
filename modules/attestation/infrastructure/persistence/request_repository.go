package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/attendance"
	"github.com/iota-uz/iota-attest/pkg/composables"
)

const requestColumns = `id, tenant_id, worker_id, worker_name, worker_sector, period_start, period_end,
       status, open_tier, slots, immediate_approvals, mediate_approvals, attendance_records,
       observations, document_ref, version, created_at, updated_at, completed_at`

const openStatuses = `('pending', 'approved_immediate', 'approved_mediate')`

type RequestRepository struct{}

func NewRequestRepository() attestation.Repository {
	return &RequestRepository{}
}

type requestRow struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	WorkerID           uuid.UUID
	WorkerName         string
	WorkerSector       string
	PeriodStart        time.Time
	PeriodEnd          time.Time
	Status             string
	OpenTier           string
	Slots              []byte
	ImmediateApprovals []byte
	MediateApprovals   []byte
	AttendanceRecords  []byte
	Observations       *string
	DocumentRef        *string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

func (row *requestRow) dest() []any {
	return []any{
		&row.ID, &row.TenantID, &row.WorkerID, &row.WorkerName, &row.WorkerSector, &row.PeriodStart, &row.PeriodEnd,
		&row.Status, &row.OpenTier, &row.Slots, &row.ImmediateApprovals, &row.MediateApprovals, &row.AttendanceRecords,
		&row.Observations, &row.DocumentRef, &row.Version, &row.CreatedAt, &row.UpdatedAt, &row.CompletedAt,
	}
}

func (row *requestRow) toDomain() (*attestation.Request, error) {
	req := &attestation.Request{
		ID:           row.ID,
		TenantID:     row.TenantID,
		WorkerID:     row.WorkerID,
		WorkerName:   row.WorkerName,
		WorkerSector: row.WorkerSector,
		Period:       attendance.NewPeriod(row.PeriodStart, row.PeriodEnd),
		Status:       attestation.Status(row.Status),
		OpenTier:     attestation.Tier(row.OpenTier),
		Observations: row.Observations,
		DocumentRef:  row.DocumentRef,
		Version:      row.Version,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.CompletedAt != nil {
		at := row.CompletedAt.UTC()
		req.CompletedAt = &at
	}
	if err := unmarshalJSON(row.Slots, &req.Slots); err != nil {
		return nil, gerrors.Wrap(err, "decode slots")
	}
	if err := unmarshalJSON(row.ImmediateApprovals, &req.ImmediateApprovals); err != nil {
		return nil, gerrors.Wrap(err, "decode immediate approvals")
	}
	if err := unmarshalJSON(row.MediateApprovals, &req.MediateApprovals); err != nil {
		return nil, gerrors.Wrap(err, "decode mediate approvals")
	}
	if err := unmarshalJSON(row.AttendanceRecords, &req.AttendanceRecords); err != nil {
		return nil, gerrors.Wrap(err, "decode attendance records")
	}
	return req, nil
}

// unmarshalJSON leaves dst untouched for SQL NULL, so a tier that never
// closed stays nil while an empty tier decodes to an empty slice.
func unmarshalJSON(data []byte, dst any) error {
	if data == nil {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func approvalsJSON(records []attestation.ApprovalRecord) ([]byte, error) {
	if records == nil {
		return nil, nil
	}
	return json.Marshal(records)
}

func slotsJSON(slots []attestation.ApprovalSlot) ([]byte, error) {
	if slots == nil {
		slots = []attestation.ApprovalSlot{}
	}
	return json.Marshal(slots)
}

func recordsJSON(records []attendance.Record) ([]byte, error) {
	if records == nil {
		records = []attendance.Record{}
	}
	return json.Marshal(records)
}

type encodedRequest struct {
	slots, immediate, mediate, records []byte
}

func encodeRequest(req *attestation.Request) (encodedRequest, error) {
	var (
		out encodedRequest
		err error
	)
	if out.slots, err = slotsJSON(req.Slots); err != nil {
		return out, gerrors.Wrap(err, "encode slots")
	}
	if out.immediate, err = approvalsJSON(req.ImmediateApprovals); err != nil {
		return out, gerrors.Wrap(err, "encode immediate approvals")
	}
	if out.mediate, err = approvalsJSON(req.MediateApprovals); err != nil {
		return out, gerrors.Wrap(err, "encode mediate approvals")
	}
	if out.records, err = recordsJSON(req.AttendanceRecords); err != nil {
		return out, gerrors.Wrap(err, "encode attendance records")
	}
	return out, nil
}

func (r *RequestRepository) Create(ctx context.Context, req *attestation.Request) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	if req.TenantID != tenantID {
		return gerrors.Errorf("request tenant %s does not match context tenant %s", req.TenantID, tenantID)
	}
	enc, err := encodeRequest(req)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO attestation_requests (
  id, tenant_id, worker_id, worker_name, worker_sector, period_start, period_end,
  status, open_tier, slots, immediate_approvals, mediate_approvals, attendance_records,
  observations, document_ref, version, created_at, updated_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $17, $18)
`,
		req.ID, req.TenantID, req.WorkerID, req.WorkerName, req.WorkerSector, req.Period.StartDate, req.Period.EndDate,
		string(req.Status), string(req.OpenTier), enc.slots, enc.immediate, enc.mediate, enc.records,
		req.Observations, req.DocumentRef, req.CreatedAt, req.UpdatedAt, req.CompletedAt,
	)
	if err != nil {
		return gerrors.Wrap(err, "insert attestation request")
	}
	req.Version = 1
	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*attestation.Request, error) {
	return r.getOne(ctx, id, "")
}

func (r *RequestRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*attestation.Request, error) {
	return r.getOne(ctx, id, "FOR UPDATE")
}

func (r *RequestRepository) getOne(ctx context.Context, id uuid.UUID, lock string) (*attestation.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	var row requestRow
	q := fmt.Sprintf(`SELECT %s FROM attestation_requests WHERE tenant_id = $1 AND id = $2 %s`, requestColumns, lock)
	if err := tx.QueryRow(ctx, q, tenantID, id).Scan(row.dest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, attestation.ErrNotFound
		}
		return nil, gerrors.Wrap(err, "select attestation request")
	}
	return row.toDomain()
}

// Save writes req when the stored version still equals req.Version.
func (r *RequestRepository) Save(ctx context.Context, req *attestation.Request) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	enc, err := encodeRequest(req)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
UPDATE attestation_requests
   SET status = $4,
       open_tier = $5,
       slots = $6,
       immediate_approvals = $7,
       mediate_approvals = $8,
       observations = $9,
       document_ref = $10,
       updated_at = $11,
       completed_at = $12,
       version = version + 1
 WHERE tenant_id = $1 AND id = $2 AND version = $3
`,
		tenantID, req.ID, req.Version,
		string(req.Status), string(req.OpenTier), enc.slots, enc.immediate, enc.mediate,
		req.Observations, req.DocumentRef, req.UpdatedAt, req.CompletedAt,
	)
	if err != nil {
		return gerrors.Wrap(err, "update attestation request")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM attestation_requests WHERE tenant_id = $1 AND id = $2)`,
			tenantID, req.ID,
		).Scan(&exists); err != nil {
			return gerrors.Wrap(err, "check attestation request")
		}
		if !exists {
			return attestation.ErrNotFound
		}
		return attestation.ErrVersionConflict
	}
	req.Version++
	return nil
}

// pendingSlotFilter matches a slots array holding an undecided slot of superiorID.
func pendingSlotFilter(superiorID uuid.UUID) ([]byte, error) {
	return json.Marshal([]map[string]any{{
		"superior": map[string]any{"id": superiorID},
		"decision": nil,
	}})
}

func (r *RequestRepository) PendingForSuperior(ctx context.Context, superiorID uuid.UUID) ([]*attestation.Request, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	filter, err := pendingSlotFilter(superiorID)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, fmt.Sprintf(`
SELECT %s FROM attestation_requests
 WHERE tenant_id = $1
   AND status IN %s
   AND open_tier <> ''
   AND slots @> $2::jsonb
 ORDER BY created_at ASC, id`, requestColumns, openStatuses), tenantID, filter)
}

func (r *RequestRepository) ByWorker(ctx context.Context, workerID uuid.UUID) ([]*attestation.Request, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, fmt.Sprintf(`
SELECT %s FROM attestation_requests
 WHERE tenant_id = $1 AND worker_id = $2
 ORDER BY created_at DESC, id`, requestColumns), tenantID, workerID)
}

func (r *RequestRepository) list(ctx context.Context, q string, args ...any) ([]*attestation.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, gerrors.Wrap(err, "query attestation requests")
	}
	defer rows.Close()

	out := make([]*attestation.Request, 0)
	for rows.Next() {
		var row requestRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, gerrors.Wrap(err, "scan attestation request")
		}
		req, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "iterate attestation requests")
	}
	return out, nil
}

func (r *RequestRepository) Stalled(ctx context.Context, limit int) ([]attestation.Ref, error) {
	return r.refs(ctx, fmt.Sprintf(`
SELECT r.tenant_id, r.id FROM attestation_requests r
 WHERE r.status IN %s
   AND (
     r.open_tier = ''
     OR NOT EXISTS (
       SELECT 1 FROM jsonb_array_elements(r.slots) s WHERE jsonb_typeof(s->'decision') = 'null'
     )
     OR EXISTS (
       SELECT 1 FROM jsonb_array_elements(r.slots) s WHERE s->'decision'->>'decision' = 'rejected'
     )
   )
 ORDER BY r.updated_at ASC
 LIMIT $1`, openStatuses), limit)
}

func (r *RequestRepository) Overdue(ctx context.Context, cutoff time.Time, limit int) ([]attestation.Ref, error) {
	return r.refs(ctx, fmt.Sprintf(`
SELECT r.tenant_id, r.id FROM attestation_requests r
 WHERE r.status IN %s
   AND r.open_tier <> ''
   AND EXISTS (
     SELECT 1 FROM jsonb_array_elements(r.slots) s
      WHERE jsonb_typeof(s->'decision') = 'null'
        AND COALESCE(s->>'reminded_at', s->>'notified_at', s->>'opened_at')::timestamptz <= $1
   )
 ORDER BY r.updated_at ASC
 LIMIT $2`, openStatuses), cutoff, limit)
}

func (r *RequestRepository) refs(ctx context.Context, q string, args ...any) ([]attestation.Ref, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, gerrors.Wrap(err, "query attestation refs")
	}
	defer rows.Close()

	var out []attestation.Ref
	for rows.Next() {
		var ref attestation.Ref
		if err := rows.Scan(&ref.TenantID, &ref.ID); err != nil {
			return nil, gerrors.Wrap(err, "scan attestation ref")
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "iterate attestation refs")
	}
	return out, nil
}
