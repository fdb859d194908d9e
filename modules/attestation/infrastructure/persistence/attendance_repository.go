package persistence

import (
	"context"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/attendance"
	"github.com/iota-uz/iota-attest/pkg/composables"
)

type AttendanceRepository struct{}

func NewAttendanceRepository() *AttendanceRepository {
	return &AttendanceRepository{}
}

var _ attendance.Provider = (*AttendanceRepository)(nil)

func (r *AttendanceRepository) FetchRecords(ctx context.Context, workerID uuid.UUID, period attendance.Period) ([]attendance.Record, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT day, check_in, check_out, work_mode, hours::text
  FROM attestation_attendance
 WHERE tenant_id = $1 AND worker_id = $2 AND day BETWEEN $3 AND $4
 ORDER BY day
`, tenantID, workerID, period.StartDate, period.EndDate)
	if err != nil {
		return nil, gerrors.Wrap(err, "query attendance")
	}
	defer rows.Close()

	out := make([]attendance.Record, 0)
	for rows.Next() {
		var (
			rec   attendance.Record
			day   time.Time
			mode  string
			hours string
		)
		if err := rows.Scan(&day, &rec.CheckIn, &rec.CheckOut, &mode, &hours); err != nil {
			return nil, gerrors.Wrap(err, "scan attendance")
		}
		rec.Date = attendance.Day(day)
		rec.WorkMode = attendance.WorkMode(mode)
		if rec.Hours, err = decimal.NewFromString(hours); err != nil {
			return nil, gerrors.Wrapf(err, "parse hours %q", hours)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "iterate attendance")
	}
	return out, nil
}

func (r *AttendanceRepository) Upsert(ctx context.Context, workerID uuid.UUID, rec attendance.Record) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	mode := rec.WorkMode
	if mode == "" {
		mode = attendance.WorkModeOnsite
	}
	if !mode.Valid() {
		return gerrors.Errorf("invalid work mode %q", mode)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO attestation_attendance (tenant_id, worker_id, day, check_in, check_out, work_mode, hours)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)
ON CONFLICT (tenant_id, worker_id, day) DO UPDATE
   SET check_in = EXCLUDED.check_in,
       check_out = EXCLUDED.check_out,
       work_mode = EXCLUDED.work_mode,
       hours = EXCLUDED.hours
`, tenantID, workerID, attendance.Day(rec.Date), rec.CheckIn, rec.CheckOut, string(mode), rec.Hours.String())
	if err != nil {
		return gerrors.Wrap(err, "upsert attendance")
	}
	return nil
}
