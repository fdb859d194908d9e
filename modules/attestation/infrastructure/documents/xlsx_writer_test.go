package documents

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/attendance"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/hierarchy"
)

func completedRequest(t *testing.T) *attestation.Request {
	t.Helper()
	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	req := attestation.New(attestation.NewParams{
		TenantID: uuid.New(),
		Worker:   hierarchy.Worker{ID: uuid.New(), Name: "Ana Lima", Sector: "OPS"},
		Period: attendance.NewPeriod(
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		),
		Records: []attendance.Record{
			{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), WorkMode: attendance.WorkModeOnsite, Hours: decimal.RequireFromString("8")},
			{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), WorkMode: attendance.WorkModeRemote, Hours: decimal.RequireFromString("7.5")},
		},
		Now: now,
	})

	head := hierarchy.SuperiorRef{ID: uuid.New(), Name: "Head", Role: "head"}
	director := hierarchy.SuperiorRef{ID: uuid.New(), Name: "Director", Role: "director"}
	comment := "ok"

	require.NoError(t, req.OpenTierWith(attestation.TierImmediate, []hierarchy.SuperiorRef{head}, now))
	require.NoError(t, req.Decide(attestation.ApprovalRecord{
		SuperiorID: head.ID, SuperiorName: head.Name, SuperiorRole: head.Role,
		DecidedAt: now, Decision: attestation.DecisionApproved, Comments: &comment,
	}, now))
	_, err := req.CloseTier(now)
	require.NoError(t, err)
	require.NoError(t, req.OpenTierWith(attestation.TierMediate, []hierarchy.SuperiorRef{director}, now))
	require.NoError(t, req.Decide(attestation.ApprovalRecord{
		SuperiorID: director.ID, SuperiorName: director.Name, SuperiorRole: director.Role,
		DecidedAt: now, Decision: attestation.DecisionApproved,
	}, now))
	_, err = req.CloseTier(now)
	require.NoError(t, err)
	require.NoError(t, req.Complete(now))
	return req
}

func TestRender(t *testing.T) {
	req := completedRequest(t)

	data, err := Render(req)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	require.Equal(t, []string{SheetSummary, SheetAttendance, SheetApprovals}, f.GetSheetList())

	status, err := f.GetCellValue(SheetSummary, "B6")
	require.NoError(t, err)
	require.Equal(t, "completed", status)
	total, err := f.GetCellValue(SheetSummary, "B7")
	require.NoError(t, err)
	require.Equal(t, "15.5", total)

	attendanceRows, err := f.GetRows(SheetAttendance)
	require.NoError(t, err)
	require.Len(t, attendanceRows, 3)
	require.Equal(t, "2024-01-02", attendanceRows[2][0])
	require.Equal(t, "remote", attendanceRows[2][3])

	approvals, err := f.GetRows(SheetApprovals)
	require.NoError(t, err)
	require.Len(t, approvals, 3)
	require.Equal(t, []string{"immediate", "Head", "head", "approved"}, approvals[1][:4])
	require.Equal(t, "ok", approvals[1][6])
	require.Equal(t, "mediate", approvals[2][0])
}

func TestXLSXWriter_WritesUnderTenantDir(t *testing.T) {
	dir := t.TempDir()
	req := completedRequest(t)

	ref, err := NewXLSXWriter(dir).GenerateAttestationDocument(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, req.TenantID.String()+"/"+req.ID.String()+".xlsx", ref)

	info, err := os.Stat(filepath.Join(dir, req.TenantID.String(), req.ID.String()+".xlsx"))
	require.NoError(t, err)
	require.Positive(t, info.Size())

	_, err = os.Stat(filepath.Join(dir, req.TenantID.String(), req.ID.String()+".xlsx.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestXLSXWriter_Errors(t *testing.T) {
	req := completedRequest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewXLSXWriter(t.TempDir()).GenerateAttestationDocument(ctx, req)
	require.ErrorIs(t, err, context.Canceled)

	// A regular file where the tenant directory should go.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, req.TenantID.String()), []byte("x"), 0o644))
	_, err = NewXLSXWriter(dir).GenerateAttestationDocument(context.Background(), req)
	require.ErrorContains(t, err, "create documents dir")
}
