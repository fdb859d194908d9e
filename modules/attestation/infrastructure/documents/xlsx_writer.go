// Package documents renders the attestation document of a completed request.
package documents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/attendance"
)

const (
	SheetSummary    = "Summary"
	SheetAttendance = "Attendance"
	SheetApprovals  = "Approvals"
)

// XLSXWriter stores one workbook per request under dir/<tenant>/<request>.xlsx
// and returns the path relative to dir as the document reference.
type XLSXWriter struct {
	dir string
}

func NewXLSXWriter(dir string) *XLSXWriter {
	return &XLSXWriter{dir: dir}
}

func Ref(req *attestation.Request) string {
	return filepath.ToSlash(filepath.Join(req.TenantID.String(), req.ID.String()+".xlsx"))
}

func (w *XLSXWriter) GenerateAttestationDocument(ctx context.Context, req *attestation.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := Render(req)
	if err != nil {
		return "", err
	}

	ref := Ref(req)
	path := filepath.Join(w.dir, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create documents dir: %w", err)
	}
	// Written to a temp file and renamed into place.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write document: %w", err)
	}
	return ref, nil
}

// Render builds the workbook: a summary sheet, the attendance records, and
// the approvals of both tiers.
func Render(req *attestation.Request) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	for _, name := range []string{SheetAttendance, SheetApprovals} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("render document: %w", err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}

	if err := writeSummary(f, header, req); err != nil {
		return nil, err
	}
	if err := writeAttendance(f, header, req.AttendanceRecords); err != nil {
		return nil, err
	}
	if err := writeApprovals(f, header, req); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("render %s: %w", sheet, err)
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeSummary(f *excelize.File, header int, req *attestation.Request) error {
	completed := formatTime(req.CompletedAt)
	observations := ""
	if req.Observations != nil {
		observations = *req.Observations
	}
	rows := [][]any{
		{"Request", req.ID.String()},
		{"Worker", req.WorkerName},
		{"Worker ID", req.WorkerID.String()},
		{"Sector", req.WorkerSector},
		{"Period", req.Period.String()},
		{"Status", string(req.Status)},
		{"Total hours", attendance.TotalHours(req.AttendanceRecords).InexactFloat64()},
		{"Created", req.CreatedAt.UTC().Format(time.RFC3339)},
		{"Completed", completed},
		{"Observations", observations},
	}
	if err := writeRows(f, SheetSummary, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetSummary, "A1", fmt.Sprintf("A%d", len(rows)), header); err != nil {
		return err
	}
	return f.SetColWidth(SheetSummary, "A", "B", 24)
}

func writeAttendance(f *excelize.File, header int, records []attendance.Record) error {
	rows := [][]any{{"Date", "Check in", "Check out", "Work mode", "Hours"}}
	for _, r := range records {
		rows = append(rows, []any{
			r.Date.Format(time.DateOnly),
			formatTime(r.CheckIn),
			formatTime(r.CheckOut),
			string(r.WorkMode),
			r.Hours.InexactFloat64(),
		})
	}
	if err := writeRows(f, SheetAttendance, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetAttendance, "A1", "E1", header); err != nil {
		return err
	}
	return f.SetColWidth(SheetAttendance, "A", "E", 18)
}

func writeApprovals(f *excelize.File, header int, req *attestation.Request) error {
	rows := [][]any{{"Tier", "Superior", "Role", "Decision", "Decided at", "Automatic", "Comments"}}
	for _, tier := range []attestation.Tier{attestation.TierImmediate, attestation.TierMediate} {
		for _, rec := range req.Approvals(tier) {
			comments := ""
			if rec.Comments != nil {
				comments = *rec.Comments
			}
			rows = append(rows, []any{
				string(tier),
				rec.SuperiorName,
				rec.SuperiorRole,
				string(rec.Decision),
				rec.DecidedAt.UTC().Format(time.RFC3339),
				rec.Automatic,
				comments,
			})
		}
	}
	if err := writeRows(f, SheetApprovals, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetApprovals, "A1", "G1", header); err != nil {
		return err
	}
	return f.SetColWidth(SheetApprovals, "A", "G", 18)
}
