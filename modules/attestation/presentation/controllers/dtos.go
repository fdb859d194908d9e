package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/attendance"
	"github.com/iota-uz/iota-attest/modules/attestation/services"
	"github.com/iota-uz/iota-attest/pkg/httpapi"
	"github.com/iota-uz/iota-attest/pkg/serrors"
)

type createRequestBody struct {
	WorkerID  string `json:"worker_id" validate:"required,uuid"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

// params converts a decoded body. Fields that do not parse are reported as
// validation failures.
func (b createRequestBody) params() (services.CreateRequestParams, error) {
	fields := serrors.ValidationErrors{}
	workerID, err := uuid.Parse(b.WorkerID)
	if err != nil {
		fields["worker_id"] = "must be a UUID"
	}
	start, err := time.Parse(time.DateOnly, b.StartDate)
	if err != nil {
		fields["start_date"] = "must be a date (YYYY-MM-DD)"
	}
	end, err := time.Parse(time.DateOnly, b.EndDate)
	if err != nil {
		fields["end_date"] = "must be a date (YYYY-MM-DD)"
	}
	if len(fields) > 0 {
		return services.CreateRequestParams{}, &httpapi.BodyError{Err: httpapi.ErrValidation, Fields: fields}
	}
	return services.CreateRequestParams{
		WorkerID: workerID,
		Period:   attendance.NewPeriod(start, end),
	}, nil
}

type decisionBody struct {
	Decision string  `json:"decision" validate:"required,oneof=approved rejected"`
	Comments *string `json:"comments" validate:"omitempty,max=2000"`
	Tier     string  `json:"tier" validate:"omitempty,oneof=immediate mediate"`
}

type periodResponse struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type recordResponse struct {
	Date     string     `json:"date"`
	CheckIn  *time.Time `json:"check_in,omitempty"`
	CheckOut *time.Time `json:"check_out,omitempty"`
	WorkMode string     `json:"work_mode"`
	Hours    string     `json:"hours"`
}

type approvalResponse struct {
	SuperiorID   uuid.UUID `json:"superior_id"`
	SuperiorName string    `json:"superior_name"`
	SuperiorRole string    `json:"superior_role,omitempty"`
	Decision     string    `json:"decision"`
	DecidedAt    time.Time `json:"decided_at"`
	Comments     *string   `json:"comments,omitempty"`
	Automatic    bool      `json:"automatic"`
}

type slotResponse struct {
	SuperiorID   uuid.UUID         `json:"superior_id"`
	SuperiorName string            `json:"superior_name"`
	SuperiorRole string            `json:"superior_role,omitempty"`
	NotifiedAt   *time.Time        `json:"notified_at,omitempty"`
	Reminders    int               `json:"reminders"`
	Decision     *approvalResponse `json:"decision"`
}

type requestResponse struct {
	ID                 uuid.UUID          `json:"id"`
	WorkerID           uuid.UUID          `json:"worker_id"`
	WorkerName         string             `json:"worker_name"`
	WorkerSector       string             `json:"worker_sector,omitempty"`
	Period             periodResponse     `json:"period"`
	Status             string             `json:"status"`
	OpenTier           string             `json:"open_tier,omitempty"`
	Slots              []slotResponse     `json:"slots,omitempty"`
	ImmediateApprovals []approvalResponse `json:"immediate_approvals"`
	MediateApprovals   []approvalResponse `json:"mediate_approvals"`
	TotalHours         string             `json:"total_hours"`
	AttendanceRecords  []recordResponse   `json:"attendance_records,omitempty"`
	Observations       *string            `json:"observations,omitempty"`
	DocumentRef        *string            `json:"document_ref,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	Version            int64              `json:"version"`
}

type listResponse struct {
	Items []requestResponse `json:"items"`
}

func toApproval(rec attestation.ApprovalRecord) approvalResponse {
	return approvalResponse{
		SuperiorID:   rec.SuperiorID,
		SuperiorName: rec.SuperiorName,
		SuperiorRole: rec.SuperiorRole,
		Decision:     string(rec.Decision),
		DecidedAt:    rec.DecidedAt,
		Comments:     rec.Comments,
		Automatic:    rec.Automatic,
	}
}

// toApprovals keeps nil distinct from empty: null means the tier was never
// reached, [] means it closed without superiors.
func toApprovals(recs []attestation.ApprovalRecord) []approvalResponse {
	if recs == nil {
		return nil
	}
	out := make([]approvalResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toApproval(rec))
	}
	return out
}

func toRecords(records []attendance.Record) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, recordResponse{
			Date:     r.Date.Format(time.DateOnly),
			CheckIn:  r.CheckIn,
			CheckOut: r.CheckOut,
			WorkMode: string(r.WorkMode),
			Hours:    r.Hours.StringFixed(2),
		})
	}
	return out
}

func toResponse(req *attestation.Request, withRecords bool) requestResponse {
	resp := requestResponse{
		ID:           req.ID,
		WorkerID:     req.WorkerID,
		WorkerName:   req.WorkerName,
		WorkerSector: req.WorkerSector,
		Period: periodResponse{
			StartDate: req.Period.StartDate.Format(time.DateOnly),
			EndDate:   req.Period.EndDate.Format(time.DateOnly),
		},
		Status:             string(req.Status),
		OpenTier:           string(req.OpenTier),
		ImmediateApprovals: toApprovals(req.ImmediateApprovals),
		MediateApprovals:   toApprovals(req.MediateApprovals),
		TotalHours:         attendance.TotalHours(req.AttendanceRecords).StringFixed(2),
		Observations:       req.Observations,
		DocumentRef:        req.DocumentRef,
		CreatedAt:          req.CreatedAt,
		UpdatedAt:          req.UpdatedAt,
		CompletedAt:        req.CompletedAt,
		Version:            req.Version,
	}
	for _, s := range req.Slots {
		slot := slotResponse{
			SuperiorID:   s.Superior.ID,
			SuperiorName: s.Superior.Name,
			SuperiorRole: s.Superior.Role,
			NotifiedAt:   s.NotifiedAt,
			Reminders:    s.Reminders,
		}
		if s.Decision != nil {
			d := toApproval(*s.Decision)
			slot.Decision = &d
		}
		resp.Slots = append(resp.Slots, slot)
	}
	if withRecords {
		resp.AttendanceRecords = toRecords(req.AttendanceRecords)
	}
	return resp
}

func toList(reqs []*attestation.Request) listResponse {
	out := listResponse{Items: make([]requestResponse, 0, len(reqs))}
	for _, req := range reqs {
		out.Items = append(out.Items, toResponse(req, false))
	}
	return out
}

// RequestView renders req with its attendance records, as GET /requests/{id} does.
func RequestView(req *attestation.Request) any {
	return toResponse(req, true)
}
