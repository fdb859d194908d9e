package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/services"
	"github.com/iota-uz/iota-attest/pkg/application"
	"github.com/iota-uz/iota-attest/pkg/composables"
	"github.com/iota-uz/iota-attest/pkg/httpapi"
	"github.com/iota-uz/iota-attest/pkg/middleware"
)

const APIPrefix = "/attestations/api"

// Workflow is the part of services.WorkflowService the API needs.
type Workflow interface {
	CreateRequest(ctx context.Context, p services.CreateRequestParams) (*attestation.Request, error)
	ProcessApproval(ctx context.Context, p services.ProcessApprovalParams) (*attestation.Request, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*attestation.Request, error)
	GetPendingForSuperior(ctx context.Context, superiorID uuid.UUID) ([]*attestation.Request, error)
	GetHistory(ctx context.Context, workerID uuid.UUID) ([]*attestation.Request, error)
}

type Headers struct {
	// Tenant carries the tenant id set by the upstream gateway.
	Tenant string
	// Superior carries the id of the authenticated superior deciding a request.
	Superior string
}

type AttestationAPIController struct {
	workflow  Workflow
	headers   Headers
	apiPrefix string
}

func NewAttestationAPIController(workflow Workflow, headers Headers) application.Controller {
	return &AttestationAPIController{
		workflow:  workflow,
		headers:   headers,
		apiPrefix: APIPrefix,
	}
}

func (c *AttestationAPIController) Key() string {
	return c.apiPrefix
}

func (c *AttestationAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()
	api.Use(middleware.RequireTenant(c.headers.Tenant))

	api.HandleFunc("/requests", c.CreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}", c.GetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/decisions", c.Decide).Methods(http.MethodPost)
	api.HandleFunc("/superiors/{id}/pending", c.Pending).Methods(http.MethodGet)
	api.HandleFunc("/workers/{id}/history", c.History).Methods(http.MethodGet)
}

func (c *AttestationAPIController) CreateRequest(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())

	var body createRequestBody
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		writeDecodeError(w, requestID, err)
		return
	}

	params, err := body.params()
	if err != nil {
		writeDecodeError(w, requestID, err)
		return
	}
	req, err := c.workflow.CreateRequest(r.Context(), params)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, toResponse(req, true))
}

func (c *AttestationAPIController) GetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	req, err := c.workflow.GetRequest(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, toResponse(req, true))
}

func (c *AttestationAPIController) Decide(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}

	raw := strings.TrimSpace(r.Header.Get(c.headers.Superior))
	superiorID, err := uuid.Parse(raw)
	if raw == "" || err != nil || superiorID == uuid.Nil {
		writeAPIError(w, http.StatusUnauthorized, requestID, "ATTESTATION_SUPERIOR_REQUIRED",
			"missing or invalid "+c.headers.Superior+" header")
		return
	}

	var body decisionBody
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		writeDecodeError(w, requestID, err)
		return
	}

	req, err := c.workflow.ProcessApproval(r.Context(), services.ProcessApprovalParams{
		RequestID:  id,
		SuperiorID: superiorID,
		Decision:   attestation.Decision(body.Decision),
		Comments:   body.Comments,
		Tier:       attestation.Tier(body.Tier),
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, toResponse(req, false))
}

func (c *AttestationAPIController) Pending(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	reqs, err := c.workflow.GetPendingForSuperior(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, toList(reqs))
}

func (c *AttestationAPIController) History(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := pathID(w, r, requestID)
	if !ok {
		return
	}
	reqs, err := c.workflow.GetHistory(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, toList(reqs))
}

func pathID(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "ATTESTATION_INVALID_ID", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func writeDecodeError(w http.ResponseWriter, requestID string, err error) {
	var bodyErr *httpapi.BodyError
	if errors.As(err, &bodyErr) {
		_ = httpapi.WriteBodyError(w, bodyErr, meta(requestID))
		return
	}
	writeAPIError(w, http.StatusBadRequest, requestID, httpapi.ErrBadJSON.Code, err.Error())
}

func writeServiceError(w http.ResponseWriter, requestID string, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		writeAPIError(w, svcErr.Status, requestID, svcErr.Code, svcErr.Message)
		return
	}
	writeAPIError(w, http.StatusInternalServerError, requestID, "ATTESTATION_INTERNAL", "internal error")
}

func meta(requestID string) map[string]string {
	m := map[string]string{}
	if requestID != "" {
		m["request_id"] = requestID
	}
	return m
}

func writeAPIError(w http.ResponseWriter, status int, requestID, code, message string) {
	_ = httpapi.WriteError(w, status, code, message, meta(requestID))
}
