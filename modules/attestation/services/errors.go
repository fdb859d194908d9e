package services

import (
	"fmt"
	"net/http"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// Is matches any ServiceError carrying the same code, so wrapped copies of a
// sentinel still satisfy errors.Is.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Code == e.Code
}

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func (e *ServiceError) withCause(cause error) *ServiceError {
	return newServiceError(e.Status, e.Code, e.Message, cause)
}

func (e *ServiceError) withMessage(format string, args ...any) *ServiceError {
	return newServiceError(e.Status, e.Code, fmt.Sprintf(format, args...), e.Cause)
}

var (
	ErrTenantRequired         = newServiceError(http.StatusBadRequest, "ATTESTATION_TENANT_REQUIRED", "tenant is required", nil)
	ErrWorkerNotFound         = newServiceError(http.StatusNotFound, "ATTESTATION_WORKER_NOT_FOUND", "worker not found", nil)
	ErrAttendanceUnavailable  = newServiceError(http.StatusBadGateway, "ATTESTATION_ATTENDANCE_UNAVAILABLE", "attendance records could not be fetched", nil)
	ErrInvalidPeriod          = newServiceError(http.StatusUnprocessableEntity, "ATTESTATION_INVALID_PERIOD", "invalid attestation period", nil)
	ErrInvalidSuperior        = newServiceError(http.StatusForbidden, "ATTESTATION_INVALID_SUPERIOR", "superior is not part of the open approval tier", nil)
	ErrDuplicateDecision      = newServiceError(http.StatusConflict, "ATTESTATION_DUPLICATE_DECISION", "decision already recorded", nil)
	ErrRequestNotPending      = newServiceError(http.StatusConflict, "ATTESTATION_REQUEST_NOT_PENDING", "request is not awaiting this decision", nil)
	ErrRequestNotFound        = newServiceError(http.StatusNotFound, "ATTESTATION_REQUEST_NOT_FOUND", "attestation request not found", nil)
	ErrInvalidDecision        = newServiceError(http.StatusUnprocessableEntity, "ATTESTATION_INVALID_DECISION", "invalid decision", nil)
	ErrConcurrentModification = newServiceError(http.StatusConflict, "ATTESTATION_CONCURRENT_MODIFICATION", "request was modified concurrently, retry", nil)

	// Side-effect failures are never returned to callers. They are logged,
	// counted and appended to the request observations.
	ErrNotificationDeliveryFailed = newServiceError(http.StatusBadGateway, "ATTESTATION_NOTIFICATION_DELIVERY_FAILED", "notification delivery failed", nil)
	ErrDocumentGenerationFailed   = newServiceError(http.StatusBadGateway, "ATTESTATION_DOCUMENT_GENERATION_FAILED", "document generation failed", nil)
)
