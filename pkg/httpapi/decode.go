package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/iota-uz/iota-attest/pkg/constants"
	"github.com/iota-uz/iota-attest/pkg/serrors"
)

const MaxBodyBytes = 1 << 20

var (
	ErrBadJSON    = serrors.NewError("INVALID_JSON", "request body is not valid JSON", "")
	ErrValidation = serrors.NewError("VALIDATION_FAILED", "request validation failed", "")
)

// BodyError carries the field-level messages of a rejected request body.
type BodyError struct {
	Err    error
	Fields serrors.ValidationErrors
}

func (e *BodyError) Error() string {
	return e.Err.Error()
}

func (e *BodyError) Unwrap() error {
	return e.Err
}

// DecodeJSON reads a single JSON document into dst and runs struct validation.
// Unknown fields are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &BodyError{Err: fmt.Errorf("%w: %s", ErrBadJSON, err.Error())}
	}
	if dec.More() {
		return &BodyError{Err: fmt.Errorf("%w: trailing data", ErrBadJSON)}
	}
	if err := constants.Validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &BodyError{Err: ErrValidation, Fields: serrors.ProcessValidatorErrors(verrs, nil)}
		}
		return &BodyError{Err: fmt.Errorf("%w: %s", ErrValidation, err.Error())}
	}
	return nil
}

// WriteBodyError renders a DecodeJSON failure as a 400 or 422 envelope.
func WriteBodyError(w http.ResponseWriter, err *BodyError, meta map[string]string) error {
	if errors.Is(err, ErrBadJSON) {
		return WriteError(w, http.StatusBadRequest, ErrBadJSON.Code, err.Error(), meta)
	}
	if meta == nil {
		meta = map[string]string{}
	}
	for field, msg := range err.Fields {
		meta["field."+field] = msg
	}
	return WriteError(w, http.StatusUnprocessableEntity, ErrValidation.Code, ErrValidation.Message, meta)
}
