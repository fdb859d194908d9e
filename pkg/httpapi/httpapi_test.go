package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name string `json:"name" validate:"required"`
	Kind string `json:"kind" validate:"omitempty,oneof=a b"`
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	decode := func(body string) (payload, error) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		return p, DecodeJSON(req, &p)
	}

	p, err := decode(`{"name":"x","kind":"a"}`)
	require.NoError(t, err)
	assert.Equal(t, "x", p.Name)

	_, err = decode(`{"name":`)
	require.ErrorIs(t, err, ErrBadJSON)

	_, err = decode(`{"name":"x","extra":1}`)
	require.ErrorIs(t, err, ErrBadJSON)

	_, err = decode(`{"name":"x"} {"name":"y"}`)
	require.ErrorIs(t, err, ErrBadJSON)

	_, err = decode(`{"kind":"c"}`)
	require.ErrorIs(t, err, ErrValidation)
	var bodyErr *BodyError
	require.True(t, errors.As(err, &bodyErr))
	assert.Equal(t, "is required", bodyErr.Fields["name"])
	assert.Contains(t, bodyErr.Fields["kind"], "must be one of")
}

func TestWriteBodyError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	require.NoError(t, WriteBodyError(rec, &BodyError{Err: ErrValidation, Fields: map[string]string{"name": "is required"}},
		map[string]string{"request_id": "r1"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "VALIDATION_FAILED", env.Code)
	assert.Equal(t, "is required", env.Meta["field.name"])
	assert.Equal(t, "r1", env.Meta["request_id"])

	rec = httptest.NewRecorder()
	require.NoError(t, WriteBodyError(rec, &BodyError{Err: ErrBadJSON}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
