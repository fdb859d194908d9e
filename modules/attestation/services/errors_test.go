package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServiceError_MatchesByCode(t *testing.T) {
	cause := errors.New("db down")
	err := fmt.Errorf("wrap: %w", ErrAttendanceUnavailable.withCause(cause))

	require.ErrorIs(t, err, ErrAttendanceUnavailable)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrWorkerNotFound)
	require.Equal(t, "wrap: attendance records could not be fetched: db down", err.Error())

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, 502, svcErr.Status)

	msg := ErrInvalidPeriod.withMessage("span %d", 3)
	require.ErrorIs(t, msg, ErrInvalidPeriod)
	require.Equal(t, "span 3", msg.Error())
	require.Equal(t, "invalid attestation period", ErrInvalidPeriod.Message)
}
