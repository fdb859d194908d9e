package composables

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestTenantID_RoundTrip(t *testing.T) {
	_, err := UseTenantID(context.Background())
	require.ErrorIs(t, err, ErrNoTenant)

	_, err = UseTenantID(WithTenantID(context.Background(), uuid.Nil))
	require.ErrorIs(t, err, ErrNoTenant)

	id := uuid.New()
	got, err := UseTenantID(WithTenantID(context.Background(), id))
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestUseTx_WithoutPool(t *testing.T) {
	_, err := UseTx(context.Background())
	require.ErrorIs(t, err, ErrNoPool)
}

func TestUsePool_NilPoolInContext(t *testing.T) {
	var pool *pgxpool.Pool
	_, err := UsePool(WithPool(context.Background(), pool))
	require.ErrorIs(t, err, ErrNoPool)
}

func TestInTenantTx_RequiresPool(t *testing.T) {
	ctx := WithTenantID(context.Background(), uuid.New())
	err := InTenantTx(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrNoPool)
}

func TestInTenantTx_RequiresTenant(t *testing.T) {
	called := false
	err := InTenantTx(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrNoTenant)
	require.False(t, called)
}

func TestTryUseLogger(t *testing.T) {
	_, ok := TryUseLogger(context.Background())
	require.False(t, ok)

	entry := logrus.NewEntry(logrus.New())
	got, ok := TryUseLogger(WithLogger(context.Background(), entry))
	require.True(t, ok)
	require.Same(t, entry, got)
	require.Same(t, entry, UseLogger(WithLogger(context.Background(), entry)))
}
