package composables

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-attest/pkg/constants"
)

// TenantSetting is the transaction-local Postgres setting carrying the tenant
// of an InTenantTx transaction, for row-level security policies and triggers.
const TenantSetting = "app.current_tenant"

// InTenantTx joins the transaction already in ctx, or opens a new one on the
// pool with TenantSetting applied. A tenant must be present in ctx.
func InTenantTx(ctx context.Context, fn func(context.Context) error) error {
	if existing, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok && existing != nil {
		return fn(ctx)
	}
	tenantID, err := UseTenantID(ctx)
	if err != nil {
		return err
	}
	pool, err := UsePool(ctx)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", TenantSetting, tenantID.String()); err != nil {
		return errors.Join(fmt.Errorf("set tenant context: %w", err), tx.Rollback(ctx))
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		if rErr := tx.Rollback(ctx); rErr != nil {
			return errors.Join(err, rErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func InTenantTxResult[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := InTenantTx(ctx, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	return out, err
}
