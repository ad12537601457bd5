package tenant

import (
	"context"
	stderrors "errors"
	"fmt"

	"remessa-import/internal/logger"
	"remessa-import/pkg/errors"
)

// Tenant is one entry in the caller's currently-active tenant set. The
// set is threaded explicitly into every call rather than read from
// ambient state.
type Tenant struct {
	ID   string
	Name string
}

// Chooser resolves an ambiguous tenant context by picking one concrete
// tenant from the active set. Returning an error abandons the pending
// operation: no retry is issued and no partial state is left behind.
type Chooser interface {
	Choose(ctx context.Context, active []Tenant) (string, error)
}

// ChooserFunc adapts a plain function to the Chooser interface.
type ChooserFunc func(ctx context.Context, active []Tenant) (string, error)

func (f ChooserFunc) Choose(ctx context.Context, active []Tenant) (string, error) {
	return f(ctx, active)
}

// Operation is a tenant-scoped write. It is first invoked with an empty
// tenant id; a retry carries the chooser's pick.
type Operation[T any] func(ctx context.Context, tenantID string) (T, error)

// Execute runs op once with no explicit tenant context. If the failure is
// the distinguished ambiguous-context error and the caller has more than
// one active tenant, the chooser is consulted and op is re-issued exactly
// once carrying the chosen tenant id. Every other failure, and any
// failure with zero or one active tenant, propagates unchanged.
func Execute[T any](ctx context.Context, op Operation[T], active []Tenant, chooser Chooser) (T, error) {
	var zero T

	result, err := op(ctx, "")
	if err == nil {
		return result, nil
	}

	if !stderrors.Is(err, errors.ErrTenantAmbiguous) || len(active) <= 1 {
		return zero, err
	}

	log := logger.Get()
	log.Debug().Int("active_tenants", len(active)).Msg("Ambiguous tenant context, asking caller to choose")

	chosen, chooseErr := chooser.Choose(ctx, active)
	if chooseErr != nil {
		return zero, fmt.Errorf("%w: %v", errors.ErrTenantChoiceAborted, chooseErr)
	}

	log.Debug().Str("tenant_id", chosen).Msg("Retrying operation with chosen tenant context")
	return op(ctx, chosen)
}
