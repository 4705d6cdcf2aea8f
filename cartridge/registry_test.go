package cartridge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"governor/cartridge"
	"governor/schema"
)

func TestRegistryExecuteDispatchesByID(t *testing.T) {
	registry := cartridge.NewRegistry(nil, nil)
	mock := cartridge.NewMock("email")
	registry.Register(mock)

	outcome, err := registry.Execute(context.Background(), "email", "send_email", map[string]interface{}{"to": "a@b.com"}, nil)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Len(t, mock.Executions(), 1)
	require.Equal(t, "send_email", mock.Executions()[0].ActionType)
}

func TestRegistryExecuteUnknownCartridge(t *testing.T) {
	registry := cartridge.NewRegistry(nil, nil)
	_, err := registry.Execute(context.Background(), "missing", "send_email", nil, nil)
	require.Error(t, err)
}

func TestRegistryExecuteInterceptorChainOrdering(t *testing.T) {
	var order []string
	trace := func(name string) cartridge.ExecuteInterceptor {
		return func(next cartridge.ExecuteFunc) cartridge.ExecuteFunc {
			return func(ctx context.Context, actionType string, parameters, evaluationContext map[string]interface{}) (cartridge.ExecutionOutcome, error) {
				order = append(order, name)
				return next(ctx, actionType, parameters, evaluationContext)
			}
		}
	}
	registry := cartridge.NewRegistry([]cartridge.ExecuteInterceptor{trace("outer"), trace("inner")}, nil)
	mock := cartridge.NewMock("email")
	registry.Register(mock)

	_, err := registry.Execute(context.Background(), "email", "send_email", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"outer", "inner"}, order)
}

func TestRegistryHealthCheckAll(t *testing.T) {
	registry := cartridge.NewRegistry(nil, nil)
	healthy := cartridge.NewMock("email")
	unhealthy := cartridge.NewMock("crm")
	unhealthy.SetHealthy(false)
	registry.Register(healthy)
	registry.Register(unhealthy)

	statuses := registry.HealthCheckAll(context.Background())
	require.True(t, statuses["email"].Healthy)
	require.False(t, statuses["crm"].Healthy)
}

func TestMergeContextPreservesCallerKeys(t *testing.T) {
	merged := cartridge.MergeContext(
		map[string]interface{}{"to": "a@b.com", "_context": map[string]interface{}{"priority": "high"}},
		map[string]interface{}{"priority": "low", "enrichedBy": "email"},
	)
	context := merged["_context"].(map[string]interface{})
	require.Equal(t, "high", context["priority"], "caller-supplied context keys must not be overwritten")
	require.Equal(t, "email", context["enrichedBy"])
	require.Equal(t, "a@b.com", merged["to"])
}

func TestMockResolveEntityNotFound(t *testing.T) {
	mock := cartridge.NewMock("crm")
	resolved, err := mock.ResolveEntity(context.Background(), "unknown-ref")
	require.NoError(t, err)
	require.Equal(t, schema.ResolutionNotFound, resolved.Status)
}
