package cartridge

import (
	"context"
	"sync"

	governorerrors "governor/errors"
)

// ExecuteFunc is the shape of Cartridge.Execute, so interceptors can wrap it
// the same way gateway middleware wraps http.Handler.
type ExecuteFunc func(ctx context.Context, actionType string, parameters, evaluationContext map[string]interface{}) (ExecutionOutcome, error)

// EnrichFunc is the shape of Cartridge.EnrichContext.
type EnrichFunc func(ctx context.Context, actionType string, parameters map[string]interface{}) (map[string]interface{}, error)

// ExecuteInterceptor wraps an ExecuteFunc with cross-cutting behavior (audit
// side-channels, redaction, timing) the same way a chi middleware wraps an
// http.Handler: it receives the next func in the chain and returns a new one.
type ExecuteInterceptor func(next ExecuteFunc) ExecuteFunc

// EnrichInterceptor wraps an EnrichFunc, most commonly to redact parameters
// before they reach a cartridge's own enrichment logic.
type EnrichInterceptor func(next EnrichFunc) EnrichFunc

// Registry resolves cartridges by ID and applies a fixed, ordered chain of
// interceptors around every Execute and EnrichContext call, per spec.md
// §9.3's "interceptors compose as an ordered list".
type Registry struct {
	mu                  sync.RWMutex
	cartridges          map[string]Cartridge
	executeInterceptors []ExecuteInterceptor
	enrichInterceptors  []EnrichInterceptor
}

// NewRegistry constructs an empty Registry. Interceptors apply in the order
// given: the first interceptor is outermost, seeing the call before any
// other interceptor or the cartridge itself.
func NewRegistry(executeInterceptors []ExecuteInterceptor, enrichInterceptors []EnrichInterceptor) *Registry {
	return &Registry{
		cartridges:          make(map[string]Cartridge),
		executeInterceptors: executeInterceptors,
		enrichInterceptors:  enrichInterceptors,
	}
}

// Register adds a cartridge under its own ID, overwriting any existing
// registration for that ID.
func (r *Registry) Register(c Cartridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cartridges[c.ID()] = c
}

// Get returns the cartridge registered under id.
func (r *Registry) Get(id string) (Cartridge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cartridges[id]
	if !ok {
		return nil, &governorerrors.NotFoundError{Kind: "cartridge", ID: id}
	}
	return c, nil
}

// IDs returns every registered cartridge ID, for health-check aggregation.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.cartridges))
	for id := range r.cartridges {
		ids = append(ids, id)
	}
	return ids
}

// Execute resolves cartridgeID and runs its Execute method through the
// registry's ordered interceptor chain.
func (r *Registry) Execute(ctx context.Context, cartridgeID, actionType string, parameters, evaluationContext map[string]interface{}) (ExecutionOutcome, error) {
	c, err := r.Get(cartridgeID)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	chain := ExecuteFunc(c.Execute)
	for i := len(r.executeInterceptors) - 1; i >= 0; i-- {
		chain = r.executeInterceptors[i](chain)
	}
	outcome, err := chain(ctx, actionType, parameters, evaluationContext)
	if err != nil {
		return outcome, &governorerrors.CartridgeError{ActionType: actionType, Cause: err}
	}
	return outcome, nil
}

// EnrichContext resolves cartridgeID and runs its EnrichContext method
// through the registry's ordered interceptor chain.
func (r *Registry) EnrichContext(ctx context.Context, cartridgeID, actionType string, parameters map[string]interface{}) (map[string]interface{}, error) {
	c, err := r.Get(cartridgeID)
	if err != nil {
		return nil, err
	}
	chain := EnrichFunc(c.EnrichContext)
	for i := len(r.enrichInterceptors) - 1; i >= 0; i-- {
		chain = r.enrichInterceptors[i](chain)
	}
	return chain(ctx, actionType, parameters)
}

// HealthCheckAll runs HealthCheck against every registered cartridge and
// returns the results keyed by cartridge ID, for the /api/health/deep
// aggregation spec.md §6 describes.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	snapshot := make(map[string]Cartridge, len(r.cartridges))
	for id, c := range r.cartridges {
		snapshot[id] = c
	}
	r.mu.RUnlock()

	out := make(map[string]HealthStatus, len(snapshot))
	for id, c := range snapshot {
		out[id] = c.HealthCheck(ctx)
	}
	return out
}

// MergeContext merges derived onto parameters under "_context" without
// overwriting any key the caller already set, the behavior spec.md §4.2
// requires of every cartridge's EnrichContext.
func MergeContext(parameters, derived map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(parameters)+1)
	for k, v := range parameters {
		merged[k] = v
	}
	existing, _ := merged["_context"].(map[string]interface{})
	context := make(map[string]interface{}, len(derived)+len(existing))
	for k, v := range derived {
		context[k] = v
	}
	for k, v := range existing {
		context[k] = v
	}
	merged["_context"] = context
	return merged
}
