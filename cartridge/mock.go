package cartridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"governor/schema"
)

// Mock is a deterministic, in-memory reference Cartridge used by tests and
// local development. It records every Execute call it receives so tests can
// assert on side effects without a real external system.
type Mock struct {
	mu         sync.Mutex
	id         string
	entities   map[string]schema.Entity
	riskInputs map[string]schema.RiskInput
	guardrails Guardrails
	healthy    bool
	executions []MockExecution
	failNext   bool
	undoRecipe *schema.UndoRecipe
}

// MockExecution records one call to Mock.Execute.
type MockExecution struct {
	ActionType string
	Parameters map[string]interface{}
	Context    map[string]interface{}
}

// NewMock constructs a healthy Mock cartridge with no registered entities.
func NewMock(id string) *Mock {
	return &Mock{
		id:         id,
		entities:   make(map[string]schema.Entity),
		riskInputs: make(map[string]schema.RiskInput),
		healthy:    true,
	}
}

func (m *Mock) ID() string { return m.id }

func (m *Mock) Initialize(ctx context.Context, config map[string]interface{}) error { return nil }

// SeedEntity registers an entity so ResolveEntity can find it by inputRef.
func (m *Mock) SeedEntity(inputRef string, entity schema.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[inputRef] = entity
}

// SeedRiskInput sets the RiskInput GetRiskInput returns for actionType.
func (m *Mock) SeedRiskInput(actionType string, input schema.RiskInput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskInputs[actionType] = input
}

// SetGuardrails configures what GetGuardrails returns.
func (m *Mock) SetGuardrails(g Guardrails) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guardrails = g
}

// SetUndoRecipe configures the UndoRecipe future Execute calls attach to a
// successful ExecutionOutcome.
func (m *Mock) SetUndoRecipe(recipe *schema.UndoRecipe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undoRecipe = recipe
}

// SetHealthy toggles what HealthCheck reports.
func (m *Mock) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// FailNextExecute makes the next Execute call return a failed outcome
// instead of succeeding.
func (m *Mock) FailNextExecute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
}

// Executions returns every Execute call recorded so far.
func (m *Mock) Executions() []MockExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockExecution(nil), m.executions...)
}

func (m *Mock) ResolveEntity(ctx context.Context, inputRef string) (schema.ResolvedEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entity, ok := m.entities[inputRef]
	if !ok {
		return schema.ResolvedEntity{InputRef: inputRef, Status: schema.ResolutionNotFound}, nil
	}
	return schema.ResolvedEntity{InputRef: inputRef, Status: schema.ResolutionResolved, Entity: &entity}, nil
}

func (m *Mock) CaptureSnapshot(ctx context.Context, actionType string, parameters map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"actionType": actionType, "capturedAt": "mock"}, nil
}

func (m *Mock) EnrichContext(ctx context.Context, actionType string, parameters map[string]interface{}) (map[string]interface{}, error) {
	return MergeContext(parameters, map[string]interface{}{"enrichedBy": m.id}), nil
}

func (m *Mock) Execute(ctx context.Context, actionType string, parameters, evaluationContext map[string]interface{}) (ExecutionOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, MockExecution{ActionType: actionType, Parameters: parameters, Context: evaluationContext})
	if m.failNext {
		m.failNext = false
		return ExecutionOutcome{
			Success:         false,
			Summary:         fmt.Sprintf("mock execution of %s failed", actionType),
			PartialFailures: []string{"simulated failure"},
		}, nil
	}
	return ExecutionOutcome{
		Success:      true,
		Summary:      fmt.Sprintf("mock executed %s", actionType),
		ExternalRefs: map[string]string{"mockRef": actionType + "-ref"},
		UndoRecipe:   m.undoRecipe,
	}, nil
}

func (m *Mock) GetRiskInput(ctx context.Context, actionType string, parameters map[string]interface{}) (schema.RiskInput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	input, ok := m.riskInputs[actionType]
	if !ok {
		return schema.RiskInput{BaseRisk: schema.RiskLow, Reversibility: schema.ReversibilityFull}, nil
	}
	return input, nil
}

func (m *Mock) GetGuardrails(ctx context.Context) (Guardrails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guardrails, nil
}

func (m *Mock) HealthCheck(ctx context.Context) HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return HealthStatus{Healthy: false, Detail: "mock reporting unhealthy", CheckedAt: time.Now()}
	}
	return HealthStatus{Healthy: true, Detail: "ok", CheckedAt: time.Now()}
}
