package openclaw_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"governor/adapters/openclaw"
	"governor/approval"
	"governor/cartridge"
	"governor/guardrail"
	"governor/ledger"
	"governor/orchestrator"
	"governor/policy"
	"governor/schema"
	"governor/storage/memstore"
)

func newOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *cartridge.Mock, chan orchestrator.ExecutionTask) {
	t.Helper()

	mock := cartridge.NewMock("email")
	registry := cartridge.NewRegistry(nil, nil)
	registry.Register(mock)

	identities := memstore.NewIdentityStore()
	require.NoError(t, identities.Put(context.Background(), &schema.IdentitySpec{
		PrincipalID:       "user_1",
		OrganizationID:    "org_1",
		GovernanceProfile: schema.ProfileGuarded,
		RiskTolerance: map[schema.RiskCategory]schema.ApprovalRequirement{
			schema.RiskLow: schema.ApprovalNone,
		},
	}))

	policies := memstore.NewPolicyStore()
	envelopes := memstore.NewEnvelopeStore()
	approvals := memstore.NewApprovalStore()
	guardrailStore := memstore.NewGuardrailStore(nil)
	ledgerStore := memstore.NewLedgerStore()
	evidenceStore := memstore.NewEvidenceStore()
	idemStore := memstore.NewIdempotencyStore()

	guardrailEngine := guardrail.New(guardrailStore)
	policyEngine := policy.New(guardrailEngine)
	approvalSvc := approval.New(approvals)
	ledgerSvc := ledger.New(ledgerStore, evidenceStore)

	executed := make(chan orchestrator.ExecutionTask, 16)
	var orch *orchestrator.Orchestrator
	queue := orchestrator.NewInMemoryQueue(16, 1, func(ctx context.Context, task orchestrator.ExecutionTask) {
		_, _ = orch.ExecuteApproved(ctx, task.EnvelopeID)
		executed <- task
	}, nil)

	orch = orchestrator.New(envelopes, identities, policies, ledgerSvc, guardrailEngine, policyEngine, approvalSvc, registry, queue, idemStore)
	return orch, mock, executed
}

func TestAdapterTranslatesToolCallToQueuedOutcome(t *testing.T) {
	orch, mock, executed := newOrchestrator(t)
	mock.SeedRiskInput("send_email", schema.RiskInput{BaseRisk: schema.RiskLow, Reversibility: schema.ReversibilityFull})
	adapter := openclaw.New(orch)

	payload := map[string]interface{}{
		"tool":  "send_email",
		"input": map[string]interface{}{"to": "a@example.com"},
		"actor": map[string]interface{}{
			"principalId":    "user_1",
			"organizationId": "org_1",
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/openclaw/invoke", bytes.NewReader(body))
	res := httptest.NewRecorder()
	adapter.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &decoded))
	require.Equal(t, "queued", decoded["status"])

	<-executed
}

func TestAdapterRejectsMissingActor(t *testing.T) {
	orch, _, _ := newOrchestrator(t)
	adapter := openclaw.New(orch)

	payload := map[string]interface{}{"tool": "send_email", "input": map[string]interface{}{}}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/openclaw/invoke", bytes.NewReader(body))
	res := httptest.NewRecorder()
	adapter.ServeHTTP(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAdapterRejectsNonPostMethod(t *testing.T) {
	orch, _, _ := newOrchestrator(t)
	adapter := openclaw.New(orch)

	req := httptest.NewRequest(http.MethodGet, "/openclaw/invoke", nil)
	res := httptest.NewRecorder()
	adapter.ServeHTTP(res, req)

	require.Equal(t, http.StatusMethodNotAllowed, res.Code)
}
