package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"governor/adapters/mcp"
	"governor/approval"
	"governor/cartridge"
	"governor/guardrail"
	"governor/ledger"
	"governor/orchestrator"
	"governor/policy"
	"governor/schema"
	"governor/storage/memstore"
)

func newOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *cartridge.Mock) {
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
	return orch, mock
}

func TestParseKeyTableParsesValidEntries(t *testing.T) {
	table := mcp.ParseKeyTable("key1:user_1:org_1,key2:user_2:org_2")
	require.Len(t, table, 2)
	require.Equal(t, mcp.KeyBinding{Key: "key1", PrincipalID: "user_1", OrganizationID: "org_1"}, table["key1"])
	require.Equal(t, mcp.KeyBinding{Key: "key2", PrincipalID: "user_2", OrganizationID: "org_2"}, table["key2"])
}

func TestParseKeyTableSkipsMalformedEntries(t *testing.T) {
	table := mcp.ParseKeyTable("key1:user_1,key2:user_2:org_2,bad")
	require.Len(t, table, 1)
	_, ok := table["key2"]
	require.True(t, ok)
}

func TestAdapterRejectsMissingAPIKey(t *testing.T) {
	orch, _ := newOrchestrator(t)
	adapter := mcp.New(orch, mcp.ParseKeyTable("secret:user_1:org_1"))

	req := httptest.NewRequest(http.MethodPost, "/mcp/invoke", bytes.NewReader([]byte("{}")))
	res := httptest.NewRecorder()
	adapter.ServeHTTP(res, req)

	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestAdapterAcceptsValidAPIKeyAndQueues(t *testing.T) {
	orch, mock := newOrchestrator(t)
	mock.SeedRiskInput("send_email", schema.RiskInput{BaseRisk: schema.RiskLow, Reversibility: schema.ReversibilityFull})
	adapter := mcp.New(orch, mcp.ParseKeyTable("secret:user_1:org_1"))

	payload := map[string]interface{}{
		"tool":      "send_email",
		"arguments": map[string]interface{}{"to": "a@example.com"},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp/invoke", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	res := httptest.NewRecorder()
	adapter.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &decoded))
	require.Equal(t, "queued", decoded["status"])
}

func TestAdapterRejectsWrongAPIKey(t *testing.T) {
	orch, _ := newOrchestrator(t)
	adapter := mcp.New(orch, mcp.ParseKeyTable("secret:user_1:org_1"))

	req := httptest.NewRequest(http.MethodPost, "/mcp/invoke", bytes.NewReader([]byte("{}")))
	req.Header.Set("Authorization", "Bearer wrong-key")
	res := httptest.NewRecorder()
	adapter.ServeHTTP(res, req)

	require.Equal(t, http.StatusUnauthorized, res.Code)
}
