// Package mcp translates Model Context Protocol tool invocations into
// orchestrator calls. Callers authenticate with a static API key mapped to a
// fixed (principalId, organizationId) pair, configured via MCP_API_KEYS in
// the "key:actorId:orgId,key:actorId:orgId" format described in spec.md §5.3.
package mcp

import (
	"crypto/subtle"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	governorerrors "governor/errors"
	"governor/orchestrator"
)

const maxRequestBody = 1 << 20 // 1 MiB

// KeyBinding is one entry of the MCP_API_KEYS table: the API key a caller
// presents, and the principal/org it is bound to.
type KeyBinding struct {
	Key            string
	PrincipalID    string
	OrganizationID string
}

// ParseKeyTable parses the MCP_API_KEYS environment value into a lookup
// table keyed by API key. Malformed entries (missing a field) are skipped.
func ParseKeyTable(raw string) map[string]KeyBinding {
	table := make(map[string]KeyBinding)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			continue
		}
		table[parts[0]] = KeyBinding{Key: parts[0], PrincipalID: parts[1], OrganizationID: parts[2]}
	}
	return table
}

// invokeRequest is the MCP tool-invocation shape.
type invokeRequest struct {
	Tool       string                 `json:"tool"`
	Arguments  map[string]interface{} `json:"arguments"`
	EntityRefs []string               `json:"entityRefs,omitempty"`
	TraceID    string                 `json:"traceId,omitempty"`
}

type invokeResponse struct {
	Status          string      `json:"status"`
	EnvelopeID      string      `json:"envelopeId,omitempty"`
	ApprovalRequest interface{} `json:"approvalRequest,omitempty"`
	ExecutionResult interface{} `json:"executionResult,omitempty"`
	Explanation     string      `json:"explanation,omitempty"`
	Question        string      `json:"question,omitempty"`
}

// Adapter exposes a single HTTP endpoint that accepts an MCP tool
// invocation, authenticates it against a static key table, and forwards it
// to the orchestrator as a ResolveAndPropose request.
type Adapter struct {
	orchestrator *orchestrator.Orchestrator
	keys         map[string]KeyBinding
}

// New constructs an Adapter over an already-built orchestrator and key
// table (see ParseKeyTable).
func New(orch *orchestrator.Orchestrator, keys map[string]KeyBinding) *Adapter {
	if keys == nil {
		keys = map[string]KeyBinding{}
	}
	return &Adapter{orchestrator: orch, keys: keys}
}

func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	binding, ok := a.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("missing or invalid MCP API key"))
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req invokeRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode tool invocation: %w", err))
		return
	}

	result, err := a.orchestrator.ResolveAndPropose(r.Context(), orchestrator.ResolveAndProposeInput{
		PrincipalID:    binding.PrincipalID,
		OrganizationID: binding.OrganizationID,
		CartridgeID:    req.Tool,
		ActionType:     req.Tool,
		Parameters:     req.Arguments,
		EntityRefs:     req.EntityRefs,
		TraceID:        req.TraceID,
	})
	if err != nil {
		var needsClarification *governorerrors.NeedsClarificationError
		if stderrors.As(err, &needsClarification) {
			writeJSON(w, http.StatusOK, invokeResponse{
				Status:   "needs_clarification",
				Question: needsClarification.Question,
			})
			return
		}
		writeError(w, statusForError(err), err)
		return
	}

	resp := invokeResponse{
		Status:      string(result.Outcome),
		EnvelopeID:  result.EnvelopeID,
		Explanation: result.Explanation,
		Question:    result.Question,
	}
	if result.ApprovalRequest != nil {
		resp.ApprovalRequest = result.ApprovalRequest
	}
	if result.ExecutionResult != nil {
		resp.ExecutionResult = result.ExecutionResult
	}
	writeJSON(w, http.StatusOK, resp)
}

// authenticate extracts the bearer API key from the request and looks it up
// in the key table with a constant-time comparison against each candidate,
// mirroring the binding-hash comparison discipline used elsewhere in the
// runtime for caller-supplied secrets.
func (a *Adapter) authenticate(r *http.Request) (KeyBinding, bool) {
	header := r.Header.Get("Authorization")
	presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if presented == "" {
		return KeyBinding{}, false
	}
	for key, binding := range a.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			return binding, true
		}
	}
	return KeyBinding{}, false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	var validation *governorerrors.ValidationError
	var notFound *governorerrors.NotFoundError
	var forbidden *governorerrors.ForbiddenError
	switch {
	case stderrors.As(err, &validation):
		return http.StatusBadRequest
	case stderrors.As(err, &notFound):
		return http.StatusNotFound
	case stderrors.As(err, &forbidden), stderrors.Is(err, governorerrors.ErrDelegationChainFailed):
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}
