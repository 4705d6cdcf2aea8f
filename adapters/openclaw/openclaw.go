// Package openclaw translates OpenClaw-style tool-call payloads into
// orchestrator calls. It carries no business logic of its own: every
// decision (policy, risk, approval) is made by the orchestrator, and this
// package only reshapes the request and response wire formats.
package openclaw

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	governorerrors "governor/errors"
	"governor/orchestrator"
)

const maxRequestBody = 1 << 20 // 1 MiB

// toolCallRequest is the OpenClaw tool-invocation shape: a tool name, its
// input payload, and the identity of the actor invoking it.
type toolCallRequest struct {
	Tool  string                 `json:"tool"`
	Input map[string]interface{} `json:"input"`
	Actor struct {
		PrincipalID    string `json:"principalId"`
		OrganizationID string `json:"organizationId"`
		ActingAs       string `json:"actingAs,omitempty"`
	} `json:"actor"`
	EntityRefs     []string `json:"entityRefs,omitempty"`
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
	TraceID        string   `json:"traceId,omitempty"`
}

// toolCallResponse is the OpenClaw-facing reshaping of orchestrator.Result.
type toolCallResponse struct {
	Status          string      `json:"status"`
	EnvelopeID      string      `json:"envelopeId,omitempty"`
	ApprovalRequest interface{} `json:"approvalRequest,omitempty"`
	ExecutionResult interface{} `json:"executionResult,omitempty"`
	Explanation     string      `json:"explanation,omitempty"`
	Question        string      `json:"question,omitempty"`
}

// Adapter exposes a single HTTP endpoint that accepts an OpenClaw tool call
// and forwards it to the orchestrator as a ResolveAndPropose request.
type Adapter struct {
	orchestrator *orchestrator.Orchestrator
}

// New constructs an Adapter over an already-built orchestrator.
func New(orch *orchestrator.Orchestrator) *Adapter {
	return &Adapter{orchestrator: orch}
}

// ServeHTTP implements http.Handler directly; the adapter is a single route,
// not a sub-router, so it is mounted by the caller at whatever path OpenClaw
// is configured to call.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req toolCallRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode tool call: %w", err))
		return
	}
	if req.Actor.PrincipalID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("actor.principalId is required"))
		return
	}

	result, err := a.orchestrator.ResolveAndPropose(r.Context(), orchestrator.ResolveAndProposeInput{
		PrincipalID:         req.Actor.PrincipalID,
		OrganizationID:      req.Actor.OrganizationID,
		CartridgeID:         req.Tool,
		ActionType:          req.Tool,
		Parameters:          req.Input,
		EntityRefs:          req.EntityRefs,
		TraceID:             req.TraceID,
		IdempotencyKey:      req.IdempotencyKey,
		ActingAsPrincipalID: req.Actor.ActingAs,
	})
	if err != nil {
		var needsClarification *governorerrors.NeedsClarificationError
		if stderrors.As(err, &needsClarification) {
			writeJSON(w, http.StatusOK, toolCallResponse{
				Status:   "needs_clarification",
				Question: needsClarification.Question,
			})
			return
		}
		writeError(w, statusForError(err), err)
		return
	}

	resp := toolCallResponse{
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

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusForError reshapes the orchestrator's closed error taxonomy into an
// HTTP status for the adapter's own response, independent of the gateway's
// mapping (the adapter is not mounted behind gateway/httpapi).
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
