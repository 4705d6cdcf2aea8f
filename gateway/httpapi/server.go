// Package httpapi is the HTTP front-end for the governance runtime: a chi
// router wiring /api/execute, /api/simulate, /api/approvals*, /api/policies,
// /api/audit*, and /api/health/deep onto the orchestrator, policy engine,
// and ledger, per spec.md §6.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"governor/cartridge"
	governorerrors "governor/errors"
	"governor/gateway/middleware"
	"governor/ledger"
	"governor/orchestrator"
	"governor/schema"
	"governor/storage"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxRequestBody       = 1 << 20 // 1 MiB
)

// Server is the HTTP front-end for the governance runtime.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	ledger       *ledger.Ledger
	approvals    storage.ApprovalStore
	policies     storage.PolicyStore
	cartridges   *cartridge.Registry
	nowFn        func() time.Time
}

func NewServer(orch *orchestrator.Orchestrator, ledgerSvc *ledger.Ledger, approvals storage.ApprovalStore, policies storage.PolicyStore, cartridges *cartridge.Registry) *Server {
	if orch == nil {
		panic("orchestrator required")
	}
	if ledgerSvc == nil {
		panic("ledger required")
	}
	return &Server{
		orchestrator: orch,
		ledger:       ledgerSvc,
		approvals:    approvals,
		policies:     policies,
		cartridges:   cartridges,
		nowFn:        time.Now,
	}
}

// Config bundles the middleware stack Router composes around the API
// routes; any nil field disables that layer.
type Config struct {
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// Router builds the chi router exposing this server's handlers, matching
// the middleware-composition shape of gateway/routes.New: CORS, then
// observability, then per-route auth and rate limiting.
func (s *Server) Router(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware("root"))
	}

	r.Get("/api/health/deep", s.handleHealthDeep)
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	// Each group carries its own rate-limit bucket (see
	// middleware.DefaultGovernanceRateLimits) since execute traffic, human
	// approval responses, and policy administration have unrelated volume
	// and blast-radius profiles.
	r.Group(func(gr chi.Router) {
		if cfg.Authenticator != nil {
			gr.Use(cfg.Authenticator.Middleware())
		}
		if cfg.RateLimiter != nil {
			gr.Use(cfg.RateLimiter.Middleware("execute"))
		}
		gr.Post("/api/execute", s.handleExecute)
		gr.Post("/api/simulate", s.handleSimulate)
		gr.Post("/api/envelopes/{id}/execute", s.handleExecuteEnvelope)
		gr.Post("/api/envelopes/{id}/undo", s.handleRequestUndo)
	})

	r.Group(func(gr chi.Router) {
		if cfg.Authenticator != nil {
			gr.Use(cfg.Authenticator.Middleware())
		}
		if cfg.RateLimiter != nil {
			gr.Use(cfg.RateLimiter.Middleware("approvals"))
		}
		gr.Get("/api/approvals", s.handleListApprovals)
		gr.Get("/api/approvals/{id}", s.handleGetApproval)
		gr.Post("/api/approvals/{id}/respond", s.handleRespondApproval)
		gr.Get("/api/audit", s.handleAuditQuery)
		gr.Get("/api/audit/verify", s.handleAuditVerify)
	})

	r.Group(func(gr chi.Router) {
		if cfg.Authenticator != nil {
			gr.Use(cfg.Authenticator.Middleware())
		}
		if cfg.RateLimiter != nil {
			gr.Use(cfg.RateLimiter.Middleware("policies"))
		}
		gr.Post("/api/policies", s.handleCreatePolicy)
		gr.Get("/api/policies/{id}", s.handleGetPolicy)
		gr.Put("/api/policies/{id}", s.handleUpdatePolicy)
		gr.Delete("/api/policies/{id}", s.handleDeletePolicy)
	})

	return r
}

func (s *Server) handleHealthDeep(w http.ResponseWriter, r *http.Request) {
	statuses := s.cartridges.HealthCheckAll(r.Context())
	healthy := true
	for _, st := range statuses {
		if !st.Healthy {
			healthy = false
			break
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"healthy": healthy, "cartridges": statuses})
}

// executeRequest is the wire shape of a POST /api/execute or /api/simulate
// body. PrincipalID/OrganizationID/ActingAsPrincipalID are read from the
// caller's authenticated context, not from the body, so a caller cannot
// forge another principal's proposal.
type executeRequest struct {
	CartridgeID string                 `json:"cartridgeId"`
	ActionType  string                 `json:"actionType"`
	Parameters  map[string]interface{} `json:"parameters"`
	EntityRefs  []string               `json:"entityRefs"`
	TraceID     string                 `json:"traceId"`
	Emergency   bool                   `json:"emergencyOverride"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, err := readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	idempotencyKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))

	result, err := s.orchestrator.ResolveAndPropose(r.Context(), orchestrator.ResolveAndProposeInput{
		PrincipalID:         principal.PrincipalID,
		OrganizationID:      principal.OrganizationID,
		CartridgeID:         req.CartridgeID,
		ActionType:          req.ActionType,
		Parameters:          req.Parameters,
		EntityRefs:          req.EntityRefs,
		TraceID:             req.TraceID,
		IdempotencyKey:      idempotencyKey,
		EmergencyOverride:   req.Emergency,
		ActingAsPrincipalID: principal.ActingAs,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	body, err := readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())

	trace, err := s.orchestrator.Simulate(r.Context(), orchestrator.SimulateInput{
		PrincipalID:         principal.PrincipalID,
		OrganizationID:      principal.OrganizationID,
		CartridgeID:         req.CartridgeID,
		ActionType:          req.ActionType,
		Parameters:          req.Parameters,
		EntityRefs:          req.EntityRefs,
		ActingAsPrincipalID: principal.ActingAs,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (s *Server) handleExecuteEnvelope(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.orchestrator.ExecuteApproved(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRequestUndo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idempotencyKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	result, err := s.orchestrator.RequestUndo(r.Context(), id, idempotencyKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	reqs, err := s.approvals.List(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := s.approvals.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type respondRequest struct {
	ApproverID  string                 `json:"approverId"`
	BindingHash string                 `json:"bindingHash"`
	Decision    schema.ApprovalStatus  `json:"decision"`
	PatchValue  map[string]interface{} `json:"patchValue,omitempty"`
}

func (s *Server) handleRespondApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req respondRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	idempotencyKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))

	result, err := s.orchestrator.RespondToApproval(r.Context(), orchestrator.RespondToApprovalInput{
		ApprovalID:     id,
		ApproverID:     req.ApproverID,
		BindingHash:    req.BindingHash,
		Decision:       req.Decision,
		PatchValue:     req.PatchValue,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	body, err := readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var policy schema.Policy
	if err := json.Unmarshal(body, &policy); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.policies.Create(r.Context(), &policy); err != nil {
		writeDomainError(w, err)
		return
	}
	s.auditPolicy(r.Context(), schema.EventPolicyCreated, &policy, "policy created")
	writeJSON(w, http.StatusCreated, policy)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	policy, err := s.policies.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := readRequestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var policy schema.Policy
	if err := json.Unmarshal(body, &policy); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	policy.ID = id
	if err := s.policies.Update(r.Context(), &policy); err != nil {
		writeDomainError(w, err)
		return
	}
	s.auditPolicy(r.Context(), schema.EventPolicyUpdated, &policy, "policy updated")
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	policy, getErr := s.policies.Get(r.Context(), id)
	if err := s.policies.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	if getErr == nil {
		s.auditPolicy(r.Context(), schema.EventPolicyDeleted, policy, "policy deleted")
	} else {
		s.auditPolicy(r.Context(), schema.EventPolicyDeleted, &schema.Policy{ID: id}, "policy deleted")
	}
	w.WriteHeader(http.StatusNoContent)
}

// auditPolicy emits a tamper-evident ledger entry for a policy mutation, per
// SPEC_FULL.md §6. Policy CRUD has no envelope to chain the entry to, so it
// is recorded against the policy itself as the entity.
func (s *Server) auditPolicy(ctx context.Context, eventType schema.EventType, policy *schema.Policy, summary string) {
	principal := middleware.PrincipalFromContext(ctx)
	snapshot, err := toMap(policy)
	if err != nil {
		slog.Default().Error("audit policy mutation: encode snapshot", "eventType", string(eventType), "policyId", policy.ID, "error", err)
		snapshot = map[string]interface{}{}
	}
	_, err = s.ledger.Record(ctx, ledger.RecordInput{
		EventType:       eventType,
		ActorType:       "principal",
		ActorID:         principal.PrincipalID,
		EntityType:      "policy",
		EntityID:        policy.ID,
		VisibilityLevel: schema.VisibilityOrg,
		Summary:         summary,
		Snapshot:        snapshot,
		OrganizationID:  policy.OrganizationID,
	})
	if err != nil {
		slog.Default().Error("audit policy mutation failed", "eventType", string(eventType), "policyId", policy.ID, "error", err)
	}
}

func toMap(v interface{}) (map[string]interface{}, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.Filter{
		EventType:  schema.EventType(q.Get("eventType")),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		EnvelopeID: q.Get("envelopeId"),
	}
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if raw := q.Get("after"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.After = parsed
		}
	}
	if raw := q.Get("before"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.Before = parsed
		}
	}
	entries, err := s.ledger.Query(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleAuditVerify runs the shallow hash-chain check by default; passing
// ?deep=true additionally validates every evidencePointer.hash against its
// stored content via ledger.DeepVerify, per spec.md §4.1.
func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	var (
		result ledger.VerifyResult
		err    error
	)
	if deep, _ := strconv.ParseBool(r.URL.Query().Get("deep")); deep {
		result, err = ledger.DeepVerify(r.Context(), s.ledger)
	} else {
		result, err = ledger.VerifyChain(r.Context(), s.ledger)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := strings.ReplaceAll(err.Error(), `"`, "'")
	_, _ = w.Write([]byte(fmt.Sprintf(`{"error":%q}`, msg)))
}

// writeDomainError maps the runtime's closed error taxonomy to its fixed
// HTTP status, per errors.go's package doc. Anything outside that taxonomy
// is sanitized to a generic 500 rather than leaking internal detail.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation     *governorerrors.ValidationError
		notFound       *governorerrors.NotFoundError
		clarification  *governorerrors.NeedsClarificationError
		forbidden      *governorerrors.ForbiddenError
		bindingMismatch *governorerrors.BindingHashMismatchError
		alreadyDecided *governorerrors.ApprovalAlreadyDecidedError
		staleVersion   *governorerrors.StaleVersionError
		ledgerAppend   *governorerrors.LedgerAppendError
		storageErr     *governorerrors.StorageError
		cartridgeErr   *governorerrors.CartridgeError
		timeoutErr     *governorerrors.TimeoutError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &clarification):
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"outcome":  "needs_clarification",
			"question": clarification.Question,
		})
	case errors.As(err, &forbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.As(err, &bindingMismatch):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &alreadyDecided):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &staleVersion):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &ledgerAppend):
		writeError(w, http.StatusInternalServerError, errors.New("audit ledger unavailable"))
	case errors.As(err, &storageErr):
		writeError(w, http.StatusInternalServerError, errors.New("storage unavailable"))
	case errors.As(err, &cartridgeErr):
		writeError(w, http.StatusBadGateway, err)
	case errors.As(err, &timeoutErr):
		writeError(w, http.StatusGatewayTimeout, err)
	case errors.Is(err, governorerrors.ErrInvalidTransition), errors.Is(err, governorerrors.ErrEnvelopeTerminal):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, governorerrors.ErrDelegationChainFailed):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}
