// Package orchestrator wires the envelope state machine, policy engine,
// guardrail engine, approval service, ledger, and cartridge registry into
// the four lifecycle operations spec.md §4.4 describes: ResolveAndPropose,
// RespondToApproval, ExecuteApproved, and RequestUndo. It is the only
// package that mutates an Envelope's stored state.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"governor/approval"
	"governor/canon"
	"governor/cartridge"
	governorerrors "governor/errors"
	"governor/envelope"
	"governor/guardrail"
	"governor/ledger"
	"governor/observability/metrics"
	"governor/policy"
	"governor/schema"
	"governor/storage"
)

// recentHistoryLimit bounds how many of a principal's recent envelopes feed
// the composite-risk window; spec.md §4.2's composite adjustment only cares
// about activity inside guardrail.compositeWindow, and this is comfortably
// above what any realistic window could hold.
const recentHistoryLimit = 50

// undoHorizon is how long after execution an UndoRecipe remains usable,
// absent a cartridge-specific override on the recipe itself.
const undoHorizon = 24 * time.Hour

// Outcome is the caller-facing result of a lifecycle operation.
type Outcome string

const (
	OutcomeExecuted           Outcome = "executed"
	OutcomeQueued             Outcome = "queued"
	OutcomePendingApproval    Outcome = "pending_approval"
	OutcomeDenied             Outcome = "denied"
	OutcomeNeedsClarification Outcome = "needs_clarification"
	OutcomeRejected           Outcome = "rejected"
	OutcomeFailed             Outcome = "failed"
)

// Result is the shared return shape of every lifecycle operation. Only the
// fields relevant to the operation and outcome are populated.
type Result struct {
	Outcome         Outcome
	EnvelopeID      string
	EnvelopeVersion uint64
	ApprovalRequest *schema.ApprovalRequest
	ExecutionResult *schema.ExecutionResult
	Explanation     string
	Question        string
}

// Orchestrator composes the runtime's subsystems behind the four lifecycle
// operations. Construct with New; the zero value is not usable.
type Orchestrator struct {
	envelopes  storage.EnvelopeStore
	identities storage.IdentityStore
	policies   storage.PolicyStore
	ledger     *ledger.Ledger
	guardrail  *guardrail.Engine
	policy     *policy.Engine
	approvals  *approval.Service
	cartridges *cartridge.Registry
	queue      ExecutionQueue
	idem       *idempotency
	now        func() time.Time
	metrics    *metrics.Registry
}

// New constructs an Orchestrator from its already-built subsystems.
func New(
	envelopes storage.EnvelopeStore,
	identities storage.IdentityStore,
	policies storage.PolicyStore,
	ledgerSvc *ledger.Ledger,
	guardrailEngine *guardrail.Engine,
	policyEngine *policy.Engine,
	approvals *approval.Service,
	cartridges *cartridge.Registry,
	queue ExecutionQueue,
	idemStore storage.IdempotencyStore,
) *Orchestrator {
	return &Orchestrator{
		envelopes:  envelopes,
		identities: identities,
		policies:   policies,
		ledger:     ledgerSvc,
		guardrail:  guardrailEngine,
		policy:     policyEngine,
		approvals:  approvals,
		cartridges: cartridges,
		queue:      queue,
		idem:       &idempotency{store: idemStore},
		now:        time.Now,
		metrics:    metrics.Default(),
	}
}

// ResolveAndProposeInput is one agent's request to take an action.
type ResolveAndProposeInput struct {
	PrincipalID       string
	OrganizationID    string
	CartridgeID       string
	ActionType        string
	Parameters        map[string]interface{}
	EntityRefs        []string
	TraceID           string
	IdempotencyKey    string
	EmergencyOverride bool
	// ActingAsPrincipalID is set when the caller is exercising delegated
	// authority distinct from PrincipalID.
	ActingAsPrincipalID string
}

// ResolveAndPropose runs the full interpret → resolve → propose → evaluate
// pipeline described in spec.md §4.4.
func (o *Orchestrator) ResolveAndPropose(ctx context.Context, in ResolveAndProposeInput) (*Result, error) {
	return run(ctx, o.idem, in.IdempotencyKey, func() (*Result, error) {
		return o.resolveAndPropose(ctx, in)
	})
}

func (o *Orchestrator) resolveAndPropose(ctx context.Context, in ResolveAndProposeInput) (*Result, error) {
	identity, err := o.identities.Get(ctx, in.PrincipalID)
	if err != nil {
		return nil, err
	}

	c, err := o.cartridges.Get(in.CartridgeID)
	if err != nil {
		return nil, err
	}

	resolved, question, needsClarification := o.resolveEntities(ctx, c, in.EntityRefs)
	if needsClarification {
		return &Result{Outcome: OutcomeNeedsClarification, Question: question}, nil
	}

	now := o.now()
	proposal := schema.Proposal{ActionType: in.ActionType, Parameters: in.Parameters, Confidence: 1}
	env := &schema.Envelope{
		ID:               canon.NewID("env"),
		Version:          0,
		Proposals:        []schema.Proposal{proposal},
		ResolvedEntities: resolved,
		Status:           schema.StatusProposed,
		CreatedAt:        now,
		UpdatedAt:        now,
		TraceID:          in.TraceID,
		PrincipalID:      in.PrincipalID,
		OrganizationID:   in.OrganizationID,
		CartridgeID:      in.CartridgeID,
	}
	if err := o.envelopes.Create(ctx, env); err != nil {
		return nil, err
	}
	if err := o.audit(ctx, schema.EventActionProposed, env, in.PrincipalID, "proposal created", nil); err != nil {
		return nil, err
	}

	effectiveParameters, err := o.cartridges.EnrichContext(ctx, in.CartridgeID, in.ActionType, in.Parameters)
	if err != nil {
		return nil, err
	}
	proposal.Parameters = effectiveParameters
	env.Proposals[0] = proposal
	if err := o.audit(ctx, schema.EventActionEnriched, env, in.PrincipalID, "context enriched", nil); err != nil {
		return nil, err
	}

	return o.evaluateAndBranch(ctx, env, c, *identity, proposal, in.EmergencyOverride, in.ActingAsPrincipalID)
}

// SimulateInput is a caller's dry-run request: the same shape as
// ResolveAndProposeInput minus the fields that only matter once an envelope
// is actually created.
type SimulateInput struct {
	PrincipalID         string
	OrganizationID      string
	CartridgeID         string
	ActionType          string
	Parameters          map[string]interface{}
	EntityRefs          []string
	ActingAsPrincipalID string
}

// Simulate runs the same assembly ResolveAndPropose does — resolve
// entities, enrich context, gather risk/guardrail/composite inputs — but
// calls policy.Engine.Simulate instead of Evaluate and never creates an
// envelope, never writes to the ledger, and never mutates guardrail state.
// It is the read-only dry-run mode spec.md §4.4 describes.
func (o *Orchestrator) Simulate(ctx context.Context, in SimulateInput) (*schema.DecisionTrace, error) {
	identity, err := o.identities.Get(ctx, in.PrincipalID)
	if err != nil {
		return nil, err
	}
	c, err := o.cartridges.Get(in.CartridgeID)
	if err != nil {
		return nil, err
	}
	resolved, question, needsClarification := o.resolveEntities(ctx, c, in.EntityRefs)
	if needsClarification {
		return nil, &governorerrors.NeedsClarificationError{Question: question}
	}
	effectiveParameters, err := o.cartridges.EnrichContext(ctx, in.CartridgeID, in.ActionType, in.Parameters)
	if err != nil {
		return nil, err
	}
	proposal := schema.Proposal{ActionType: in.ActionType, Parameters: effectiveParameters, Confidence: 1}

	riskInput, err := c.GetRiskInput(ctx, proposal.ActionType, proposal.Parameters)
	if err != nil {
		return nil, err
	}
	guardrails, err := c.GetGuardrails(ctx)
	if err != nil {
		return nil, err
	}
	composite, err := o.buildCompositeContext(ctx, in.PrincipalID)
	if err != nil {
		return nil, err
	}
	activePolicies, err := o.policies.ListActive(ctx, in.OrganizationID, in.CartridgeID)
	if err != nil {
		return nil, err
	}

	return o.policy.Simulate(ctx, policy.EvaluateInput{
		Proposal:            proposal,
		ResolvedEntities:    resolved,
		Identity:            *identity,
		CartridgeID:         in.CartridgeID,
		CartridgeRiskInput:  riskInput,
		CartridgeGuardrails: guardrails,
		CompositeContext:    composite,
		Policies:            activePolicies,
		Scope:               in.OrganizationID,
		ActingAsPrincipalID: in.ActingAsPrincipalID,
	})
}

// resolveEntities resolves every entity reference through the cartridge's
// optional EntityResolver, short-circuiting to a clarification question the
// first time a reference resolves ambiguously. A reference the cartridge
// cannot resolve at all (not_found) is left for the policy pipeline's
// RESOLVER_AMBIGUITY check to deny, since "not found" is not recoverable by
// asking the caller a question the way "ambiguous" is.
func (o *Orchestrator) resolveEntities(ctx context.Context, c cartridge.Cartridge, refs []string) ([]schema.ResolvedEntity, string, bool) {
	resolver, ok := c.(cartridge.EntityResolver)
	if !ok || len(refs) == 0 {
		resolved := make([]schema.ResolvedEntity, 0, len(refs))
		for _, ref := range refs {
			resolved = append(resolved, schema.ResolvedEntity{InputRef: ref, Status: schema.ResolutionNotFound})
		}
		return resolved, "", false
	}

	resolved := make([]schema.ResolvedEntity, 0, len(refs))
	for _, ref := range refs {
		re, err := resolver.ResolveEntity(ctx, ref)
		if err != nil {
			resolved = append(resolved, schema.ResolvedEntity{InputRef: ref, Status: schema.ResolutionNotFound})
			continue
		}
		if re.Status == schema.ResolutionAmbiguous {
			question := fmt.Sprintf("which %q did you mean?", ref)
			if len(re.Alternatives) > 0 {
				question = fmt.Sprintf("%q is ambiguous: found %d candidates, which one did you mean?", ref, len(re.Alternatives))
			}
			return nil, question, true
		}
		resolved = append(resolved, re)
	}
	return resolved, "", false
}

// evaluateAndBranch runs the policy pipeline against env's current proposal
// and transitions the envelope according to the resulting decision, per
// spec.md §4.4's branching table. It is shared by ResolveAndPropose and the
// patch path of RespondToApproval.
func (o *Orchestrator) evaluateAndBranch(ctx context.Context, env *schema.Envelope, c cartridge.Cartridge, identity schema.IdentitySpec, proposal schema.Proposal, emergencyOverride bool, actingAs string) (*Result, error) {
	trace, guardrails, err := o.evaluate(ctx, env, c, identity, proposal, emergencyOverride, actingAs)
	if err != nil {
		return nil, err
	}
	return o.branch(ctx, env, c, identity, proposal, trace, guardrails, emergencyOverride)
}

// evaluate runs the policy pipeline against proposal and appends the
// resulting trace to env, without deciding the envelope's next transition.
// Split out from evaluateAndBranch so repropose can inspect the re-evaluated
// trace before deciding whether the patch needs a fresh approval.
func (o *Orchestrator) evaluate(ctx context.Context, env *schema.Envelope, c cartridge.Cartridge, identity schema.IdentitySpec, proposal schema.Proposal, emergencyOverride bool, actingAs string) (*schema.DecisionTrace, cartridge.Guardrails, error) {
	riskInput, err := c.GetRiskInput(ctx, proposal.ActionType, proposal.Parameters)
	if err != nil {
		return nil, cartridge.Guardrails{}, err
	}
	guardrails, err := c.GetGuardrails(ctx)
	if err != nil {
		return nil, cartridge.Guardrails{}, err
	}
	composite, err := o.buildCompositeContext(ctx, env.PrincipalID)
	if err != nil {
		return nil, cartridge.Guardrails{}, err
	}
	activePolicies, err := o.policies.ListActive(ctx, env.OrganizationID, env.CartridgeID)
	if err != nil {
		return nil, cartridge.Guardrails{}, err
	}

	trace, err := o.policy.Evaluate(ctx, policy.EvaluateInput{
		Proposal:            proposal,
		ResolvedEntities:    env.ResolvedEntities,
		Identity:            identity,
		CartridgeID:         env.CartridgeID,
		CartridgeRiskInput:  riskInput,
		CartridgeGuardrails: guardrails,
		CompositeContext:    composite,
		Policies:            activePolicies,
		Scope:               env.OrganizationID,
		ActingAsPrincipalID: actingAs,
	})
	if err != nil {
		return nil, cartridge.Guardrails{}, err
	}
	if emergencyOverride {
		trace.GovernanceNote = "emergency_override"
	}
	env.DecisionTraces = append(env.DecisionTraces, *trace)
	o.metrics.RecordPolicyDecision(env.CartridgeID, string(trace.FinalDecision))
	o.metrics.RecordRiskScore(string(trace.Risk.Category), trace.Risk.Raw)
	return trace, guardrails, nil
}

// branch transitions env according to an already-computed trace, per
// spec.md §4.4's branching table.
func (o *Orchestrator) branch(ctx context.Context, env *schema.Envelope, c cartridge.Cartridge, identity schema.IdentitySpec, proposal schema.Proposal, trace *schema.DecisionTrace, guardrails cartridge.Guardrails, emergencyOverride bool) (*Result, error) {
	switch {
	case trace.FinalDecision == schema.DecisionDeny:
		return o.denyEnvelope(ctx, env, trace)
	case trace.ApprovalRequired == schema.ApprovalNone || emergencyOverride:
		return o.queueEnvelope(ctx, env, trace, guardrails, proposal.ActionType)
	default:
		return o.requestApproval(ctx, env, c, identity, trace, proposal)
	}
}

func (o *Orchestrator) denyEnvelope(ctx context.Context, env *schema.Envelope, trace *schema.DecisionTrace) (*Result, error) {
	expected := env.Version
	if err := envelope.Transition(env, schema.StatusDenied); err != nil {
		return nil, err
	}
	env.UpdatedAt = o.now()
	if err := o.envelopes.Update(ctx, env, expected); err != nil {
		return nil, err
	}
	if err := o.audit(ctx, schema.EventActionDenied, env, env.PrincipalID, trace.Explanation, traceSnapshot(trace)); err != nil {
		return nil, err
	}
	o.metrics.RecordProposal(env.CartridgeID, "denied")
	return &Result{Outcome: OutcomeDenied, EnvelopeID: env.ID, EnvelopeVersion: env.Version, Explanation: trace.Explanation}, nil
}

func (o *Orchestrator) queueEnvelope(ctx context.Context, env *schema.Envelope, trace *schema.DecisionTrace, guardrails cartridge.Guardrails, actionType string) (*Result, error) {
	expected := env.Version
	if err := envelope.Transition(env, schema.StatusQueued); err != nil {
		return nil, err
	}
	env.UpdatedAt = o.now()
	if err := o.envelopes.Update(ctx, env, expected); err != nil {
		return nil, err
	}
	if err := o.audit(ctx, schema.EventActionQueued, env, env.PrincipalID, trace.Explanation, traceSnapshot(trace)); err != nil {
		return nil, err
	}
	if err := o.commitGuardrailState(ctx, env, guardrails, actionType); err != nil {
		return nil, err
	}
	if err := o.queue.Enqueue(ctx, ExecutionTask{
		EnvelopeID:          env.ID,
		ActionType:          actionType,
		EffectiveParameters: env.Proposals[len(env.Proposals)-1].Parameters,
		PrincipalID:         env.PrincipalID,
		OrganizationID:      env.OrganizationID,
		TraceID:             env.TraceID,
	}); err != nil {
		return nil, err
	}
	o.metrics.RecordProposal(env.CartridgeID, "auto_queued")
	return &Result{Outcome: OutcomeQueued, EnvelopeID: env.ID, EnvelopeVersion: env.Version}, nil
}

func (o *Orchestrator) requestApproval(ctx context.Context, env *schema.Envelope, c cartridge.Cartridge, identity schema.IdentitySpec, trace *schema.DecisionTrace, proposal schema.Proposal) (*Result, error) {
	expected := env.Version
	if err := envelope.Transition(env, schema.StatusEvaluating); err != nil {
		return nil, err
	}
	if err := envelope.Transition(env, schema.StatusPendingApproval); err != nil {
		return nil, err
	}
	env.UpdatedAt = o.now()

	contextSnapshot := map[string]interface{}{}
	if capturer, ok := c.(cartridge.SnapshotCapturer); ok {
		snap, err := capturer.CaptureSnapshot(ctx, proposal.ActionType, proposal.Parameters)
		if err != nil {
			return nil, err
		}
		contextSnapshot = snap
	}
	identitySnapshot, err := toMap(identity)
	if err != nil {
		return nil, err
	}

	proposalIndex := len(env.Proposals) - 1
	actionID := canon.ActionID(env.ID, proposalIndex)
	bindingHash, err := approval.ComputeBindingHash(env.ID, env.Version, actionID, proposal.Parameters, *trace, contextSnapshot)
	if err != nil {
		return nil, err
	}

	req := &schema.ApprovalRequest{
		ID:              canon.NewID("approval"),
		ActionID:        actionID,
		EnvelopeID:      env.ID,
		EnvelopeVersion: env.Version,
		ProposalIndex:   proposalIndex,
		Summary:         trace.Explanation,
		RiskCategory:    trace.Risk.Category,
		BindingHash:     bindingHash,
		Evidence: schema.EvidenceBundle{
			DecisionTrace:    *trace,
			ContextSnapshot:  contextSnapshot,
			IdentitySnapshot: identitySnapshot,
		},
		Approvers:       delegatedApproverIDs(identity),
		ExpiresAt:       o.now().Add(approvalWindow(trace.ApprovalRequired)),
		ExpiredBehavior: schema.ExpiredBehaviorDeny,
	}
	if err := o.approvals.Create(ctx, req); err != nil {
		return nil, err
	}
	env.ApprovalRequests = append(env.ApprovalRequests, *req)

	if err := o.envelopes.Update(ctx, env, expected); err != nil {
		return nil, err
	}
	if err := o.audit(ctx, schema.EventActionEvaluated, env, env.PrincipalID, trace.Explanation, traceSnapshot(trace)); err != nil {
		return nil, err
	}
	o.metrics.RecordProposal(env.CartridgeID, "pending_approval")
	return &Result{Outcome: OutcomePendingApproval, EnvelopeID: env.ID, EnvelopeVersion: env.Version, ApprovalRequest: req}, nil
}

// approvalWindow picks a default expiry horizon proportional to how
// consequential the gated action is; a mandatory-approval action gets a
// longer window to find the right approver than a standard one.
func approvalWindow(requirement schema.ApprovalRequirement) time.Duration {
	switch requirement {
	case schema.ApprovalMandatory:
		return 4 * time.Hour
	case schema.ApprovalElevated:
		return 2 * time.Hour
	default:
		return 30 * time.Minute
	}
}

func (o *Orchestrator) buildCompositeContext(ctx context.Context, principalID string) (schema.CompositeContext, error) {
	history, err := o.envelopes.ListByPrincipal(ctx, principalID, recentHistoryLimit)
	if err != nil {
		return schema.CompositeContext{}, err
	}
	observations := make([]guardrail.ActionObservation, 0, len(history))
	for _, past := range history {
		var dollars float64
		for _, res := range past.ExecutionResults {
			dollars += res.DollarsExecuted
		}
		var targetEntity string
		if len(past.ResolvedEntities) > 0 && past.ResolvedEntities[0].Entity != nil {
			targetEntity = past.ResolvedEntities[0].Entity.ID
		}
		observations = append(observations, guardrail.ActionObservation{
			OccurredAt:    past.CreatedAt,
			DollarsAtRisk: dollars,
			TargetEntity:  targetEntity,
			CartridgeID:   past.CartridgeID,
		})
	}
	count, windowMs, exposure, entities, cartridges := guardrail.CompositeInput(o.now(), observations)
	return schema.CompositeContext{
		RecentActionCount:      count,
		WindowMs:               windowMs,
		CumulativeExposure:     exposure,
		DistinctTargetEntities: entities,
		DistinctCartridges:     cartridges,
	}, nil
}

// commitGuardrailState increments the rate-limit/cooldown counters the
// policy pipeline only read from, per spec.md §4.2 step 4-5: the commit only
// happens once a proposal actually clears to execution, never during a
// Simulate call or a denied evaluation.
func (o *Orchestrator) commitGuardrailState(ctx context.Context, env *schema.Envelope, guardrails cartridge.Guardrails, actionType string) error {
	for _, rule := range guardrails.RateLimits {
		if rule.ActionType != actionType {
			continue
		}
		if err := o.guardrail.CommitRateLimit(ctx, env.OrganizationID, env.PrincipalID, actionType, rule.Window); err != nil {
			return err
		}
	}
	for _, rule := range guardrails.Cooldowns {
		if rule.ActionType != actionType {
			continue
		}
		if err := o.guardrail.CommitCooldown(ctx, actionType, env.OrganizationID); err != nil {
			return err
		}
	}
	return nil
}

// RespondToApprovalInput is a human approver's decision on a pending
// approval request.
type RespondToApprovalInput struct {
	ApprovalID     string
	ApproverID     string
	BindingHash    string
	Decision       schema.ApprovalStatus
	PatchValue     map[string]interface{}
	IdempotencyKey string
}

// RespondToApproval records in's decision and, on approval, enqueues
// execution; on a patch, it re-runs the policy pipeline against the patched
// parameters before deciding whether a fresh approval is still required.
func (o *Orchestrator) RespondToApproval(ctx context.Context, in RespondToApprovalInput) (*Result, error) {
	return run(ctx, o.idem, in.IdempotencyKey, func() (*Result, error) {
		return o.respondToApproval(ctx, in)
	})
}

func (o *Orchestrator) respondToApproval(ctx context.Context, in RespondToApprovalInput) (*Result, error) {
	req, err := o.approvals.Respond(ctx, approval.ResponseInput{
		ApprovalID:  in.ApprovalID,
		ApproverID:  in.ApproverID,
		BindingHash: in.BindingHash,
		Decision:    in.Decision,
		PatchValue:  in.PatchValue,
	})
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case schema.ApprovalStatusPending:
		// Quorum not yet met; nothing else to do until more votes arrive.
		return &Result{Outcome: OutcomePendingApproval, EnvelopeID: req.EnvelopeID, ApprovalRequest: req}, nil
	case schema.ApprovalStatusRejected:
		return o.rejectFromApproval(ctx, req)
	case schema.ApprovalStatusPatched:
		return o.repropose(ctx, req)
	case schema.ApprovalStatusApproved:
		return o.approveAndQueue(ctx, req)
	default:
		return nil, fmt.Errorf("orchestrator: unexpected approval status %q", req.Status)
	}
}

func (o *Orchestrator) rejectFromApproval(ctx context.Context, req *schema.ApprovalRequest) (*Result, error) {
	env, err := o.envelopes.Get(ctx, req.EnvelopeID)
	if err != nil {
		return nil, err
	}
	expected := env.Version
	if err := envelope.Transition(env, schema.StatusDenied); err != nil {
		return nil, err
	}
	env.UpdatedAt = o.now()
	if err := o.envelopes.Update(ctx, env, expected); err != nil {
		return nil, err
	}
	if err := o.audit(ctx, schema.EventActionRejected, env, req.RespondedBy, "approval rejected", nil); err != nil {
		return nil, err
	}
	o.metrics.RecordApprovalResolution(env.CartridgeID, "rejected", o.approvalWait(req))
	return &Result{Outcome: OutcomeRejected, EnvelopeID: env.ID, EnvelopeVersion: env.Version}, nil
}

// approvalWait computes how long an approval request sat pending before it
// was resolved, for the approval wait-time metric.
func (o *Orchestrator) approvalWait(req *schema.ApprovalRequest) time.Duration {
	if req.RespondedAt == nil {
		return 0
	}
	return req.RespondedAt.Sub(req.CreatedAt)
}

// repropose applies a patch's edited parameters to the envelope's current
// proposal and re-runs the policy pipeline, since a patch can change the
// risk category or approval requirement computed for the original proposal.
// Per spec.md §4.3, a patch that does not raise the approval bar above what
// the original request already cleared commits straight through as the
// already-granted approval rather than minting a second pending request.
func (o *Orchestrator) repropose(ctx context.Context, req *schema.ApprovalRequest) (*Result, error) {
	env, err := o.envelopes.Get(ctx, req.EnvelopeID)
	if err != nil {
		return nil, err
	}
	identity, err := o.identities.Get(ctx, env.PrincipalID)
	if err != nil {
		return nil, err
	}
	c, err := o.cartridges.Get(env.CartridgeID)
	if err != nil {
		return nil, err
	}

	proposal := env.Proposals[req.ProposalIndex]
	for k, v := range req.PatchValue {
		proposal.Parameters[k] = v
	}
	env.Proposals[req.ProposalIndex] = proposal

	if err := o.audit(ctx, schema.EventActionPatched, env, req.RespondedBy, "approval patched, re-evaluating", nil); err != nil {
		return nil, err
	}

	trace, guardrails, err := o.evaluate(ctx, env, c, *identity, proposal, false, "")
	if err != nil {
		return nil, err
	}

	originalRequirement := req.Evidence.DecisionTrace.ApprovalRequired
	if trace.FinalDecision != schema.DecisionDeny && trace.ApprovalRequired.Rank() <= originalRequirement.Rank() {
		return o.commitPatchedApproval(ctx, env, req, trace, guardrails)
	}
	return o.branch(ctx, env, c, *identity, proposal, trace, guardrails, false)
}

// commitPatchedApproval queues a patched proposal for execution directly,
// treating the already-resolved approval as still covering the patch since
// its approval requirement did not increase.
func (o *Orchestrator) commitPatchedApproval(ctx context.Context, env *schema.Envelope, req *schema.ApprovalRequest, trace *schema.DecisionTrace, guardrails cartridge.Guardrails) (*Result, error) {
	expected := env.Version
	if err := envelope.Transition(env, schema.StatusApproved); err != nil {
		return nil, err
	}
	if err := envelope.Transition(env, schema.StatusQueued); err != nil {
		return nil, err
	}
	env.UpdatedAt = o.now()
	if err := o.envelopes.Update(ctx, env, expected); err != nil {
		return nil, err
	}
	actionType := env.Proposals[req.ProposalIndex].ActionType
	if err := o.audit(ctx, schema.EventActionQueued, env, req.RespondedBy, "patched approval re-evaluated within original requirement, queued for execution", traceSnapshot(trace)); err != nil {
		return nil, err
	}
	if err := o.commitGuardrailState(ctx, env, guardrails, actionType); err != nil {
		return nil, err
	}
	if err := o.queue.Enqueue(ctx, ExecutionTask{
		EnvelopeID:          env.ID,
		ActionType:          actionType,
		EffectiveParameters: env.Proposals[req.ProposalIndex].Parameters,
		PrincipalID:         env.PrincipalID,
		OrganizationID:      env.OrganizationID,
		TraceID:             env.TraceID,
	}); err != nil {
		return nil, err
	}
	o.metrics.RecordApprovalResolution(env.CartridgeID, "patched", o.approvalWait(req))
	return &Result{Outcome: OutcomeQueued, EnvelopeID: env.ID, EnvelopeVersion: env.Version}, nil
}

func (o *Orchestrator) approveAndQueue(ctx context.Context, req *schema.ApprovalRequest) (*Result, error) {
	env, err := o.envelopes.Get(ctx, req.EnvelopeID)
	if err != nil {
		return nil, err
	}
	c, err := o.cartridges.Get(env.CartridgeID)
	if err != nil {
		return nil, err
	}
	guardrails, err := c.GetGuardrails(ctx)
	if err != nil {
		return nil, err
	}

	expected := env.Version
	if err := envelope.Transition(env, schema.StatusApproved); err != nil {
		return nil, err
	}
	if err := envelope.Transition(env, schema.StatusQueued); err != nil {
		return nil, err
	}
	env.UpdatedAt = o.now()
	if err := o.envelopes.Update(ctx, env, expected); err != nil {
		return nil, err
	}
	actionType := env.Proposals[req.ProposalIndex].ActionType
	if err := o.audit(ctx, schema.EventActionApproved, env, req.RespondedBy, "approval granted", nil); err != nil {
		return nil, err
	}
	if err := o.audit(ctx, schema.EventActionQueued, env, req.RespondedBy, "queued for execution", nil); err != nil {
		return nil, err
	}
	if err := o.commitGuardrailState(ctx, env, guardrails, actionType); err != nil {
		return nil, err
	}
	if err := o.queue.Enqueue(ctx, ExecutionTask{
		EnvelopeID:          env.ID,
		ActionType:          actionType,
		EffectiveParameters: env.Proposals[req.ProposalIndex].Parameters,
		PrincipalID:         env.PrincipalID,
		OrganizationID:      env.OrganizationID,
		TraceID:             env.TraceID,
	}); err != nil {
		return nil, err
	}
	o.metrics.RecordApprovalResolution(env.CartridgeID, "approved", o.approvalWait(req))
	return &Result{Outcome: OutcomeQueued, EnvelopeID: env.ID, EnvelopeVersion: env.Version}, nil
}

// ExecuteApproved runs the cartridge's Execute call for an envelope already
// in queued or approved status, and records the outcome, per spec.md §4.4.
func (o *Orchestrator) ExecuteApproved(ctx context.Context, envelopeID string) (*Result, error) {
	return run(ctx, o.idem, "", func() (*Result, error) {
		return o.executeApproved(ctx, envelopeID)
	})
}

func (o *Orchestrator) executeApproved(ctx context.Context, envelopeID string) (*Result, error) {
	env, err := o.envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if env.Status == schema.StatusApproved {
		expected := env.Version
		if err := envelope.Transition(env, schema.StatusQueued); err != nil {
			return nil, err
		}
		env.UpdatedAt = o.now()
		if err := o.envelopes.Update(ctx, env, expected); err != nil {
			return nil, err
		}
	}
	if env.Status != schema.StatusQueued {
		return nil, fmt.Errorf("%w: envelope %s is %s, not queued or approved", governorerrors.ErrInvalidTransition, env.ID, env.Status)
	}

	proposalIndex := len(env.Proposals) - 1
	proposal := env.Proposals[proposalIndex]

	expected := env.Version
	if err := envelope.Transition(env, schema.StatusExecuting); err != nil {
		return nil, err
	}
	env.UpdatedAt = o.now()
	if err := o.envelopes.Update(ctx, env, expected); err != nil {
		return nil, err
	}

	evaluationContext := map[string]interface{}{"envelopeId": env.ID, "principalId": env.PrincipalID}
	outcome, execErr := o.cartridges.Execute(ctx, env.CartridgeID, proposal.ActionType, proposal.Parameters, evaluationContext)

	completedAt := o.now()
	result := schema.ExecutionResult{
		ProposalIndex:   proposalIndex,
		Success:         execErr == nil && outcome.Success,
		Summary:         outcome.Summary,
		ExternalRefs:    outcome.ExternalRefs,
		PartialFailures: outcome.PartialFailures,
		UndoRecipe:      outcome.UndoRecipe,
		DollarsExecuted: outcome.DollarsExecuted,
		CompletedAt:     completedAt,
	}
	env.ExecutionResults = append(env.ExecutionResults, result)

	expected = env.Version
	if result.Success {
		if err := envelope.Transition(env, schema.StatusExecuted); err != nil {
			return nil, err
		}
		if result.UndoRecipe != nil {
			recipe := *result.UndoRecipe
			if recipe.ExpiresAt.IsZero() {
				recipe.ExpiresAt = completedAt.Add(undoHorizon)
			}
			env.UndoRecipe = &recipe
		}
	} else {
		if execErr == nil {
			execErr = fmt.Errorf("cartridge reported failure: %s", result.Summary)
		}
		if err := envelope.Transition(env, schema.StatusFailed); err != nil {
			return nil, err
		}
	}
	env.UpdatedAt = completedAt
	if err := o.envelopes.Update(ctx, env, expected); err != nil {
		return nil, err
	}

	if result.DollarsExecuted > 0 {
		if err := o.guardrail.RecordSpend(ctx, env.PrincipalID, env.CartridgeID, result.DollarsExecuted); err != nil {
			return nil, err
		}
	}
	if err := o.guardrail.RecordCompetence(ctx, env.PrincipalID, proposal.ActionType, result.Success); err != nil {
		return nil, err
	}

	if result.Success {
		if err := o.audit(ctx, schema.EventActionExecuted, env, env.PrincipalID, result.Summary, executionSnapshot(result)); err != nil {
			return nil, err
		}
		o.metrics.RecordProposal(env.CartridgeID, "executed")
		return &Result{Outcome: OutcomeExecuted, EnvelopeID: env.ID, EnvelopeVersion: env.Version, ExecutionResult: &result}, nil
	}
	if err := o.audit(ctx, schema.EventActionFailed, env, env.PrincipalID, result.Summary, executionSnapshot(result)); err != nil {
		return nil, err
	}
	o.metrics.RecordProposal(env.CartridgeID, "failed")
	return &Result{Outcome: OutcomeFailed, EnvelopeID: env.ID, EnvelopeVersion: env.Version, ExecutionResult: &result}, nil
}

// RequestUndo re-proposes an executed envelope's stored UndoRecipe as a new
// envelope chained to the original via ParentEnvelopeID, per spec.md §4.4.
// The reverse action runs through the full evaluation pipeline: an undo is
// never auto-approved just because the forward action was.
func (o *Orchestrator) RequestUndo(ctx context.Context, envelopeID, idempotencyKey string) (*Result, error) {
	return run(ctx, o.idem, idempotencyKey, func() (*Result, error) {
		return o.requestUndo(ctx, envelopeID)
	})
}

func (o *Orchestrator) requestUndo(ctx context.Context, envelopeID string) (*Result, error) {
	env, err := o.envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if env.UndoRecipe == nil {
		return nil, &governorerrors.ValidationError{Field: "envelopeId", Reason: "no undo recipe recorded for this envelope"}
	}
	if o.now().After(env.UndoRecipe.ExpiresAt) {
		return nil, &governorerrors.ValidationError{Field: "envelopeId", Reason: "undo recipe has expired"}
	}

	if err := o.audit(ctx, schema.EventUndoRequested, env, env.PrincipalID, "undo requested", nil); err != nil {
		return nil, err
	}

	entityRefs := make([]string, 0, len(env.ResolvedEntities))
	for _, re := range env.ResolvedEntities {
		entityRefs = append(entityRefs, re.InputRef)
	}

	result, err := o.resolveAndPropose(ctx, ResolveAndProposeInput{
		PrincipalID:    env.PrincipalID,
		OrganizationID: env.OrganizationID,
		CartridgeID:    env.CartridgeID,
		ActionType:     env.UndoRecipe.ReverseActionType,
		Parameters:     env.UndoRecipe.ReverseParameters,
		EntityRefs:     entityRefs,
		TraceID:        env.TraceID,
	})
	if err != nil {
		return nil, err
	}

	undoEnv, err := o.envelopes.Get(ctx, result.EnvelopeID)
	if err == nil {
		expected := undoEnv.Version
		undoEnv.ParentEnvelopeID = env.ID
		undoEnv.UpdatedAt = o.now()
		_ = o.envelopes.Update(ctx, undoEnv, expected)
	}
	return result, nil
}

func (o *Orchestrator) audit(ctx context.Context, eventType schema.EventType, env *schema.Envelope, actorID, summary string, snapshot map[string]interface{}) error {
	entry, err := o.ledger.Record(ctx, ledger.RecordInput{
		EventType:       eventType,
		ActorType:       "principal",
		ActorID:         actorID,
		EntityType:      "envelope",
		EntityID:        env.ID,
		VisibilityLevel: schema.VisibilityOrg,
		Summary:         summary,
		Snapshot:        snapshot,
		EnvelopeID:      env.ID,
		OrganizationID:  env.OrganizationID,
	})
	o.metrics.RecordLedgerAppend(string(eventType), err)
	if err != nil {
		return err
	}
	env.AuditEntryIDs = append(env.AuditEntryIDs, entry.ID)
	return nil
}

func traceSnapshot(trace *schema.DecisionTrace) map[string]interface{} {
	return map[string]interface{}{
		"finalDecision":    string(trace.FinalDecision),
		"approvalRequired": string(trace.ApprovalRequired),
		"riskCategory":     string(trace.Risk.Category),
		"riskRaw":          trace.Risk.Raw,
		"governanceNote":   trace.GovernanceNote,
	}
}

func executionSnapshot(result schema.ExecutionResult) map[string]interface{} {
	return map[string]interface{}{
		"success":         result.Success,
		"dollarsExecuted": result.DollarsExecuted,
		"externalRefs":    result.ExternalRefs,
	}
}

// toMap round-trips v through JSON into a generic map, so a typed struct
// (like schema.IdentitySpec) can sit inside an EvidenceBundle's
// map[string]interface{} fields without this package hand-listing them.
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

func delegatedApproverIDs(identity schema.IdentitySpec) []string {
	ids := make([]string, 0, len(identity.DelegatedApprovers))
	for _, d := range identity.DelegatedApprovers {
		ids = append(ids, d.PrincipalID)
	}
	return ids
}
