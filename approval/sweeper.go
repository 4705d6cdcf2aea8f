package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"governor/canon"
	"governor/schema"
	"governor/storage"
)

// defaultSweepInterval is how often the sweeper scans for expired pending
// requests when the caller does not override it.
const defaultSweepInterval = 30 * time.Second

var (
	sweepMetricsOnce sync.Once
	sweepMetrics     *expiryMetrics
)

type expiryMetrics struct {
	expired metric.Int64Counter
}

// expiryCounter lazily builds an OTel counter instrument against the
// global meter provider, falling back to a no-op meter if instrument
// creation fails, so a misconfigured exporter never breaks a sweep pass.
func expiryCounter() *expiryMetrics {
	sweepMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("governor/approval")
		counter, err := meter.Int64Counter("governor.approval.expired")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("governor/approval")
			counter, _ = fallback.Int64Counter("governor.approval.expired")
		}
		sweepMetrics = &expiryMetrics{expired: counter}
	})
	return sweepMetrics
}

func (m *expiryMetrics) recordExpired(ctx context.Context, behavior schema.ExpiredBehavior) {
	if m == nil || m.expired == nil {
		return
	}
	m.expired.Add(ctx, 1, metric.WithAttributes(attribute.String("behavior", string(behavior))))
}

// Sweeper periodically denies or re-requests pending ApprovalRequests that
// have passed their ExpiresAt, per spec.md §4.3's ExpiredBehavior.
type Sweeper struct {
	approvals *Service
	envelopes storage.EnvelopeStore
	interval  time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func NewSweeper(approvals *Service, envelopes storage.EnvelopeStore, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{approvals: approvals, envelopes: envelopes, interval: defaultSweepInterval, now: time.Now, log: log}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	interval := w.interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass immediately; Run calls it on each tick, and
// tests or an admin endpoint can call it directly.
func (w *Sweeper) Sweep(ctx context.Context) {
	pending, err := w.approvals.store.ListPending(ctx, w.now())
	if err != nil {
		w.log.Error("approval sweep: list pending failed", "error", err)
		return
	}
	for _, req := range pending {
		if err := w.expireOne(ctx, req); err != nil {
			w.log.Error("approval sweep: expire failed", "approvalId", req.ID, "error", err)
		}
	}
}

func (w *Sweeper) expireOne(ctx context.Context, req schema.ApprovalRequest) error {
	expiryCounter().recordExpired(ctx, req.ExpiredBehavior)
	switch req.ExpiredBehavior {
	case schema.ExpiredBehaviorReRequest:
		return w.reRequest(ctx, req)
	default:
		expired := req
		expired.Status = schema.ApprovalStatusExpired
		now := w.now()
		expired.RespondedAt = &now
		expired.Version = req.Version + 1
		return w.approvals.store.Update(ctx, &expired, req.Version)
	}
}

// reRequest marks req expired and creates a fresh pending request rebound
// to the latest envelope version, so a re-requested approval always
// reflects the envelope's current state rather than a stale snapshot.
func (w *Sweeper) reRequest(ctx context.Context, req schema.ApprovalRequest) error {
	expired := req
	expired.Status = schema.ApprovalStatusExpired
	now := w.now()
	expired.RespondedAt = &now
	expired.Version = req.Version + 1
	if err := w.approvals.store.Update(ctx, &expired, req.Version); err != nil {
		return err
	}

	env, err := w.envelopes.Get(ctx, req.EnvelopeID)
	if err != nil {
		return err
	}
	if env.Status.Terminal() {
		return nil
	}

	fresh := req
	fresh.ID = canon.NewID("approval")
	fresh.Version = 0
	fresh.EnvelopeVersion = env.Version
	fresh.Status = schema.ApprovalStatusPending
	fresh.RespondedBy = ""
	fresh.RespondedAt = nil
	fresh.CreatedAt = now
	fresh.ExpiresAt = now.Add(req.ExpiresAt.Sub(req.CreatedAt))
	if req.Quorum != nil {
		quorum := *req.Quorum
		quorum.ApprovalHashes = nil
		fresh.Quorum = &quorum
	}

	// The binding hash is keyed on envelopeVersion (spec.md §4.3); since
	// fresh.EnvelopeVersion just moved to env.Version, the expired
	// request's hash must not carry over, or the old hash would still
	// validate against the re-requested approval.
	var parameters map[string]interface{}
	if req.ProposalIndex >= 0 && req.ProposalIndex < len(env.Proposals) {
		parameters = env.Proposals[req.ProposalIndex].Parameters
	}
	bindingHash, err := ComputeBindingHash(fresh.EnvelopeID, fresh.EnvelopeVersion, fresh.ActionID,
		parameters, fresh.Evidence.DecisionTrace, fresh.Evidence.ContextSnapshot)
	if err != nil {
		return err
	}
	fresh.BindingHash = bindingHash

	return w.approvals.store.Create(ctx, &fresh)
}
