package ledger

import (
	"context"
	"log/slog"
	"time"

	"governor/observability/metrics"
)

// Verifier runs DeepVerify on a fixed interval and reports the outcome of
// each pass, so chain tampering or substituted evidence content is caught
// even when no caller happens to hit GET /api/audit/verify.
type Verifier struct {
	ledger   *Ledger
	log      *slog.Logger
	onResult func(VerifyResult)
	metrics  *metrics.Registry
}

// NewVerifier constructs a periodic verifier over l. onResult, if non-nil, is
// invoked after every pass. cmd/governord passes nil; its startup exit-code
// check is a separate one-off VerifyChain call.
func NewVerifier(l *Ledger, log *slog.Logger, onResult func(VerifyResult)) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{ledger: l, log: log, onResult: onResult, metrics: metrics.Default()}
}

// Run polls DeepVerify every interval until ctx is cancelled.
func (v *Verifier) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.poll(ctx)
		}
	}
}

func (v *Verifier) poll(ctx context.Context) {
	result, err := DeepVerify(ctx, v.ledger)
	if err != nil {
		v.log.Error("ledger chain verify failed to run", "error", err)
		return
	}
	if !result.Valid {
		v.log.Error("ledger chain integrity violation detected",
			"brokenAt", result.BrokenAt, "reason", result.BrokenReason, "entriesSeen", result.EntriesSeen)
	} else {
		v.log.Debug("ledger chain verify passed", "entriesSeen", result.EntriesSeen)
	}
	v.metrics.SetChainValid(result.Valid)
	if v.onResult != nil {
		v.onResult(result)
	}
}
