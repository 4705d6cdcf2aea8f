// Command governord is the action-governance runtime's entrypoint: it
// wires storage, the policy/guardrail/risk/approval/ledger subsystems, the
// lifecycle orchestrator, the cartridge registry, and the HTTP surface
// (gateway + runtime adapters) together and serves them until a shutdown
// signal arrives, following the teacher's
// services/escrow-gateway/main.go shape (telemetry init → config load →
// store open → wire dependencies → otelhttp-wrapped server →
// signal-driven graceful shutdown) generalized to this service's larger
// dependency graph.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"governor/adapters/mcp"
	"governor/adapters/openclaw"
	"governor/approval"
	"governor/cartridge"
	"governor/config"
	"governor/gateway/httpapi"
	"governor/gateway/middleware"
	"governor/guardrail"
	"governor/ledger"
	"governor/observability/logging"
	telemetry "governor/observability/otel"
	"governor/orchestrator"
	"governor/policy"
	"governor/storage"
	"governor/storage/boltstore"
	"governor/storage/litestore"
	"governor/storage/memstore"
	"governor/storage/sqlstore"
)

const shutdownTimeout = 10 * time.Second

var errInvalidChain = errors.New("ledger chain integrity violation")

func main() {
	env := strings.TrimSpace(os.Getenv("GOVERNOR_ENV"))
	log := logging.Setup("governord", env)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := initTelemetry(env)
	if err != nil {
		log.Error("init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	d, closeDeps, err := wire(cfg, log)
	if err != nil {
		log.Error("wire dependencies", "error", err)
		os.Exit(1)
	}
	defer closeDeps()

	if err := forcedVerify(context.Background(), d.ledgerSvc, log); err != nil {
		log.Error("forced chain verification failed at startup", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.sweeper.Run(ctx)
	go d.verifier.Run(ctx, cfg.ChainVerifyInterval)

	mux := http.NewServeMux()
	mux.Handle("/", d.gatewayRouter)
	mux.Handle("/adapters/openclaw", openclaw.New(d.orch))
	mux.Handle("/adapters/mcp", mcp.New(d.orch, cfg.MCPAPIKeys))

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, "governord"),
	}

	go func() {
		log.Info("governord listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down governord")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

func initTelemetry(env string) (func(context.Context) error, error) {
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	return telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "governord",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
}

// forcedVerify runs one VerifyChain pass (hash chain only; offloaded
// evidence is not re-fetched) before the server
// starts accepting traffic, per spec.md §6's exit code 2 on forced-verify
// failure — distinct from ledger.Verifier's ongoing periodic pass.
func forcedVerify(ctx context.Context, ledgerSvc *ledger.Ledger, log *slog.Logger) error {
	result, err := ledger.VerifyChain(ctx, ledgerSvc)
	if err != nil {
		return err
	}
	if !result.Valid {
		log.Error("chain integrity violation detected at startup",
			"brokenAt", result.BrokenAt, "reason", result.BrokenReason, "entriesSeen", result.EntriesSeen)
		return errInvalidChain
	}
	log.Info("startup chain verification passed", "entriesSeen", result.EntriesSeen)
	return nil
}

// deps bundles the long-lived components main needs a handle on after
// wiring, beyond what's reachable through the HTTP router alone.
type deps struct {
	orch          *orchestrator.Orchestrator
	ledgerSvc     *ledger.Ledger
	sweeper       *approval.Sweeper
	verifier      *ledger.Verifier
	gatewayRouter http.Handler
}

// wire builds every subsystem from cfg, selecting durable storage backings
// where cfg names a backing path/URL and falling back to storage/memstore
// otherwise, per spec.md §9's dev/test carve-out. The returned close func
// releases any opened file handles/connections.
func wire(cfg config.Config, log *slog.Logger) (*deps, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	envelopes := memstore.NewEnvelopeStore()
	idemStore := memstore.NewIdempotencyStore()

	identities, policies, approvals, err := wireSQLBackings(cfg, &closers)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	ledgerStore, evidenceStore, err := wireLedgerBacking(cfg, &closers)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	guardrailStore, err := wireGuardrailBacking(cfg, &closers)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	if err := seedPolicies(context.Background(), cfg, policies); err != nil {
		closeAll()
		return nil, nil, err
	}
	if err := seedIdentities(context.Background(), cfg, identities); err != nil {
		closeAll()
		return nil, nil, err
	}

	ledgerSvc := ledger.New(ledgerStore, evidenceStore)
	guardrailEngine := guardrail.New(guardrailStore)
	policyEngine := policy.New(guardrailEngine)
	approvalSvc := approval.New(approvals)
	registry := cartridge.NewRegistry(nil, nil)

	var orch *orchestrator.Orchestrator
	queue := orchestrator.NewInMemoryQueue(cfg.WorkerConcurrency*4, cfg.WorkerConcurrency, func(ctx context.Context, task orchestrator.ExecutionTask) {
		if _, err := orch.ExecuteApproved(ctx, task.EnvelopeID); err != nil {
			log.Error("execute queued envelope failed", "envelopeId", task.EnvelopeID, "error", err)
		}
	}, log)
	orch = orchestrator.New(envelopes, identities, policies, ledgerSvc, guardrailEngine, policyEngine, approvalSvc, registry, queue, idemStore)

	sweeper := approval.NewSweeper(approvalSvc, envelopes, log)
	verifier := ledger.NewVerifier(ledgerSvc, log, nil)

	authenticator := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        true,
		HMACSecret:     cfg.JWTHMACSecret,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		PrincipalClaim: "sub",
		OrgClaim:       "org",
		ActingAsClaim:  "acting_as",
		OptionalPaths:  []string{"/api/health/deep"},
	}, nil)
	observability := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   "governord",
		MetricsPrefix: "governor_gateway",
		LogRequests:   true,
		Enabled:       true,
	}, nil)
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultGovernanceRateLimits(), nil)

	server := httpapi.NewServer(orch, ledgerSvc, approvals, policies, registry)
	router := server.Router(httpapi.Config{
		Authenticator: authenticator,
		Observability: observability,
		RateLimiter:   rateLimiter,
	})

	return &deps{
		orch:          orch,
		ledgerSvc:     ledgerSvc,
		sweeper:       sweeper,
		verifier:      verifier,
		gatewayRouter: router,
	}, closeAll, nil
}

// wireSQLBackings selects the gorm+postgres-backed identity/policy/approval
// stores when DATABASE_URL is set, otherwise the in-memory backings.
func wireSQLBackings(cfg config.Config, closers *[]func()) (storage.IdentityStore, storage.PolicyStore, storage.ApprovalStore, error) {
	if cfg.DatabaseURL == "" {
		return memstore.NewIdentityStore(), memstore.NewPolicyStore(), memstore.NewApprovalStore(), nil
	}
	db, err := sqlstore.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	return sqlstore.NewIdentityStore(db), sqlstore.NewPolicyStore(db), sqlstore.NewApprovalStore(db), nil
}

// wireLedgerBacking selects the modernc.org/sqlite-backed ledger/evidence
// stores when LEDGER_SQLITE_PATH is set, otherwise the in-memory backings.
func wireLedgerBacking(cfg config.Config, closers *[]func()) (storage.LedgerStore, storage.EvidenceStore, error) {
	if cfg.LedgerPath == "" {
		return memstore.NewLedgerStore(), memstore.NewEvidenceStore(), nil
	}
	ledgerStore, err := litestore.NewLedgerStore(cfg.LedgerPath)
	if err != nil {
		return nil, nil, err
	}
	*closers = append(*closers, func() { _ = ledgerStore.Close() })
	evidenceStore, err := litestore.NewEvidenceStore(cfg.LedgerPath + ".evidence")
	if err != nil {
		return nil, nil, err
	}
	*closers = append(*closers, func() { _ = evidenceStore.Close() })
	return ledgerStore, evidenceStore, nil
}

// wireGuardrailBacking selects the bbolt-backed GuardrailStore when
// GUARDRAIL_BOLT_PATH is set, otherwise the in-memory backing. RedisURL is
// a documented extension point not wired to a concrete client here (see
// DESIGN.md).
func wireGuardrailBacking(cfg config.Config, closers *[]func()) (storage.GuardrailStore, error) {
	if cfg.BoltGuardrailPath == "" {
		return memstore.NewGuardrailStore(nil), nil
	}
	store, err := boltstore.Open(cfg.BoltGuardrailPath, nil)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, func() { _ = store.Close() })
	return store, nil
}

func seedPolicies(ctx context.Context, cfg config.Config, policies storage.PolicyStore) error {
	if cfg.PolicySeedPath == "" {
		return nil
	}
	seeds, err := config.LoadPolicySeeds(cfg.PolicySeedPath)
	if err != nil {
		return err
	}
	for i := range seeds {
		if err := policies.Create(ctx, &seeds[i]); err != nil {
			return err
		}
	}
	return nil
}

func seedIdentities(ctx context.Context, cfg config.Config, identities storage.IdentityStore) error {
	if cfg.IdentitySeedPath == "" {
		return nil
	}
	seeds, err := config.LoadIdentitySeeds(cfg.IdentitySeedPath)
	if err != nil {
		return err
	}
	for i := range seeds {
		if err := identities.Put(ctx, &seeds[i]); err != nil {
			return err
		}
	}
	return nil
}
