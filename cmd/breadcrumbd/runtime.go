package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/haasonsaas/breadcrumb/internal/bootstrap"
	"github.com/haasonsaas/breadcrumb/internal/breadauth"
	"github.com/haasonsaas/breadcrumb/internal/config"
	"github.com/haasonsaas/breadcrumb/internal/contextbuilder"
	"github.com/haasonsaas/breadcrumb/internal/eventbridge"
	"github.com/haasonsaas/breadcrumb/internal/executor"
	"github.com/haasonsaas/breadcrumb/internal/localstore"
	"github.com/haasonsaas/breadcrumb/internal/metrics"
	"github.com/haasonsaas/breadcrumb/internal/recordclient"
	"github.com/haasonsaas/breadcrumb/internal/registry"
	"github.com/haasonsaas/breadcrumb/internal/retry"
	"github.com/haasonsaas/breadcrumb/internal/wiring"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// runtime bundles every subsystem the composition root in serve/bootstrap/
// status assembles from a loaded Config. Grounded on the teacher's
// loadMCPManager-style "config in, wired subsystem out" helpers
// (cmd/nexus/config.go), generalized from a single manager to the full
// breadcrumbd dependency graph.
type runtime struct {
	cfg    *config.Config
	tokens *breadauth.TokenCell
	client *recordclient.Client
	bridge *eventbridge.Bridge
	m      *metrics.Metrics
	tracer *metrics.Tracer

	shutdownTracer func(context.Context) error
}

// buildRuntime wires the Record Client, token cell, Event Bridge and
// observability stack from cfg. Callers that only need a Record Client
// (status, bootstrap) still pay for the full composition so behavior
// stays identical to serve.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	// Production deployments supply their own refresh hook against the
	// record store's auth endpoint (spec §1: JWT minting is out of scope,
	// tokens are only ever consumed here). When a local key-encryption-key
	// is configured, the dev issuer mints tokens so a local record store can
	// be exercised without a separate auth service; otherwise the token cell
	// has no refresh hook.
	tokens := breadauth.NewTokenCell(nil, cfg.RecordStore.TokenRefresh)
	if cfg.Bootstrap.LocalKEK != "" {
		issuer := breadauth.NewDevIssuer(cfg.Bootstrap.LocalKEK, cfg.RecordStore.TokenRefresh)
		tokens = breadauth.NewTokenCell(func(ctx context.Context) (string, time.Time, error) {
			return issuer.Issue(cfg.Identity.OwnerID, cfg.Identity.AgentID, []string{"runner"})
		}, cfg.RecordStore.TokenRefresh)
		if err := tokens.Refresh(context.Background()); err != nil {
			return nil, fmt.Errorf("initial token mint: %w", err)
		}
	}

	client := recordclient.New(recordclient.Config{
		BaseURL: cfg.RecordStore.BaseURL,
		Retry:   retry.Exponential(cfg.RecordStore.MaxRetries, 200*time.Millisecond, 10*time.Second),
	}, tokens)

	m := metrics.New()
	tracer, shutdown := metrics.NewTracer(metrics.TraceConfig{
		ServiceName: cfg.Observability.ServiceName,
		Endpoint:    cfg.Observability.TracingOTLP,
	})

	bridge := eventbridge.New(eventbridge.DefaultHistorySize)

	return &runtime{
		cfg:            cfg,
		tokens:         tokens,
		client:         client,
		bridge:         bridge,
		m:              m,
		tracer:         tracer,
		shutdownTracer: shutdown,
	}, nil
}

func (rt *runtime) close(ctx context.Context) {
	rt.tokens.Stop()
	if rt.shutdownTracer != nil {
		_ = rt.shutdownTracer(ctx)
	}
}

// contextStore adapts the Record Client for the Context Assembler.
func (rt *runtime) contextStore() contextbuilder.RecordStore {
	return wiring.ContextStore{Client: rt.client}
}

// consumerStore adapts the Record Client for the Subscription Registry.
func (rt *runtime) consumerStore() registry.ConsumerStore {
	return wiring.ConsumerStore{Client: rt.client}
}

// bootstrapLoader builds a Loader bound to this runtime's Record Client.
// When Bootstrap.MarkerDB is configured, completion is tracked durably in
// SQLite (internal/localstore) instead of a flat marker file; otherwise
// bootstrap.Loader writes its own MarkerFileName inside the directory
// component of the configured marker file path.
func (rt *runtime) bootstrapLoader() (*bootstrap.Loader, error) {
	if rt.cfg.Bootstrap.MarkerDB != "" {
		ms, err := localstore.Open(rt.cfg.Bootstrap.MarkerDB)
		if err != nil {
			return nil, fmt.Errorf("open bootstrap marker db: %w", err)
		}
		return bootstrap.NewWithMarkerStore(rt.client, ms, nil), nil
	}
	return bootstrap.New(rt.client, filepath.Dir(rt.cfg.Bootstrap.MarkerFile), nil), nil
}

// defaultHandlerFactory turns each discovered consumer definition into a
// Handler that acknowledges its trigger and, for agent-kind consumers,
// exposes a bounded ToolInvoker (spec §4.F: default tool-loop depth 4) so
// a future agent Handler can round-trip through tool.request.v1/
// tool.response.v1 breadcrumbs. Real agent/tool/workflow business logic is
// an external collaborator per the runtime's scope (spec §1) — this keeps
// the runner demonstrably functional end-to-end without depending on any
// specific LLM provider or tool implementation.
func (rt *runtime) defaultHandlerFactory() registry.HandlerFactory {
	return func(def models.ConsumerDefinition) (executor.Handler, error) {
		return func(ctx context.Context, trigger *models.Breadcrumb) (any, error) {
			out := map[string]any{
				"acknowledged": true,
				"consumer_id":  def.ID,
				"trigger_id":   trigger.ID,
			}
			if def.Kind == models.ConsumerAgent {
				invoker := executor.NewToolInvoker(rt.client, rt.bridge, def.ID, executor.DefaultToolLoopDepth, executor.DefaultTimeout)
				out["tool_calls_available"] = invoker.Calls() == 0
			}
			return out, nil
		}, nil
	}
}

// syncContextRouter re-fetches every context.config.v1 definition tagged
// for workspace and replaces router's registrations with the current set,
// so the Context Assembler's update-trigger routing stays in step with the
// Subscription Registry's own re-discovery (spec §4.G/§4.E).
func (rt *runtime) syncContextRouter(ctx context.Context, router *contextbuilder.Router, workspace string) error {
	store := rt.consumerStore()
	defs, err := store.Search(ctx, []string{models.SchemaContextConfig}, workspace)
	if err != nil {
		return fmt.Errorf("sync context router: %w", err)
	}

	for _, def := range defs {
		raw, err := json.Marshal(def.Handler)
		if err != nil {
			continue
		}
		var ccfg models.ContextConfig
		if err := json.Unmarshal(raw, &ccfg); err != nil {
			continue
		}
		router.Register(def.ID, ccfg)
	}
	return nil
}
