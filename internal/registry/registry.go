// Package registry implements the Subscription Registry / Auto-Discovery
// component (spec §4.G): load consumer definitions tagged for this
// workspace from the record store, materialize an Executor per definition,
// and hot-bind each to the dispatcher so new consumers start receiving
// events without a restart. Grounded on the teacher's plugin registry
// fan-out shape (internal/agent/event_sink.go PluginRegistry/MultiSink).
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/breadcrumb/internal/executor"
	"github.com/haasonsaas/breadcrumb/internal/selector"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// ConsumerStore is the subset of the Record Client the registry needs to
// discover consumer definitions.
type ConsumerStore interface {
	Search(ctx context.Context, schemaNames []string, workspaceTag string) ([]models.ConsumerDefinition, error)
}

// HandlerFactory builds the executor.Handler for one consumer definition —
// supplied by the bootstrap layer, which knows how to turn a stored
// handler config (an LLM prompt, a tool binary, a workflow graph) into a
// runnable closure.
type HandlerFactory func(def models.ConsumerDefinition) (executor.Handler, error)

// binding pairs one materialized Executor with the trigger selectors that
// should invoke it.
type binding struct {
	consumerID string
	exec       *executor.Executor
	triggers   []models.Selector
}

// Registry discovers consumer definitions and binds them to a dispatcher.
type Registry struct {
	store    ConsumerStore
	execDeps executor.RecordStore
	build    HandlerFactory
	logger   *slog.Logger

	mu       sync.RWMutex
	bindings map[string]*binding
}

// New builds a Registry. execDeps is the Record Store view passed through
// to every materialized Executor.
func New(store ConsumerStore, execDeps executor.RecordStore, build HandlerFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    store,
		execDeps: execDeps,
		build:    build,
		logger:   logger.With("component", "registry"),
		bindings: make(map[string]*binding),
	}
}

// ConsumerDefinitionSchemas are the schema names the registry searches for
// when discovering consumer definitions (spec §4.G).
var ConsumerDefinitionSchemas = []string{
	models.SchemaAgentDefinition,
	models.SchemaToolDefinition,
	models.SchemaWorkflowDef,
	models.SchemaContextConfig,
}

// Discover loads every consumer definition tagged with workspaceTag and
// (re)materializes an Executor + binding for each, replacing any prior
// binding for the same consumer id (idempotent re-discovery, spec §4.G).
func (r *Registry) Discover(ctx context.Context, workspaceTag string) error {
	defs, err := r.store.Search(ctx, ConsumerDefinitionSchemas, workspaceTag)
	if err != nil {
		return fmt.Errorf("registry: discover: %w", err)
	}

	for _, def := range defs {
		if err := r.bind(def); err != nil {
			r.logger.Error("failed to bind consumer", "consumer_id", def.ID, "error", err)
			continue
		}
	}
	return nil
}

// bind materializes an Executor for def and installs/replaces its binding.
func (r *Registry) bind(def models.ConsumerDefinition) error {
	handler, err := r.build(def)
	if err != nil {
		return fmt.Errorf("build handler for %s: %w", def.ID, err)
	}

	var triggers []models.Selector
	for _, sel := range def.Subscriptions.Selectors {
		if sel.Role == models.RoleTrigger {
			triggers = append(triggers, sel)
		}
	}

	ex, err := executor.New(executor.Config{
		ConsumerID:   def.ID,
		Kind:         def.Kind,
		Capabilities: def.Capabilities,
		InputSchema:  def.InputSchema,
	}, r.execDeps, handler, nil, nil, r.logger)
	if err != nil {
		return fmt.Errorf("registry: bind %s: %w", def.ID, err)
	}

	r.mu.Lock()
	r.bindings[def.ID] = &binding{consumerID: def.ID, exec: ex, triggers: triggers}
	r.mu.Unlock()
	return nil
}

// Deregister removes a consumer's binding; future events are no longer
// routed to it. Safe to call for an unknown id (idempotent).
func (r *Registry) Deregister(consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, consumerID)
}

// Len reports how many consumers currently have a live binding.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Handle implements dispatcher.Route: every bound consumer's trigger
// selectors are tested against event, and each match invokes that
// consumer's executor.
func (r *Registry) Handle(ctx context.Context, event *models.Event) {
	r.mu.RLock()
	bindings := make([]*binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		bindings = append(bindings, b)
	}
	r.mu.RUnlock()

	for _, b := range bindings {
		for _, sel := range b.triggers {
			if selector.Matches(event, sel) {
				go b.exec.HandleMatched(ctx, event, sel)
			}
		}
	}
}
