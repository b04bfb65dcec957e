package main

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/breadcrumb/internal/contextbuilder"
	"github.com/haasonsaas/breadcrumb/internal/registry"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// discoveryRoute implements dispatcher.Route: whenever a breadcrumb event
// arrives for one of the consumer-definition schemas, it re-runs discovery
// so newly published or updated agent/tool/workflow/context-builder
// definitions are hot-bound without a restart (spec §4.G). A
// context.config.v1 event additionally re-syncs the Context Assembler's
// update-trigger router.
type discoveryRoute struct {
	rt        *runtime
	registry  *registry.Registry
	router    *contextbuilder.Router
	workspace string
	logger    *slog.Logger
}

func (d discoveryRoute) Handle(ctx context.Context, event *models.Event) {
	if !isConsumerDefinitionSchema(event.SchemaName) {
		return
	}
	if err := d.registry.Discover(ctx, d.workspace); err != nil {
		d.logger.Error("re-discovery failed", "schema", event.SchemaName, "error", err)
	}
	if event.SchemaName == models.SchemaContextConfig {
		if err := d.rt.syncContextRouter(ctx, d.router, d.workspace); err != nil {
			d.logger.Error("context router re-sync failed", "error", err)
		}
	}
}

func isConsumerDefinitionSchema(schemaName string) bool {
	for _, s := range registry.ConsumerDefinitionSchemas {
		if s == schemaName {
			return true
		}
	}
	return false
}
