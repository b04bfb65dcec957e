// Package wiring adapts the Record Client's concrete types onto the
// narrower interfaces the Context Assembler, Subscription Registry and
// Bootstrap Loader each declare for themselves, so those packages stay
// independently testable against fakes while the running process binds
// them to one real *recordclient.Client. Grounded on the teacher's
// composition root (cmd/nexus/main.go), which wires the same storage
// handle into several independent subsystem interfaces.
package wiring

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/breadcrumb/internal/contextbuilder"
	"github.com/haasonsaas/breadcrumb/internal/recordclient"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// ContextStore adapts *recordclient.Client to contextbuilder.RecordStore.
type ContextStore struct {
	Client *recordclient.Client
}

func (s ContextStore) Search(ctx context.Context, q contextbuilder.SearchQuery) ([]models.Breadcrumb, error) {
	return s.Client.Search(ctx, recordclient.SearchQuery{
		SchemaName: q.SchemaName,
		AnyTags:    q.AnyTags,
		AllTags:    q.AllTags,
		Limit:      q.Limit,
	})
}

func (s ContextStore) VectorSearch(ctx context.Context, q contextbuilder.VectorQuery) ([]models.Breadcrumb, error) {
	return s.Client.VectorSearch(ctx, recordclient.VectorSearchQuery{
		SchemaName: q.SchemaName,
		Query:      q.Query,
		NN:         q.NN,
	})
}

func (s ContextStore) Get(ctx context.Context, id string) (*models.Breadcrumb, error) {
	return s.Client.Get(ctx, id)
}

func (s ContextStore) Create(ctx context.Context, req models.CreateBreadcrumbRequest) (*models.CreateBreadcrumbResult, error) {
	return s.Client.Create(ctx, req)
}

func (s ContextStore) Update(ctx context.Context, id string, expectedVersion int, patch models.UpdatePatch) (*models.Breadcrumb, error) {
	return s.Client.Update(ctx, id, expectedVersion, patch)
}

// ConsumerStore adapts *recordclient.Client to registry.ConsumerStore: it
// searches each of the consumer-definition schemas tagged with
// workspaceTag and unmarshals each breadcrumb's context into a
// ConsumerDefinition (spec §4.G: definitions are ordinary breadcrumbs whose
// schema names are agent.def.v1/tool.v1/workflow.def.v1/context.config.v1).
type ConsumerStore struct {
	Client *recordclient.Client
}

func (s ConsumerStore) Search(ctx context.Context, schemaNames []string, workspaceTag string) ([]models.ConsumerDefinition, error) {
	var defs []models.ConsumerDefinition
	for _, schema := range schemaNames {
		var allTags []string
		if workspaceTag != "" {
			allTags = []string{workspaceTag}
		}
		results, err := s.Client.Search(ctx, recordclient.SearchQuery{SchemaName: schema, AllTags: allTags})
		if err != nil {
			return nil, fmt.Errorf("wiring: search consumer definitions for %s: %w", schema, err)
		}
		for _, b := range results {
			def, err := definitionFromBreadcrumb(b)
			if err != nil {
				continue
			}
			defs = append(defs, def)
		}
	}
	return defs, nil
}

// definitionFromBreadcrumb round-trips a breadcrumb's context through JSON
// into a ConsumerDefinition, filling in the id from the breadcrumb itself.
func definitionFromBreadcrumb(b models.Breadcrumb) (models.ConsumerDefinition, error) {
	raw, err := json.Marshal(b.Context)
	if err != nil {
		return models.ConsumerDefinition{}, err
	}
	var def models.ConsumerDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return models.ConsumerDefinition{}, err
	}
	def.ID = b.ID
	return def, nil
}
