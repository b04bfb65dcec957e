package contextbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/breadcrumb/internal/breaderr"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

type fakeStore struct {
	searchResults    map[string][]models.Breadcrumb
	vectorResults    map[string][]models.Breadcrumb
	vectorSearchFunc func(q VectorQuery)
	byID             map[string]*models.Breadcrumb
	searchCalls      int
	createCalls      int
	updateCalls      int
	updateErrs       []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		searchResults: make(map[string][]models.Breadcrumb),
		vectorResults: make(map[string][]models.Breadcrumb),
		byID:          make(map[string]*models.Breadcrumb),
	}
}

func (f *fakeStore) Search(ctx context.Context, q SearchQuery) ([]models.Breadcrumb, error) {
	f.searchCalls++
	return f.searchResults[q.SchemaName], nil
}

func (f *fakeStore) VectorSearch(ctx context.Context, q VectorQuery) ([]models.Breadcrumb, error) {
	if f.vectorSearchFunc != nil {
		f.vectorSearchFunc(q)
	}
	return f.vectorResults[q.SchemaName], nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*models.Breadcrumb, error) {
	b, ok := f.byID[id]
	if !ok {
		return nil, breaderr.New(breaderr.KindNotFound, "get", breaderr.ErrNotFound)
	}
	return b, nil
}

func (f *fakeStore) Create(ctx context.Context, req models.CreateBreadcrumbRequest) (*models.CreateBreadcrumbResult, error) {
	f.createCalls++
	id := "ctx-1"
	f.byID[id] = &models.Breadcrumb{ID: id, Version: 1, SchemaName: req.SchemaName, Tags: req.Tags, Context: req.Context}
	return &models.CreateBreadcrumbResult{ID: id, Version: 1}, nil
}

func (f *fakeStore) Update(ctx context.Context, id string, expectedVersion int, patch models.UpdatePatch) (*models.Breadcrumb, error) {
	f.updateCalls++
	if len(f.updateErrs) >= f.updateCalls {
		if err := f.updateErrs[f.updateCalls-1]; err != nil {
			return nil, err
		}
	}
	existing := f.byID[id]
	existing.Version++
	existing.Context = patch.Context
	return existing, nil
}

func TestRebuildCreatesOnFirstRun(t *testing.T) {
	store := newFakeStore()
	store.searchResults["message.v1"] = []models.Breadcrumb{
		{ID: "m1", Title: "hello"},
	}
	a := New(store, nil)

	cfg := models.ContextConfig{
		Sources: []models.ContextSource{
			{SchemaName: "message.v1", Method: models.FetchRecent, Limit: 10},
		},
		Output: models.ContextOutput{SchemaName: "agent.context.v1"},
	}

	b, err := a.Rebuild(context.Background(), "ctx-1", cfg, nil)
	require.NoError(t, err)
	require.Equal(t, 1, store.createCalls)
	require.NotNil(t, b.Context["message.v1"])
}

func TestRebuildUpdatesExistingContext(t *testing.T) {
	store := newFakeStore()
	store.byID["ctx-1"] = &models.Breadcrumb{ID: "ctx-1", Version: 5, SchemaName: "agent.context.v1"}
	store.searchResults["message.v1"] = []models.Breadcrumb{{ID: "m1", Title: "hi"}}
	a := New(store, nil)

	cfg := models.ContextConfig{
		Sources: []models.ContextSource{{SchemaName: "message.v1", Method: models.FetchRecent, Limit: 10}},
		Output:  models.ContextOutput{SchemaName: "agent.context.v1"},
	}

	b, err := a.Rebuild(context.Background(), "ctx-1", cfg, nil)
	require.NoError(t, err)
	require.Equal(t, 0, store.createCalls)
	require.Equal(t, 1, store.updateCalls)
	require.Equal(t, 6, b.Version)
}

func TestRebuildRetriesOnceOnVersionConflict(t *testing.T) {
	store := newFakeStore()
	store.byID["ctx-1"] = &models.Breadcrumb{ID: "ctx-1", Version: 1, SchemaName: "agent.context.v1"}
	store.searchResults["message.v1"] = []models.Breadcrumb{{ID: "m1", Title: "hi"}}
	store.updateErrs = []error{
		breaderr.New(breaderr.KindVersionMismatch, "update", breaderr.ErrVersionMismatch),
	}
	a := New(store, nil)

	cfg := models.ContextConfig{
		Sources: []models.ContextSource{{SchemaName: "message.v1", Method: models.FetchRecent, Limit: 10}},
		Output:  models.ContextOutput{SchemaName: "agent.context.v1"},
	}

	b, err := a.Rebuild(context.Background(), "ctx-1", cfg, nil)
	require.NoError(t, err)
	require.Equal(t, 2, store.updateCalls)
	require.NotNil(t, b)
}

func TestRebuildVectorSourceQueriesOnTriggerContent(t *testing.T) {
	store := newFakeStore()
	store.vectorResults["user.message.v1"] = []models.Breadcrumb{{ID: "m1", Title: "quantum computing"}}
	a := New(store, nil)

	cfg := models.ContextConfig{
		Sources: []models.ContextSource{{SchemaName: "user.message.v1", Method: models.FetchVector, NN: 3}},
		Output:  models.ContextOutput{SchemaName: "agent.context.v1"},
	}
	trigger := &models.Breadcrumb{ID: "t1", Title: "tell me about quantum"}

	var gotQuery string
	store.vectorSearchFunc = func(q VectorQuery) { gotQuery = q.Query }

	_, err := a.Rebuild(context.Background(), "ctx-1", cfg, trigger)
	require.NoError(t, err)
	require.Equal(t, "tell me about quantum", gotQuery)
}

func TestRebuildEventDataSourceUsesTriggerPayloadDirectly(t *testing.T) {
	store := newFakeStore()
	a := New(store, nil)

	cfg := models.ContextConfig{
		Sources: []models.ContextSource{{SchemaName: "order.created", Key: "trigger", Method: models.FetchEventData}},
		Output:  models.ContextOutput{SchemaName: "agent.context.v1"},
	}
	trigger := &models.Breadcrumb{ID: "t1", SchemaName: "order.created", Context: map[string]any{"order_id": "o-1"}}

	b, err := a.Rebuild(context.Background(), "ctx-1", cfg, trigger)
	require.NoError(t, err)
	require.Equal(t, 0, store.searchCalls)
	items, ok := b.Context["trigger"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
}

func TestDedupeDropsNormalizedTextDuplicates(t *testing.T) {
	entries := []contextEntry{
		{key: "k", text: "Hello World"},
		{key: "k", text: "hello   world"},
		{key: "k", text: "goodbye"},
	}
	deduped := dedupe(entries, 0.95)
	require.Len(t, deduped, 2)
}

func TestDedupeUsesCosineSimilarityWhenVectorsPresent(t *testing.T) {
	entries := []contextEntry{
		{key: "k", text: "a", vec: []float64{1, 0, 0}},
		{key: "k", text: "b", vec: []float64{0.99, 0.01, 0}},
		{key: "k", text: "c", vec: []float64{0, 1, 0}},
	}
	deduped := dedupe(entries, 0.95)
	require.Len(t, deduped, 2)
}

func TestTrimToBudgetStopsAtMaxTokens(t *testing.T) {
	entries := []contextEntry{
		{text: strRepeat("a", 40)},
		{text: strRepeat("b", 40)},
		{text: strRepeat("c", 40)},
	}
	budgeted := trimToBudget(entries, 20)
	require.Len(t, budgeted, 2)
}

func TestTrimToBudgetAlwaysKeepsFirstEntry(t *testing.T) {
	entries := []contextEntry{
		{text: strRepeat("a", 10000)},
	}
	budgeted := trimToBudget(entries, 1)
	require.Len(t, budgeted, 1)
}

func strRepeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
