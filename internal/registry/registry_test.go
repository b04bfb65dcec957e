package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/breadcrumb/internal/executor"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

type fakeConsumerStore struct {
	defs []models.ConsumerDefinition
}

func (f *fakeConsumerStore) Search(ctx context.Context, schemaNames []string, workspaceTag string) ([]models.ConsumerDefinition, error) {
	return f.defs, nil
}

type fakeExecStore struct {
	mu          sync.Mutex
	breadcrumbs map[string]*models.Breadcrumb
	createCalls int
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{breadcrumbs: make(map[string]*models.Breadcrumb)}
}

func (f *fakeExecStore) Get(ctx context.Context, id string) (*models.Breadcrumb, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breadcrumbs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func (f *fakeExecStore) Create(ctx context.Context, req models.CreateBreadcrumbRequest) (*models.CreateBreadcrumbResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return &models.CreateBreadcrumbResult{ID: "resp", Version: 1}, nil
}

func (f *fakeExecStore) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func TestDiscoverBindsConsumersAndRoutesMatchingEvents(t *testing.T) {
	execStore := newFakeExecStore()
	execStore.breadcrumbs["b1"] = &models.Breadcrumb{ID: "b1", SchemaName: "order.created"}

	def := models.ConsumerDefinition{
		ID:           "agent-1",
		Kind:         models.ConsumerAgent,
		Capabilities: models.Capabilities{CanEmit: true},
	}
	def.Subscriptions.Selectors = []models.Selector{
		{SchemaName: "order.created", Role: models.RoleTrigger},
	}

	store := &fakeConsumerStore{defs: []models.ConsumerDefinition{def}}
	build := func(def models.ConsumerDefinition) (executor.Handler, error) {
		return func(ctx context.Context, trigger *models.Breadcrumb) (any, error) {
			return "handled", nil
		}, nil
	}

	reg := New(store, execStore, build, nil)
	require.NoError(t, reg.Discover(context.Background(), "ws-1"))
	require.Equal(t, 1, reg.Len())

	reg.Handle(context.Background(), &models.Event{BreadcrumbID: "b1", SchemaName: "order.created"})

	require.Eventually(t, func() bool {
		return execStore.createCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDiscoverSkipsNonTriggerSelectors(t *testing.T) {
	execStore := newFakeExecStore()
	execStore.breadcrumbs["b1"] = &models.Breadcrumb{ID: "b1", SchemaName: "message.v1"}

	def := models.ConsumerDefinition{ID: "ctx-1", Kind: models.ConsumerContext}
	def.Subscriptions.Selectors = []models.Selector{
		{SchemaName: "message.v1", Role: models.RoleContext},
	}

	store := &fakeConsumerStore{defs: []models.ConsumerDefinition{def}}
	build := func(def models.ConsumerDefinition) (executor.Handler, error) {
		return func(ctx context.Context, trigger *models.Breadcrumb) (any, error) { return nil, nil }, nil
	}

	reg := New(store, execStore, build, nil)
	require.NoError(t, reg.Discover(context.Background(), "ws-1"))

	reg.Handle(context.Background(), &models.Event{BreadcrumbID: "b1", SchemaName: "message.v1"})
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 0, execStore.createCount())
}

func TestDeregisterRemovesBinding(t *testing.T) {
	def := models.ConsumerDefinition{ID: "agent-1", Kind: models.ConsumerAgent}
	store := &fakeConsumerStore{defs: []models.ConsumerDefinition{def}}
	build := func(def models.ConsumerDefinition) (executor.Handler, error) {
		return func(ctx context.Context, trigger *models.Breadcrumb) (any, error) { return nil, nil }, nil
	}

	reg := New(store, newFakeExecStore(), build, nil)
	require.NoError(t, reg.Discover(context.Background(), "ws-1"))
	require.Equal(t, 1, reg.Len())

	reg.Deregister("agent-1")
	require.Equal(t, 0, reg.Len())

	reg.Deregister("agent-1") // idempotent
	require.Equal(t, 0, reg.Len())
}

func TestBindSkipsConsumerWhenHandlerFactoryFails(t *testing.T) {
	def := models.ConsumerDefinition{ID: "bad-1", Kind: models.ConsumerAgent}
	store := &fakeConsumerStore{defs: []models.ConsumerDefinition{def}}
	build := func(def models.ConsumerDefinition) (executor.Handler, error) {
		return nil, errors.New("no handler config")
	}

	reg := New(store, newFakeExecStore(), build, nil)
	require.NoError(t, reg.Discover(context.Background(), "ws-1"))
	require.Equal(t, 0, reg.Len())
}
