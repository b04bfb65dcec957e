// Package bootstrap implements the idempotent Bootstrap Loader (spec §4.H):
// seed schemas, tools, agents, workflows, context configs and demo
// breadcrumbs into a fresh environment in dependency order, skipping any
// item already present. Grounded on the teacher's idempotent plugin/tool
// registration style (internal/agent/tool_registry.go) and its config
// defaults-then-validate pipeline (internal/config/config.go) for the
// ordered-stage shape.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// MarkerFileName is the local marker written after a successful full run,
// letting a restart skip straight past bootstrap (spec §4.H).
const MarkerFileName = ".bootstrapped"

// Item is one thing the loader may seed: a breadcrumb keyed by an
// idempotency key unique within its schema.
type Item struct {
	IdempotencyKey string
	Request        models.CreateBreadcrumbRequest
}

// Store is the subset of the Record Client the loader needs: idempotent
// existence check by (schema_name, idempotency tag) and create.
type Store interface {
	Exists(ctx context.Context, schemaName, idempotencyKey string) (bool, error)
	Create(ctx context.Context, req models.CreateBreadcrumbRequest) (*models.CreateBreadcrumbResult, error)
}

// Plan groups seed items by stage, in the dependency order spec §4.H
// mandates: schemas → tools → agents → workflows → context configs → demo
// breadcrumbs.
type Plan struct {
	Schemas        []Item
	Tools          []Item
	Agents         []Item
	Workflows      []Item
	ContextConfigs []Item
	Demo           []Item
}

func (p Plan) stages() [][]Item {
	return [][]Item{p.Schemas, p.Tools, p.Agents, p.Workflows, p.ContextConfigs, p.Demo}
}

func (p Plan) stageNames() []string {
	return []string{"schemas", "tools", "agents", "workflows", "context_configs", "demo"}
}

// MarkerStore is an optional durable alternative to the flat marker file,
// implemented by internal/localstore against SQLite.
type MarkerStore interface {
	AlreadyBootstrapped(ctx context.Context) (bool, error)
	MarkBootstrapped(ctx context.Context) error
}

// Loader runs a Plan against a Store, marking completion so a second run
// against an already-seeded environment is a no-op.
type Loader struct {
	store       Store
	markerDir   string
	markerStore MarkerStore
	logger      *slog.Logger
}

// New builds a Loader using a flat marker file in markerDir.
func New(store Store, markerDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, markerDir: markerDir, logger: logger.With("component", "bootstrap")}
}

// NewWithMarkerStore builds a Loader backed by a durable MarkerStore (e.g.
// localstore.MarkerStore) instead of a flat file.
func NewWithMarkerStore(store Store, ms MarkerStore, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, markerStore: ms, logger: logger.With("component", "bootstrap")}
}

// Run executes plan stage by stage. Within a stage, items already present
// (by idempotency key) are skipped; a failure in one item does not halt
// the stage, but the error is returned after the full plan completes so
// the caller can decide whether to retry. A prior successful Run is
// detected via the marker file and skipped entirely.
func (l *Loader) Run(ctx context.Context, plan Plan) error {
	already, err := l.alreadyBootstrapped(ctx)
	if err != nil {
		l.logger.Warn("bootstrap marker check failed, proceeding", "error", err)
	} else if already {
		l.logger.Info("bootstrap marker present, skipping")
		return nil
	}

	var errs []error
	stages := plan.stages()
	names := plan.stageNames()
	for i, items := range stages {
		if err := l.runStage(ctx, names[i], items); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("bootstrap: %d stage error(s), first: %w", len(errs), errs[0])
	}

	return l.writeMarker(ctx)
}

func (l *Loader) runStage(ctx context.Context, stage string, items []Item) error {
	var firstErr error
	for _, item := range items {
		exists, err := l.store.Exists(ctx, item.Request.SchemaName, item.IdempotencyKey)
		if err != nil {
			l.logger.Error("bootstrap exists check failed", "stage", stage, "key", item.IdempotencyKey, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if exists {
			l.logger.Debug("bootstrap item already present, skipping", "stage", stage, "key", item.IdempotencyKey)
			continue
		}

		if _, err := l.store.Create(ctx, item.Request); err != nil {
			l.logger.Error("bootstrap create failed", "stage", stage, "key", item.IdempotencyKey, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		l.logger.Info("bootstrap item created", "stage", stage, "key", item.IdempotencyKey)
	}
	return firstErr
}

func (l *Loader) markerPath() string {
	return filepath.Join(l.markerDir, MarkerFileName)
}

func (l *Loader) alreadyBootstrapped(ctx context.Context) (bool, error) {
	if l.markerStore != nil {
		return l.markerStore.AlreadyBootstrapped(ctx)
	}
	if l.markerDir == "" {
		return false, nil
	}
	_, err := os.Stat(l.markerPath())
	return err == nil, nil
}

func (l *Loader) writeMarker(ctx context.Context) error {
	if l.markerStore != nil {
		return l.markerStore.MarkBootstrapped(ctx)
	}
	if l.markerDir == "" {
		return nil
	}
	if err := os.MkdirAll(l.markerDir, 0o755); err != nil {
		return fmt.Errorf("bootstrap: create marker dir: %w", err)
	}
	return os.WriteFile(l.markerPath(), []byte("ok\n"), 0o644)
}
