package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/breadcrumb/internal/config"
	"github.com/haasonsaas/breadcrumb/internal/contextbuilder"
	"github.com/haasonsaas/breadcrumb/internal/dispatcher"
	"github.com/haasonsaas/breadcrumb/internal/registry"
	"github.com/haasonsaas/breadcrumb/internal/supervise"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SSE dispatcher, context assembler and subscription registry",
		Long: `serve connects to the record store's breadcrumb event stream and fans
it out to the Event Bridge, the Context Assembler's update-trigger router
and the Subscription Registry, which discovers and hot-binds agent/tool/
workflow/context-builder consumer definitions tagged for this workspace.

On SIGINT/SIGTERM the run context is cancelled and the dispatcher loop is
awaited up to the drain deadline before exit. Executor invocations already
started run on their own goroutines and are not awaited.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "breadcrumbd.yaml", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.close(context.Background())

	shell := supervise.New(0, logger)
	runCtx, cancel := context.WithCancel(ctx)

	assembler := contextbuilder.New(rt.contextStore(), nil)
	queue := contextbuilder.NewRebuildQueue(contextbuilder.DefaultDebounce, contextbuilder.DefaultQueueDepth,
		func(ctx context.Context, consumerID string, ccfg models.ContextConfig, trigger *models.Breadcrumb) {
			if _, err := assembler.Rebuild(ctx, consumerID, ccfg, trigger); err != nil {
				logger.Error("context rebuild failed", "consumer_id", consumerID, "error", err)
			}
		}, logger)
	router := contextbuilder.NewRouter(queue, rt.contextStore())

	reg := registry.New(rt.consumerStore(), rt.client, rt.defaultHandlerFactory(), logger)
	if err := reg.Discover(runCtx, cfg.Identity.Workspace); err != nil {
		logger.Warn("initial consumer discovery failed", "error", err)
	}
	if err := rt.syncContextRouter(runCtx, router, cfg.Identity.Workspace); err != nil {
		logger.Warn("initial context router sync failed", "error", err)
	}

	dispCfg := dispatcher.DefaultConfig()
	disp := dispatcher.New(rt.client, rt.tokens, rt.bridge, rt.m, dispCfg, logger)
	disp.AddRoute(reg)
	disp.AddRoute(router)
	disp.AddRoute(discoveryRoute{rt: rt, registry: reg, router: router, workspace: cfg.Identity.Workspace, logger: logger})

	shell.Go(func() {
		disp.Run(runCtx)
	})

	return shell.Run(runCtx, cancel)
}
