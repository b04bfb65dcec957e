package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/breadcrumb/internal/bootstrap"
	"github.com/haasonsaas/breadcrumb/internal/config"
)

func buildBootstrapCmd() *cobra.Command {
	var configPath string
	var seedDir string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Idempotently seed schemas, tools, agents, workflows and context configs",
		Long: `bootstrap reads seed items from --seed-dir (schemas/, tools/, agents/,
workflows/, context_configs/, demo/ subdirectories of *.json files) and
creates any that do not already exist, in that dependency order. A prior
successful run is recorded in a local marker file and skipped on replay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd.Context(), configPath, seedDir)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "breadcrumbd.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&seedDir, "seed-dir", "", "Directory of seed JSON files (defaults to bootstrap.seed_dir from config)")
	return cmd
}

func runBootstrap(ctx context.Context, configPath, seedDirFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	newLogger(cfg.Logging.Level, cfg.Logging.Format)

	seedDir := seedDirFlag
	if seedDir == "" {
		seedDir = cfg.Bootstrap.SeedDir
	}
	if seedDir == "" {
		return fmt.Errorf("no seed directory configured: set --seed-dir or bootstrap.seed_dir")
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.close(context.Background())

	plan, err := bootstrap.LoadPlanFromDir(seedDir)
	if err != nil {
		return fmt.Errorf("load seed plan: %w", err)
	}

	loader, err := rt.bootstrapLoader()
	if err != nil {
		return fmt.Errorf("build bootstrap loader: %w", err)
	}
	return loader.Run(ctx, plan)
}
