package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/breadcrumb/internal/config"
	"github.com/haasonsaas/breadcrumb/internal/recordclient"
)

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Validate configuration and check record store connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "breadcrumbd.yaml", "Path to YAML configuration file")
	return cmd
}

func runStatus(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Printf("config: ok (workspace=%s agent_id=%s mode=%s)\n", cfg.Identity.Workspace, cfg.Identity.AgentID, cfg.Identity.Mode)

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.close(context.Background())

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := rt.client.Search(checkCtx, recordclient.SearchQuery{Limit: 1}); err != nil {
		fmt.Printf("record store: unreachable (%v)\n", err)
		return err
	}
	fmt.Println("record store: reachable")
	return nil
}
