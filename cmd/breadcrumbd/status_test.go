package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/breadcrumb/internal/recordstore/testserver"
)

func writeTestConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "breadcrumbd.yaml")
	content := "record_store:\n" +
		"  base_url: \"" + baseURL + "\"\n" +
		"identity:\n" +
		"  owner_id: owner-1\n" +
		"  agent_id: agent-1\n" +
		"  workspace: ws-1\n" +
		"  mode: local\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunStatusReportsReachableRecordStore(t *testing.T) {
	srv := testserver.New()
	baseURL := srv.Start()
	defer srv.Close()

	configPath := writeTestConfig(t, baseURL)
	err := runStatus(context.Background(), configPath)
	require.NoError(t, err)
}

func TestRunStatusFailsOnMissingConfig(t *testing.T) {
	err := runStatus(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRunStatusFailsOnUnreachableRecordStore(t *testing.T) {
	configPath := writeTestConfig(t, "http://127.0.0.1:1")
	err := runStatus(context.Background(), configPath)
	require.Error(t, err)
}
