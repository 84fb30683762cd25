package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	addHarvestFlags(c)
	addAnalyzeFlags(c)
	addCommonFlags(c)
	require.NoError(t, c.ParseFlags(args))
	return c
}

func withConfigPath(t *testing.T, path string) {
	t.Helper()
	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })
}

func TestLoadConfigLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repometrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\npage_size: 10\ntarget_count: 50\n"), 0o644))
	withConfigPath(t, path)
	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("REPOMETRICS_PAGE_SIZE", "20")

	c := newFlagCommand(t, "--target", "7", "--tool-timeout", "90s")
	cfg, err := loadConfig(c.Flags())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers, "file")
	assert.Equal(t, 20, cfg.PageSize, "env over file")
	assert.Equal(t, 7, cfg.TargetCount, "flag over file")
	assert.Equal(t, 90*time.Second, cfg.ToolTimeout)
	assert.Equal(t, "env-token", cfg.Token)
}

func TestLoadConfigUnsetFlagsDoNotMask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repometrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_format: dual\n"), 0o644))
	withConfigPath(t, path)
	t.Setenv("GITHUB_TOKEN", "x")

	cfg, err := loadConfig(newFlagCommand(t).Flags())
	require.NoError(t, err)
	assert.Equal(t, "dual", cfg.OutputFormat)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	withConfigPath(t, "")
	t.Setenv("GITHUB_TOKEN", "x")

	_, err := loadConfig(newFlagCommand(t, "--page-size", "500").Flags())
	assert.ErrorContains(t, err, "page size")

	_, err = loadConfig(newFlagCommand(t, "--format", "xml").Flags())
	assert.ErrorContains(t, err, "output format")
}

func TestLoadConfigBadEnvironment(t *testing.T) {
	withConfigPath(t, "")
	t.Setenv("REPOMETRICS_WORKERS", "many")

	_, err := loadConfig(newFlagCommand(t).Flags())
	assert.ErrorContains(t, err, "REPOMETRICS_WORKERS")
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"harvest", "analyze", "run"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, runCmd.Flags().Lookup("target"))
	assert.NotNil(t, runCmd.Flags().Lookup("workers"))
	assert.Nil(t, harvestCmd.Flags().Lookup("workers"))
}
