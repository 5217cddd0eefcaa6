package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfigCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVarP(&configPath, "config", "c", filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg, err := loadConfig(newConfigCmd(t))
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.HTTP.Port)
	assert.Equal(t, "pt-PT", cfg.Audio.DefaultSourceLang)
}

func TestLoadConfigExplicitMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := loadConfig(newConfigCmd(t, "--config", missing))
	assert.Error(t, err)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 6000\ntranslation:\n  engine: echo\n"), 0o644))

	cfg, err := loadConfig(newConfigCmd(t, "-c", path))
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.HTTP.Port)
	assert.Equal(t, "echo", cfg.Translation.Engine)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, serviceName+" "+serviceVersion+"\n", out.String())
}
