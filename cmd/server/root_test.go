package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\nbackend = \"memory\"\n"), 0o644))
	t.Setenv("TAVERN_LLM_MODEL", "llama3")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check-config", "--config", path})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "config ok: storage=memory provider=ollama model=llama3\n", out.String())
}

func TestCheckConfigMissingFileUsesDefaults(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check-config", "-c", filepath.Join(t.TempDir(), "absent.toml")})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "storage=sqlite")
}

func TestCheckConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\nbackend = \"postgres\"\n"), 0o644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"check-config", "--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
