package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Run.MaxBatches)
	assert.True(t, cfg.Run.AskWhenUncertain)
	assert.Equal(t, "codex", cfg.Hands.Provider)
	assert.Equal(t, "codex_schema", cfg.Mind.Provider)
	assert.True(t, cfg.Checkpoint.MiningEnabled())
}

func TestLoadJSONMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"run": {"max_batches": 5}, "violation_response": {"mode": "continue"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Run.MaxBatches)
	assert.Equal(t, "continue", cfg.Violation.Mode)
	// Untouched sections keep their defaults.
	assert.Equal(t, 40, cfg.Checkpoint.SegmentMaxRecords)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "mind:\n  provider: anthropic\n  model: claude-sonnet-4\nrun:\n  max_batches: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Mind.Provider)
	assert.Equal(t, "claude-sonnet-4", cfg.Mind.Model)
	assert.Equal(t, 3, cfg.Run.MaxBatches)
}

func TestLoadMalformedIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0644))

	_, err := Load(path)
	assert.Error(t, err, "malformed config must fail loudly")
}

func TestMemoryBackendEnvOverride(t *testing.T) {
	t.Setenv("MI_MEMORY_BACKEND", "in_memory")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, "in_memory", cfg.Memory.Backend)
}

func TestMIHome(t *testing.T) {
	t.Setenv("MI_HOME", "/custom/mi")

	assert.Equal(t, "/custom/mi", MIHome())
	assert.Equal(t, "/custom/mi/config.json", DefaultConfigPath())
}

func TestProjectRootPrecedence(t *testing.T) {
	t.Setenv("MI_PROJECT_ROOT", "/env/root")

	got, err := ProjectRoot("/flag/root")
	require.NoError(t, err)
	assert.Equal(t, "/flag/root", got, "explicit flag must win")

	got, err = ProjectRoot("")
	require.NoError(t, err)
	assert.Equal(t, "/env/root", got, "env var is second in precedence")
}

func TestAPIKeyResolution(t *testing.T) {
	t.Setenv("CUSTOM_KEY", "sk-custom")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	m := MindConfig{Provider: "anthropic", APIKeyEnv: "CUSTOM_KEY"}
	assert.Equal(t, "sk-custom", m.APIKey(), "api_key_env must take precedence")

	m.APIKeyEnv = ""
	assert.Equal(t, "sk-ant", m.APIKey(), "provider-conventional env must be the fallback")
}
