package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withMinimalFile writes a config file that satisfies validate() (at least
// one tail instruction and one server). extra is appended as sibling
// top-level keys to the defaults; it must not redeclare "tail" or
// "elasticsearch" itself (use withFile for that).
func withMinimalFile(t *testing.T, extra string) string {
	t.Helper()
	return withFile(t, "elasticsearch:\n  servers: [\"localhost:9200\"]\ntail:\n  - file: /var/log/app.log\n"+extra)
}

// withFile writes the given content verbatim as a config file and returns
// its path.
func withFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(withMinimalFile(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1000, cfg.Pipeline.BufferSize)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.ShutdownTimeout)
	assert.Equal(t, 5*time.Second, cfg.Elasticsearch.FlushInterval)
	assert.Equal(t, 100, cfg.Elasticsearch.FlushSize)
	assert.Equal(t, "logs-%Y.%m.%d", cfg.Elasticsearch.Index)
	require.Len(t, cfg.Tail, 1)
	assert.Equal(t, "/var/log/app.log", cfg.Tail[0].File)
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Setenv("LOGSHIP_LOGLEVEL", "debug")
	defer os.Unsetenv("LOGSHIP_LOGLEVEL")

	cfg, err := Load(withMinimalFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_NestedEnvOverride(t *testing.T) {
	os.Setenv("LOGSHIP_PIPELINE_BUFFERSIZE", "2000")
	defer os.Unsetenv("LOGSHIP_PIPELINE_BUFFERSIZE")

	cfg, err := Load(withMinimalFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Pipeline.BufferSize)
}

func TestLoad_ConfigFile(t *testing.T) {
	configPath := withMinimalFile(t, "loglevel: warn\npipeline:\n  buffersize: 500\n")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 500, cfg.Pipeline.BufferSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	configPath := withMinimalFile(t, "loglevel: warn\n")

	os.Setenv("LOGSHIP_LOGLEVEL", "error")
	defer os.Unsetenv("LOGSHIP_LOGLEVEL")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel, "expected env to override file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
loglevel: info
  invalid_indent: true
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidContent), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_NoTailInstructions(t *testing.T) {
	configPath := withFile(t, "elasticsearch:\n  servers: [\"localhost:9200\"]\n")

	_, err := Load(configPath)
	assert.Error(t, err, "expected error when no tail instructions are configured")
}

func TestLoad_NoServers(t *testing.T) {
	configPath := withFile(t, "tail:\n  - file: /var/log/app.log\n")

	_, err := Load(configPath)
	assert.Error(t, err, "expected error when no servers are configured")
}

func TestLoad_JSONFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configContent := `{
  "loglevel": "error",
  "pipeline": {"buffersize": 250},
  "elasticsearch": {"servers": ["localhost:9200"]},
  "tail": [{"file": "/var/log/app.log"}]
}`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 250, cfg.Pipeline.BufferSize)
}

func TestLoad_TailInstructionFields(t *testing.T) {
	configPath := withFile(t, `elasticsearch:
  servers: ["localhost:9200"]
tail:
  - file: /var/log/app.log
    interval: 2s
    index: custom-index
    type: custom-type
    decode: ["json"]
    mutate:
      prune: true
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.Len(t, cfg.Tail, 1)

	ti := cfg.Tail[0]
	assert.Equal(t, 2*time.Second, ti.Interval)
	assert.Equal(t, "custom-index", ti.Index)
	assert.Equal(t, "custom-type", ti.Type)
	require.Len(t, ti.Decode, 1)
	assert.Equal(t, "json", ti.Decode[0])
	assert.True(t, ti.Mutate.Prune)
}
