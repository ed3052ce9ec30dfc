package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeValidateConfig(t *testing.T) (cfgPath string) {
	t.Helper()
	dir := t.TempDir()

	logFile := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logFile, []byte(`{"msg":"hello"}`+"\n"), 0644))

	cfgPath = filepath.Join(dir, "config.yaml")
	content := "elasticsearch:\n  servers: [\"localhost:9200\"]\ntail:\n  - file: " + logFile + "\n    decode: [\"json\"]\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func TestValidateCmd_SucceedsOnWellFormedConfig(t *testing.T) {
	cfgPath := writeValidateConfig(t)

	cmd := NewValidateCmd(&cfgPath)
	err := cmd.RunE(cmd, nil)
	assert.NoError(t, err)
}

func TestValidateCmd_FailsOnMissingTailInstructions(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("elasticsearch:\n  servers: [\"localhost:9200\"]\n"), 0644))

	cmd := NewValidateCmd(&cfgPath)
	err := cmd.RunE(cmd, nil)
	assert.Error(t, err)
}

func TestSampleLine_FallsBackWhenFileUnreadable(t *testing.T) {
	assert.Equal(t, "sample log line", sampleLine("/nonexistent/path/app.log"))
}

func TestSampleLine_ReadsFirstLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("first\nsecond\n"), 0644))

	assert.Equal(t, "first", sampleLine(path))
}

func TestIndentLines_PrefixesEveryLine(t *testing.T) {
	got := indentLines("a\nb\n")
	assert.Equal(t, "    a\n    b\n", got)
}
