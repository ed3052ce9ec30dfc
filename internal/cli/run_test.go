package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCmd_FailsFastOnBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("elasticsearch:\n  servers: [\"localhost:9200\"]\n"), 0644))

	logLevel := "error"
	logFile := ""
	cmd := NewRunCmd(&cfgPath, &logLevel, &logFile)

	err := cmd.RunE(cmd, nil)
	assert.Error(t, err, "expected a missing tail instruction set to fail before the pipeline starts")
}

func TestRunCmd_RegistersHotReloadAndStatsIntervalFlags(t *testing.T) {
	cfgPath := ""
	logLevel := "info"
	logFile := ""
	cmd := NewRunCmd(&cfgPath, &logLevel, &logFile)

	hotReload := cmd.Flags().Lookup("hot-reload")
	require.NotNil(t, hotReload)
	assert.Equal(t, "true", hotReload.DefValue)

	statsInterval := cmd.Flags().Lookup("stats-interval")
	require.NotNil(t, statsInterval)
}
