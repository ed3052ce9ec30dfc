package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volsch/logship/internal/config"
	"github.com/volsch/logship/internal/testutil"
)

func TestNew_RejectsEmptyTailSet(t *testing.T) {
	cfg := &config.Config{}
	_, err := New(cfg, testutil.NewTestLogger())
	assert.Error(t, err)
}

func TestNew_BuildsFileAndServerCounts(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logFile, []byte("hello\n"), 0644))

	cfg := &config.Config{
		Pipeline: config.PipelineConfig{ShutdownTimeout: time.Second},
		Elasticsearch: config.IndexerConfig{
			Servers:  []string{"localhost:9200"},
			BatchDir: t.TempDir(),
		},
		Tail: []config.TailInstruction{{File: logFile}},
	}

	p, err := New(cfg, testutil.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, p.FileCount())
	assert.Equal(t, 1, p.ServerCount())
}

func TestRun_TailsFileAndIndexesLines(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"took":1,"errors":false,"items":[{"create":{}}]}`))
	}))
	defer server.Close()
	host := strings.TrimPrefix(server.URL, "http://")

	dir := t.TempDir()
	logFile := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logFile, []byte(""), 0644))

	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			ShutdownTimeout: time.Second,
			StatsInterval:   time.Hour,
		},
		Elasticsearch: config.IndexerConfig{
			Servers:       []string{host},
			Timeout:       2 * time.Second,
			FlushInterval: 50 * time.Millisecond,
			FlushSize:     1,
			Index:         "logs-%Y",
			Type:          "log",
			BatchDir:      t.TempDir(),
		},
		Tail: []config.TailInstruction{{File: logFile, Decode: []string{"json"}}},
	}

	p, err := New(cfg, testutil.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- p.Run(ctx) }()

	// Give the line source a moment to open the file before appending.
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"msg":"hello world"}` + "\n")
	require.NoError(t, err)
	f.Close()

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		n := len(bodies)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a bulk request")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-runErrCh:
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReconfigure_NoopWhenTailUnchanged(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logFile, []byte("x\n"), 0644))

	cfg := &config.Config{
		Pipeline: config.PipelineConfig{ShutdownTimeout: time.Second},
		Elasticsearch: config.IndexerConfig{
			Servers:  []string{"localhost:9200"},
			BatchDir: t.TempDir(),
		},
		Tail: []config.TailInstruction{{File: logFile}},
	}

	p, err := New(cfg, testutil.NewTestLogger())
	require.NoError(t, err)

	sameCfg := *cfg
	require.NoError(t, p.Reconfigure(&sameCfg))
	assert.Equal(t, 1, p.FileCount())
}
