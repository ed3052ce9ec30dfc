package indexer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/volsch/logship/internal/config"
	"github.com/volsch/logship/internal/document"
	"github.com/volsch/logship/internal/testutil"
)

func newTestIndexer(t *testing.T, flushSize int, flushInterval time.Duration) (*Indexer, func() []string, func() map[string]int64) {
	t.Helper()

	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"took":1,"errors":false,"items":[{"create":{}},{"create":{}}]}`))
	}))
	t.Cleanup(server.Close)

	host := strings.TrimPrefix(server.URL, "http://")

	var statsMu sync.Mutex
	var lastStats map[string]int64
	statsFn := func(s map[string]int64) {
		statsMu.Lock()
		lastStats = s
		statsMu.Unlock()
	}

	cfg := config.IndexerConfig{
		Servers:       []string{host},
		Timeout:       2 * time.Second,
		FlushInterval: flushInterval,
		FlushSize:     flushSize,
		Index:         "logs-%Y",
		Type:          "log",
		BatchDir:      t.TempDir(),
	}

	ix := New(cfg, time.Hour, statsFn, testutil.NewTestLogger())
	// Tests want deterministic thresholds; bypass the startup jitter.
	ix.flushSize = flushSize
	ix.flushInterval = flushInterval

	getBodies := func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(bodies))
		copy(out, bodies)
		return out
	}
	getStats := func() map[string]int64 {
		statsMu.Lock()
		defer statsMu.Unlock()
		return lastStats
	}

	return ix, getBodies, getStats
}

func TestIndexer_HappyPath(t *testing.T) {
	ix, getBodies, _ := newTestIndexer(t, 2, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ix.Start(ctx))

	docA := document.New()
	docA.Set("msg", "a")
	docB := document.New()
	docB.Set("msg", "b")

	ix.Enqueue(ctx, docA, docB)

	deadline := time.After(3 * time.Second)
	for {
		bodies := getBodies()
		if len(bodies) == 1 {
			lines := strings.Split(strings.TrimRight(bodies[0], "\n"), "\n")
			require.Len(t, lines, 4, "expected 4 lines (2 records), got %q", bodies[0])
			var envelope struct {
				Index struct {
					Index string `json:"_index"`
					Type  string `json:"_type"`
				} `json:"index"`
			}
			require.NoError(t, json.Unmarshal([]byte(lines[0]), &envelope))
			require.True(t, strings.HasPrefix(envelope.Index.Index, "logs-"), "expected logs-<year> index, got %q", envelope.Index.Index)
			require.Equal(t, "log", envelope.Index.Type)
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a single POST, got %d", len(bodies))
		case <-time.After(10 * time.Millisecond):
		}
	}

	_ = ix.Stop(context.Background())
}

func TestIndexer_ClusterDownSpillsToBacklog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	dir := t.TempDir()

	cfg := config.IndexerConfig{
		Servers:       []string{host},
		Timeout:       2 * time.Second,
		FlushInterval: 30 * time.Second,
		FlushSize:     2,
		Index:         "logs-%Y",
		Type:          "log",
		BatchDir:      dir,
	}

	ix := New(cfg, time.Hour, nil, testutil.NewTestLogger())
	ix.flushSize = 2
	ix.flushInterval = 30 * time.Second
	// Cluster-down path: the server answers 503, so the first flush's
	// dispatch fails and the batch spills to the backlog.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ix.Start(ctx))

	docA := document.New()
	docA.Set("msg", "a")
	docB := document.New()
	docB.Set("msg", "b")
	ix.Enqueue(ctx, docA, docB)

	deadline := time.After(2 * time.Second)
	for {
		entries, _ := listBatchFiles(dir)
		if len(entries) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a spilled batch file, found %v", entries)
		case <-time.After(10 * time.Millisecond):
		}
	}

	_ = ix.Stop(context.Background())
}

func listBatchFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".batch") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
