// Package dispatch owns the HTTP connection pool to the cluster, submits
// batches to /_bulk, and interprets the response (spec.md §4.D).
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
)

// HTTPDoer abstracts HTTP client operations for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Ensure http.Client implements HTTPDoer.
var _ HTTPDoer = (*http.Client)(nil)

// Result is the outcome of one send, handed back to the indexer so it can
// update counters and decide whether to spill.
type Result struct {
	ID      string
	Elapsed time.Duration
	// Success is true for any 2xx response, even one carrying per-item
	// errors (those count against Errors, not against dispatch failure).
	Success bool
	Indexed int
	Errors  int
	Err     error
}

// Dispatcher submits batches to one of the configured servers.
type Dispatcher struct {
	servers []string
	client  HTTPDoer
	log     logger.ILogger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client, for testing.
func WithHTTPClient(client HTTPDoer) Option {
	return func(d *Dispatcher) { d.client = client }
}

// New builds a Dispatcher with a pooled client sized per spec.md §4.D:
// max_open = servers x 3, max_per_host = 3, idle keepalive 60s, timeout =
// requestTimeout + 1s client-side overhead allowance.
func New(servers []string, requestTimeout time.Duration, log logger.ILogger, opts ...Option) *Dispatcher {
	maxConns := len(servers) * 3
	if maxConns < 1 {
		maxConns = 1
	}

	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: 3,
		MaxConnsPerHost:     3,
		IdleConnTimeout:     60 * time.Second,
	}

	d := &Dispatcher{
		servers: servers,
		client: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout + time.Second,
		},
		log: log.SubLogger("Dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// bulkResponse is the subset of the cluster's bulk response this dispatcher
// understands.
type bulkResponse struct {
	Took   int  `json:"took"`
	Errors bool `json:"errors"`
	Items  []struct {
		Create struct {
			Error json.RawMessage `json:"error"`
		} `json:"create"`
		Index struct {
			Error json.RawMessage `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

// Send POSTs batch bytes to a uniformly-random configured server and
// interprets the response. The caller owns start-time bookkeeping and
// lock release; Send only performs the HTTP exchange and response
// classification.
func (d *Dispatcher) Send(ctx context.Context, id string, batch []byte) Result {
	server := d.servers[rand.IntN(len(d.servers))]
	url := fmt.Sprintf("http://%s/_bulk", server)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(batch))
	if err != nil {
		return Result{ID: id, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Debugf("dispatch %s: transport error: %v", id, err)
		return Result{ID: id, Success: false, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.log.Debugf("dispatch %s: status=%d", id, resp.StatusCode)
		return Result{ID: id, Success: false, Err: fmt.Errorf("bulk request failed with status %d", resp.StatusCode)}
	}

	var parsed bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// A 2xx we can't parse is still a successful dispatch; there's
		// nothing more specific to report back.
		d.log.Debugf("dispatch %s: 2xx with unparseable body: %v", id, err)
		return Result{ID: id, Success: true}
	}

	itemErrors := 0
	for _, item := range parsed.Items {
		if len(item.Create.Error) > 0 || len(item.Index.Error) > 0 {
			itemErrors++
		}
	}

	return Result{ID: id, Success: true, Indexed: len(parsed.Items), Errors: itemErrors}
}
