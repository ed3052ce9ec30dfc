package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"reflect"
)

// SyncTemplates fetches each configured index template from the cluster and
// PUTs only those that are missing or whose body differs from what's
// configured (spec.md §4.D). It runs once, at indexer startup, and never
// blocks or retries ingestion: a failed fetch or PUT is logged and left for
// the next process startup to try again.
func (d *Dispatcher) SyncTemplates(ctx context.Context, templates map[string]any) {
	for name, body := range templates {
		current, exists, err := d.getTemplate(ctx, name)
		if err != nil {
			d.log.Warningf("template sync failed: name=%s error=%v", name, err)
			continue
		}

		if exists && templateEqual(current, body) {
			d.log.Debugf("template already in sync: name=%s", name)
			continue
		}

		if err := d.putTemplate(ctx, name, body); err != nil {
			d.log.Warningf("template sync failed: name=%s error=%v", name, err)
			continue
		}
		d.log.Debugf("template synced: name=%s", name)
	}
}

// getTemplate fetches a named template from a random configured server.
// exists is false on a 404 (template not present); any other non-2xx status
// or transport/decode error is returned as err.
func (d *Dispatcher) getTemplate(ctx context.Context, name string) (body any, exists bool, err error) {
	server := d.servers[rand.IntN(len(d.servers))]
	url := fmt.Sprintf("http://%s/_template/%s", server, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("decode template %s: %w", name, err)
	}

	// The cluster wraps the template body under its own name; unwrap it if
	// present so the comparison is against the same shape we configure.
	if wrapped, ok := parsed[name]; ok {
		return wrapped, true, nil
	}
	return parsed, true, nil
}

// templateEqual compares a fetched template against the configured body via
// their JSON-normalized form, since map key order/representation isn't
// significant.
func templateEqual(current, configured any) bool {
	a, err := json.Marshal(current)
	if err != nil {
		return false
	}
	b, err := json.Marshal(configured)
	if err != nil {
		return false
	}

	var na, nb any
	if err := json.Unmarshal(a, &na); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &nb); err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func (d *Dispatcher) putTemplate(ctx context.Context, name string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal template %s: %w", name, err)
	}

	server := d.servers[rand.IntN(len(d.servers))]
	url := fmt.Sprintf("http://%s/_template/%s", server, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
