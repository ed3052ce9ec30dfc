package indexer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/GabrielNunesIT/go-libs/logger"
)

// StatsFunc receives a snapshot of every counter, invoked every
// StatsInterval.
type StatsFunc func(map[string]int64)

// statsCounters holds every named counter from spec.md §6: received, docs,
// http_req, bulk_success, bulk_failure, indexed, errors, batches,
// backlogged, consumed, cleanup_success, cleanup_fail, wheel_error.
type statsCounters struct {
	mu       sync.Mutex
	counters map[string]int64
	fn       StatsFunc
	disabled bool
	log      logger.ILogger
}

func newStatsCounters(fn StatsFunc, log logger.ILogger) *statsCounters {
	return &statsCounters{counters: make(map[string]int64), fn: fn, log: log}
}

func (s *statsCounters) add(name string, delta int64) {
	s.mu.Lock()
	s.counters[name] += delta
	s.mu.Unlock()
}

func (s *statsCounters) snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// report renders the "k=v" sorted-pairs (or "Nothing to report.") stats
// message and, if a callback is configured and not yet disabled, invokes
// it with the snapshot. A callback that panics is disabled for the
// remainder of the session and the failure logged once.
func (s *statsCounters) report() string {
	snap := s.snapshot()
	line := formatStats(snap)

	s.mu.Lock()
	fn := s.fn
	disabled := s.disabled
	s.mu.Unlock()

	if fn == nil || disabled {
		return line
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.mu.Lock()
				s.disabled = true
				s.mu.Unlock()
				s.log.Errorf("stats callback panicked, disabling it for the rest of the session: %v", r)
			}
		}()
		fn(snap)
	}()

	return line
}

// formatStats implements the binding resolution of the source's confused
// ternary precedence: any stats present print as sorted "k=v" pairs,
// otherwise "Nothing to report."
func formatStats(snap map[string]int64) string {
	if len(snap) == 0 {
		return "Nothing to report."
	}

	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%d", k, snap[k]))
	}
	return strings.Join(pairs, " ")
}
