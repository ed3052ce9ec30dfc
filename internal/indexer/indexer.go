// Package indexer implements the indexing session: a single logical
// executor owning the bulk queue, the in-memory batch table, and the
// start-time table, driving flush/dispatch/backlog through a mailbox so
// no locks are needed for its in-process state (spec.md §4.C-§4.E, §5).
package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"math/rand/v2"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/volsch/logship/internal/backlog"
	"github.com/volsch/logship/internal/bulkqueue"
	"github.com/volsch/logship/internal/config"
	"github.com/volsch/logship/internal/dispatch"
	"github.com/volsch/logship/internal/document"
)

// mailbox event types. Every mutation of queue/batch/start/esReady/stats
// happens on the run loop goroutine after receiving one of these; no
// locks guard that state.
type (
	enqueueEvent struct {
		docs []*document.Document
	}
	flushTimerEvent  struct{}
	statsTimerEvent  struct{}
	replayTimerEvent struct{}
	dispatchDoneEvent struct {
		id     string
		result dispatch.Result
	}
	spillDoneEvent struct {
		id             string
		data           []byte
		err            error
		triggerReclaim bool
	}
	reclaimDoneEvent struct {
		deleted, success, fail int
		err                    error
	}
	replayDoneEvent struct {
		batches   []backlog.Batch
		remaining int
		err       error
	}
	wheelErrorEvent struct{}
	shutdownEvent   struct{}
)

// Indexer is the single-actor indexing session for one cluster config.
type Indexer struct {
	cfg        config.IndexerConfig
	statsEvery time.Duration
	dispatcher *dispatch.Dispatcher
	backlog    *backlog.Store
	log        logger.ILogger
	stats      *statsCounters

	mailbox chan any
	done    chan struct{}

	// run-loop-owned state; touched only inside run().
	queue       bulkqueue.Queue
	batch       map[string][]byte
	startTime   map[string]time.Time
	esReady     bool
	shutdown    bool
	flushPending bool

	flushTimer  *time.Timer
	statsTimer  *time.Timer
	replayTimer *time.Timer

	flushSize     int
	flushInterval time.Duration
}

// Option configures an Indexer at construction.
type Option func(*Indexer)

// WithDispatcher overrides the dispatcher, for testing.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(ix *Indexer) { ix.dispatcher = d }
}

// WithBacklogStore overrides the backlog store, for testing.
func WithBacklogStore(s *backlog.Store) Option {
	return func(ix *Indexer) { ix.backlog = s }
}

// New builds an Indexer. FlushSize and FlushInterval are jittered at
// construction by a uniform random factor in [1.00, 1.45) to desynchronize
// co-deployed instances, per spec.md's randomized-jitter design note.
func New(cfg config.IndexerConfig, statsInterval time.Duration, statsFn StatsFunc, log logger.ILogger, opts ...Option) *Indexer {
	sub := log.SubLogger("Indexer")

	jitter := 1.0 + rand.Float64()*0.45

	// The cluster is treated as ready from the start (esReady): the first
	// flush is dispatched, and a failed dispatch spills the batch to the
	// backlog.
	ix := &Indexer{
		cfg:           cfg,
		statsEvery:    statsInterval,
		dispatcher:    dispatch.New(cfg.Servers, cfg.Timeout, sub),
		backlog:       backlog.New(cfg.BatchDir, cfg.BatchDiskSpace),
		log:           sub,
		stats:         newStatsCounters(statsFn, sub),
		mailbox:       make(chan any, 256),
		done:          make(chan struct{}),
		batch:         make(map[string][]byte),
		startTime:     make(map[string]time.Time),
		esReady:       true,
		flushSize:     int(float64(cfg.FlushSize) * jitter),
		flushInterval: time.Duration(float64(cfg.FlushInterval) * jitter),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.flushSize < 1 {
		ix.flushSize = 1
	}
	return ix
}

// Start launches the run loop in the background and returns immediately.
// If index templates are configured, it also kicks off a one-time,
// fire-and-forget template sync against the cluster; a failure there is
// logged and retried on the next process startup, never on the ingestion
// path.
func (ix *Indexer) Start(ctx context.Context) error {
	go ix.run(ctx)

	if len(ix.cfg.Templates) > 0 {
		go ix.dispatcher.SyncTemplates(ctx, ix.cfg.Templates)
	}

	return nil
}

// Stop requests a drain-and-shutdown: one final flush runs, its batch is
// handed off, and no new timers are scheduled. Stop blocks until the
// executor goes idle or ctx is done.
func (ix *Indexer) Stop(ctx context.Context) error {
	select {
	case ix.mailbox <- shutdownEvent{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ix.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue hands one or more finished documents to the bulk queue.
func (ix *Indexer) Enqueue(ctx context.Context, docs ...*document.Document) {
	if len(docs) == 0 {
		return
	}
	select {
	case ix.mailbox <- enqueueEvent{docs: docs}:
	case <-ctx.Done():
	}
}

// IncWheelError records a tail error (spec.md §7's "wheel_error" counter).
func (ix *Indexer) IncWheelError() {
	select {
	case ix.mailbox <- wheelErrorEvent{}:
	default:
		// Mailbox full: the counter is best-effort telemetry, never worth
		// blocking the tail-error path for.
	}
}

// run is the single executor goroutine. Every branch here is the only
// code allowed to touch queue/batch/startTime/esReady/stats.
func (ix *Indexer) run(ctx context.Context) {
	defer close(ix.done)

	ix.statsTimer = time.AfterFunc(ix.statsEvery, func() { ix.post(statsTimerEvent{}) })
	defer ix.stopTimers()

	for {
		select {
		case <-ctx.Done():
			ix.handleShutdown()
			return

		case raw := <-ix.mailbox:
			switch ev := raw.(type) {
			case enqueueEvent:
				ix.handleEnqueue(ev.docs)
			case flushTimerEvent:
				ix.handleFlushTimer()
			case statsTimerEvent:
				ix.handleStatsTimer()
			case replayTimerEvent:
				ix.handleReplayTimer()
			case dispatchDoneEvent:
				ix.handleDispatchDone(ev)
			case spillDoneEvent:
				ix.handleSpillDone(ev)
			case reclaimDoneEvent:
				ix.handleReclaimDone(ev)
			case replayDoneEvent:
				ix.handleReplayDone(ev)
			case wheelErrorEvent:
				ix.stats.add("wheel_error", 1)
			case shutdownEvent:
				ix.handleShutdown()
				return
			}
		}
	}
}

// post delivers an event to the mailbox from outside the run loop
// (timers, completed I/O goroutines). It never blocks indefinitely: a
// full mailbox after shutdown simply drops the event.
func (ix *Indexer) post(ev any) {
	select {
	case ix.mailbox <- ev:
	case <-ix.done:
	}
}

func (ix *Indexer) stopTimers() {
	if ix.flushTimer != nil {
		ix.flushTimer.Stop()
	}
	if ix.statsTimer != nil {
		ix.statsTimer.Stop()
	}
	if ix.replayTimer != nil {
		ix.replayTimer.Stop()
	}
}

// handleEnqueue renders each document into a bulk record and appends it
// to the queue, then applies the size/timer flush-scheduling rule from
// spec.md §4.C.
func (ix *Indexer) handleEnqueue(docs []*document.Document) {
	now := time.Now()
	for _, doc := range docs {
		ix.stats.add("received", 1)

		record, err := bulkqueue.Render(doc, ix.cfg.Index, ix.cfg.Type, now)
		if err != nil {
			ix.log.Warningf("failed to render document, dropping: %v", err)
			continue
		}
		ix.queue.Append(record)
		ix.stats.add("docs", 1)
	}

	if ix.shutdown {
		return
	}

	if ix.queue.Len() >= ix.flushSize && !ix.flushPending {
		ix.flushPending = true
		if ix.flushTimer != nil {
			ix.flushTimer.Stop()
		}
		ix.flushTimer = time.AfterFunc(0, func() { ix.post(flushTimerEvent{}) })
		return
	}

	if ix.flushTimer == nil {
		ix.flushTimer = time.AfterFunc(ix.flushInterval, func() { ix.post(flushTimerEvent{}) })
	}
}

// handleFlushTimer is the flush operation: cancel any pending scheduled
// flush, take the queue, and hand the batch off. Idempotent on an empty
// queue.
func (ix *Indexer) handleFlushTimer() {
	ix.flushPending = false
	if ix.flushTimer != nil {
		ix.flushTimer.Stop()
		ix.flushTimer = nil
	}

	bytes := ix.queue.Take()
	if len(bytes) == 0 {
		if !ix.shutdown {
			ix.flushTimer = time.AfterFunc(ix.flushInterval, func() { ix.post(flushTimerEvent{}) })
		}
		return
	}

	id := batchID(bytes)
	ix.batch[id] = bytes
	ix.startTime[id] = time.Now()
	ix.stats.add("batches", 1)

	if ix.esReady {
		ix.dispatchAsync(id, bytes)
	} else {
		ix.spillAsync(id, bytes)
	}

	if !ix.shutdown {
		ix.flushTimer = time.AfterFunc(ix.flushInterval, func() { ix.post(flushTimerEvent{}) })
	}
}

// dispatchAsync runs the HTTP exchange off the executor goroutine and
// reports the outcome back through the mailbox.
func (ix *Indexer) dispatchAsync(id string, bytes []byte) {
	ix.stats.add("http_req", 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ix.cfg.Timeout+time.Second)
		defer cancel()
		result := ix.dispatcher.Send(ctx, id, bytes)
		ix.post(dispatchDoneEvent{id: id, result: result})
	}()
}

// spillAsync writes a batch to the backlog off the executor goroutine.
func (ix *Indexer) spillAsync(id string, bytes []byte) {
	go func() {
		triggerReclaim, err := ix.backlog.Spill(id, bytes)
		ix.post(spillDoneEvent{id: id, data: bytes, err: err, triggerReclaim: triggerReclaim})
	}()
}

// handleDispatchDone implements on_response (spec.md §4.D): update
// counters, remove the on-disk entry on success, spill on failure, and
// always release the advisory lock.
func (ix *Indexer) handleDispatchDone(ev dispatchDoneEvent) {
	id := ev.id
	res := ev.result

	if res.Success {
		ix.stats.add("bulk_success", 1)
		ix.stats.add("indexed", int64(res.Indexed))
		ix.stats.add("errors", int64(res.Errors))
		delete(ix.batch, id)
		delete(ix.startTime, id)
		if !ix.esReady {
			ix.esReady = true
		}
		if ix.backlog.Exists(id) {
			if err := ix.backlog.Remove(id); err != nil {
				ix.log.Warningf("failed to remove replayed backlog entry %s: %v", id, err)
			}
			ix.stats.add("consumed", 1)
		}
		if err := ix.backlog.Unlock(id); err != nil {
			ix.log.Warningf("failed to release lock for %s: %v", id, err)
		}
		return
	}

	ix.stats.add("bulk_failure", 1)
	if data, ok := ix.batch[id]; ok && !ix.backlog.Exists(id) {
		ix.spillAsync(id, data)
	} else {
		_ = ix.backlog.Unlock(id)
	}
}

// handleSpillDone finishes a spill: counts backlogged records, schedules
// replay if none pending, and triggers reclaim every 10th spill.
func (ix *Indexer) handleSpillDone(ev spillDoneEvent) {
	if ev.err != nil {
		ix.log.Warningf("backlog write failed for %s, will retry next flush cycle: %v", ev.id, ev.err)
		_ = ix.backlog.Unlock(ev.id)
		return
	}

	recordCount := countRecords(ev.data)
	ix.stats.add("backlogged", int64(recordCount))
	_ = ix.backlog.Unlock(ev.id)

	if ix.replayTimer == nil && !ix.shutdown {
		ix.replayTimer = time.AfterFunc(60*time.Second, func() { ix.post(replayTimerEvent{}) })
	}

	if ev.triggerReclaim {
		go func() {
			deleted, success, fail, err := ix.backlog.Reclaim()
			ix.post(reclaimDoneEvent{deleted: deleted, success: success, fail: fail, err: err})
		}()
	}
}

func (ix *Indexer) handleReclaimDone(ev reclaimDoneEvent) {
	if ev.err != nil {
		ix.log.Warningf("reclaim failed: %v", ev.err)
		return
	}
	ix.stats.add("cleanup_success", int64(ev.success))
	ix.stats.add("cleanup_fail", int64(ev.fail))
}

// handleReplayTimer kicks off a replay pass on the backlog store.
func (ix *Indexer) handleReplayTimer() {
	ix.replayTimer = nil
	go func() {
		batches, remaining, err := ix.backlog.Replay()
		ix.post(replayDoneEvent{batches: batches, remaining: remaining, err: err})
	}()
}

// handleReplayDone dispatches every replayed batch (tracking it in the
// batch/start tables exactly like a freshly flushed one) and reschedules
// replay: 15s if more than a pass's worth remain, else 60s.
func (ix *Indexer) handleReplayDone(ev replayDoneEvent) {
	if ev.err != nil {
		ix.log.Warningf("replay listing failed: %v", ev.err)
	}

	for _, b := range ev.batches {
		ix.batch[b.ID] = b.Bytes
		ix.startTime[b.ID] = time.Now()
		ix.dispatchAsync(b.ID, b.Bytes)
	}

	if ix.shutdown {
		return
	}

	delay := 60 * time.Second
	if ev.remaining > 0 {
		delay = 15 * time.Second
	}
	ix.replayTimer = time.AfterFunc(delay, func() { ix.post(replayTimerEvent{}) })
}

func (ix *Indexer) handleStatsTimer() {
	line := ix.stats.report()
	ix.log.Infof("stats: %s", line)
	if !ix.shutdown {
		ix.statsTimer = time.AfterFunc(ix.statsEvery, func() { ix.post(statsTimerEvent{}) })
	}
}

// handleShutdown sets the terminal flag, runs one final flush of
// whatever is queued, and stops every recurring timer. In-flight HTTP
// requests still run to completion and still spill on failure; the run
// loop itself returns once this call completes (the goroutines it
// spawned report back into a mailbox nobody is reading anymore, which is
// fine: they are one-shot and have already done their side effects by
// the time they'd try to post).
func (ix *Indexer) handleShutdown() {
	if ix.shutdown {
		return
	}
	ix.shutdown = true
	ix.stopTimers()
	ix.handleFlushTimer()
}

// batchID computes the content-addressed id for a batch: the hex SHA-1 of
// its exact bytes.
func batchID(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// countRecords counts the two-line records in a rendered batch, for the
// "backlogged" counter (spec.md scenario 2 counts records, not batches).
func countRecords(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	// Each record is exactly two newline-terminated lines.
	return n / 2
}

// Stats returns a formatted snapshot string. Like the timed report, it
// also invokes the stats callback, if one is configured.
func (ix *Indexer) Stats() string {
	return ix.stats.report()
}
