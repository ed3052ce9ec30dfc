// Package pipeline orchestrates the log collection flow.
package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/volsch/logship/internal/config"
	"github.com/volsch/logship/internal/indexer"
	"github.com/volsch/logship/internal/tailsource"
	"github.com/volsch/logship/internal/transform"
)

// Pipeline wires the Line Source, the transform chain, and the Indexer into
// the single flow spec.md §1 describes: tail -> decode/extract/mutate ->
// bulk index, with an on-disk backlog when the cluster is unreachable.
type Pipeline struct {
	logger logger.ILogger

	indexer *indexer.Indexer

	mu          sync.Mutex
	cfg         *config.Config
	source      *tailsource.Source
	transformer *transform.Transformer
	tailCancel  context.CancelFunc
	tailDone    chan struct{}

	restart chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New creates a pipeline from configuration. It builds (but does not start)
// the line source, transform chain, and indexer.
func New(cfg *config.Config, log logger.ILogger) (*Pipeline, error) {
	if len(cfg.Tail) == 0 {
		return nil, fmt.Errorf("no tail instructions configured")
	}

	p := &Pipeline{
		cfg:     cfg,
		logger:  log.SubLogger("Pipeline"),
		restart: make(chan struct{}, 1),
	}

	p.indexer = indexer.New(cfg.Elasticsearch, cfg.Pipeline.StatsInterval, p.reportStats, p.logger)
	p.rebuildTailComponents(cfg.Tail)

	return p, nil
}

// reportStats is the default stats callback: it logs the rendered "k=v"
// line at Info level every StatsInterval.
func (p *Pipeline) reportStats(snap map[string]int64) {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	line := "Nothing to report."
	if len(keys) > 0 {
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%d", k, snap[k]))
		}
		line = strings.Join(pairs, " ")
	}
	p.logger.Infof("stats: %s", line)
}

func (p *Pipeline) rebuildTailComponents(tail []config.TailInstruction) {
	p.source = tailsource.New(tail)
	p.transformer = transform.New(tail)
}

// Run starts the pipeline and blocks until ctx is cancelled or the tail set
// runs dry (every tailed file has errored out).
func (p *Pipeline) Run(ctx context.Context) error {
	p.runCtx, p.runCancel = context.WithCancel(ctx)
	defer p.runCancel()

	if err := p.indexer.Start(p.runCtx); err != nil {
		return fmt.Errorf("starting indexer: %w", err)
	}

	g, gCtx := errgroup.WithContext(p.runCtx)
	g.Go(func() error {
		return p.superviseTailSubsystem(gCtx)
	})

	err := g.Wait()

	p.shutdown()

	if err != nil {
		return err
	}
	return ctx.Err()
}

// superviseTailSubsystem runs successive generations of the line source +
// transform chain against the current tail instruction set. Reconfigure
// ends a generation early by cancelling it and signalling restart; the loop
// then picks up whatever tail set is current and starts the next
// generation. It returns non-nil only when a generation ends because every
// tailed file ran out (never because of a deliberate restart or ctx
// cancellation), which propagates up through the errgroup as the fatal
// pipeline error.
func (p *Pipeline) superviseTailSubsystem(ctx context.Context) error {
	for {
		if err := p.runTailGeneration(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-p.restart:
			continue
		}
	}
}

// runTailGeneration starts the line source under a child of parent, pumps
// its events through the transform chain into the indexer, and returns once
// the generation ends: nil if it ended via cancellation (parent done or a
// Reconfigure-triggered restart), or an error if the tail set ran dry on
// its own.
func (p *Pipeline) runTailGeneration(parent context.Context) error {
	p.mu.Lock()
	source := p.source
	fileCount := len(p.cfg.Tail)
	p.mu.Unlock()

	tailCtx, cancel := context.WithCancel(parent)
	defer cancel()

	events, err := source.Start(tailCtx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.tailCancel = cancel
	p.tailDone = done
	p.mu.Unlock()
	defer close(done)

	p.logger.Infof("line source started: files=%d", fileCount)
	p.pump(tailCtx, events)

	if tailCtx.Err() != nil {
		return nil
	}
	return fmt.Errorf("line source exhausted: every tailed file has stopped")
}

// pump reads tail events until the source's channel closes, feeding lines
// through the transform chain into the indexer and counting tail errors as
// wheel_error.
func (p *Pipeline) pump(ctx context.Context, events <-chan tailsource.Event) {
	for ev := range events {
		if ev.Err != nil {
			p.logger.Warningf("tail error: file=%s op=%s code=%s message=%s",
				ev.FileID, ev.Err.Op, ev.Err.Code, ev.Err.Message)
			p.indexer.IncWheelError()
			continue
		}

		p.mu.Lock()
		transformer := p.transformer
		p.mu.Unlock()

		doc, ok := transformer.Process(ev.FileID, ev.Line)
		if !ok {
			continue
		}
		p.indexer.Enqueue(ctx, doc)
	}
}

// shutdown stops the current tail generation, waits for its pump goroutine
// to drain, then stops the indexer within the configured shutdown timeout
// so its final flush can complete.
func (p *Pipeline) shutdown() {
	p.mu.Lock()
	cancel := p.tailCancel
	done := p.tailDone
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), p.cfg.Pipeline.ShutdownTimeout)
	defer cancel2()

	if err := p.indexer.Stop(shutdownCtx); err != nil {
		p.logger.Warningf("indexer stop error: %v", err)
	}

	p.logger.Debug("pipeline stopped")
}

// Reconfigure applies a new configuration. A changed tail instruction set
// ends the current tail generation and starts a new one against the
// updated set; the indexer, which owns in-flight batches and the disk
// backlog, is left running across reconfiguration and never restarted from
// a config reload.
func (p *Pipeline) Reconfigure(newCfg *config.Config) error {
	p.mu.Lock()
	oldTail := p.cfg.Tail
	p.cfg = newCfg
	tailChanged := !reflect.DeepEqual(oldTail, newCfg.Tail)
	cancel := p.tailCancel
	done := p.tailDone
	p.mu.Unlock()

	if !tailChanged {
		p.logger.Debug("reconfigure: tail instructions unchanged, nothing to restart")
		return nil
	}

	p.logger.Infof("tail instruction set changed, restarting line source: files=%d", len(newCfg.Tail))

	p.mu.Lock()
	p.rebuildTailComponents(newCfg.Tail)
	p.mu.Unlock()

	if cancel == nil {
		// Not running yet; the new components are picked up when Run starts.
		return nil
	}

	cancel()
	if done != nil {
		<-done
	}

	select {
	case p.restart <- struct{}{}:
	default:
	}
	return nil
}

// FileCount returns the number of configured tail instructions.
func (p *Pipeline) FileCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cfg.Tail)
}

// ServerCount returns the number of configured cluster servers.
func (p *Pipeline) ServerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cfg.Elasticsearch.Servers)
}

// Stats renders the indexer's current counters.
func (p *Pipeline) Stats() string {
	return p.indexer.Stats()
}
