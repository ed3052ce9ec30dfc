package config

import (
	"context"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches the config file for changes and reloads it, logging
// which tail instructions a reload actually adds or removes so an operator
// can tell a hot-reload apart from a no-op edit (comment tweak, reordering,
// whitespace) without diffing the file by hand.
type ConfigWatcher struct {
	path       string
	onChange   chan *Config
	onError    chan error
	debounce   time.Duration
	lastConfig *Config
	mu         sync.Mutex
	logger     logger.ILogger
}

// NewConfigWatcher creates a new config file watcher.
func NewConfigWatcher(path string, log logger.ILogger) *ConfigWatcher {
	return &ConfigWatcher{
		path:     path,
		onChange: make(chan *Config, 1),
		onError:  make(chan error, 1),
		debounce: 100 * time.Millisecond,
		logger:   log.SubLogger("ConfigWatcher"),
	}
}

// Changes returns channel that receives new configs on file changes.
func (w *ConfigWatcher) Changes() <-chan *Config {
	return w.onChange
}

// Errors returns channel that receives errors during reload.
func (w *ConfigWatcher) Errors() <-chan error {
	return w.onError
}

// Start begins watching the config file.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(w.path); err != nil {
		watcher.Close()
		return err
	}

	w.logger.Debugf("started watching config file: %s", w.path)
	go w.watchLoop(ctx, watcher)
	return nil
}

// watchLoop handles file system events.
func (w *ConfigWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounceTimer *time.Timer
	var debounceChan <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			w.logger.Debug("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// Only react to write and create events
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.logger.Debugf("config file change detected: op=%s", event.Op)

			// Debounce rapid changes
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounce)
			debounceChan = debounceTimer.C

		case <-debounceChan:
			debounceChan = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("fsnotify error: %v", err)
			select {
			case w.onError <- err:
			default:
			}
		}
	}
}

// reload loads the config file and sends it on the change channel.
func (w *ConfigWatcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Errorf("failed to reload config: %v", err)
		select {
		case w.onError <- err:
		default:
		}
		return
	}

	w.mu.Lock()
	previous := w.lastConfig
	w.lastConfig = cfg
	w.mu.Unlock()

	added, removed := diffTailFiles(previous, cfg)
	w.logger.Infof("config reloaded: path=%s tail_added=%d tail_removed=%d", w.path, len(added), len(removed))
	for _, f := range added {
		w.logger.Debugf("tail instruction added: file=%s", f)
	}
	for _, f := range removed {
		w.logger.Debugf("tail instruction removed: file=%s", f)
	}

	select {
	case w.onChange <- cfg:
	default:
		// Channel full, drop older update
		w.logger.Warning("config change channel full, dropping update")
		select {
		case <-w.onChange:
		default:
		}
		select {
		case w.onChange <- cfg:
		default:
		}
	}
}

// diffTailFiles reports which files newCfg's tail instructions add or drop
// relative to prevCfg's. prevCfg is nil on the first successful load, in
// which case every file in newCfg counts as added.
func diffTailFiles(prevCfg, newCfg *Config) (added, removed []string) {
	prev := map[string]bool{}
	if prevCfg != nil {
		for _, ti := range prevCfg.Tail {
			prev[ti.File] = true
		}
	}
	next := map[string]bool{}
	for _, ti := range newCfg.Tail {
		next[ti.File] = true
		if !prev[ti.File] {
			added = append(added, ti.File)
		}
	}
	for file := range prev {
		if !next[file] {
			removed = append(removed, file)
		}
	}
	return added, removed
}

// LastConfig returns the last successfully loaded config.
func (w *ConfigWatcher) LastConfig() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastConfig
}
