package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/volsch/logship/internal/config"
	"github.com/volsch/logship/internal/pipeline"
)

// NewRunCmd creates the run command.
func NewRunCmd(cfgFile, logLevel, logFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start tailing the configured files and shipping to the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, cfgFile, logLevel, logFile)
		},
	}

	cmd.Flags().Bool("hot-reload", true, "enable hot-reload of the tail instruction set on config change")
	cmd.Flags().Duration("stats-interval", 0, "override the configured stats reporting interval (0 keeps the config value)")

	return cmd
}

func runPipeline(cmd *cobra.Command, cfgFile, logLevel, logFile *string) error {
	log := SetupLogging(*logLevel, *logFile)

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if statsInterval, _ := cmd.Flags().GetDuration("stats-interval"); statsInterval > 0 {
		cfg.Pipeline.StatsInterval = statsInterval
	}

	p, err := pipeline.New(cfg, log)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	log.Infof("starting logship: files=%d, servers=%d", p.FileCount(), p.ServerCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	hotReloadEnabled, _ := cmd.Flags().GetBool("hot-reload")
	if *cfgFile != "" && hotReloadEnabled {
		startConfigWatcher(ctx, p, cfgFile, log)
	}

	go handleSignals(ctx, cancel, sigChan, cfgFile, p, log)
	go watchdogLoop(ctx, log)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debugf("systemd notify not available: %v", err)
	}

	runErr := p.Run(ctx)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Debugf("systemd notify not available: %v", err)
	}

	if runErr != nil && runErr != context.Canceled {
		return fmt.Errorf("pipeline error: %w", runErr)
	}

	log.Info("logship stopped")
	return nil
}

// watchdogLoop pings the systemd watchdog at half its configured interval,
// a no-op when $WATCHDOG_USEC is unset (i.e. outside a systemd unit with
// WatchdogSec configured).
func watchdogLoop(ctx context.Context, log logger.ILogger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Debugf("watchdog notify failed: %v", err)
			}
		}
	}
}

func startConfigWatcher(ctx context.Context, p *pipeline.Pipeline, cfgFile *string, log logger.ILogger) {
	watcher := config.NewConfigWatcher(*cfgFile, log)
	if err := watcher.Start(ctx); err != nil {
		log.Warningf("failed to start config watcher: %v", err)
		return
	}

	log.Infof("hot-reload enabled: config=%s", *cfgFile)

	go func() {
		for {
			select {
			case newCfg := <-watcher.Changes():
				if err := p.Reconfigure(newCfg); err != nil {
					log.Errorf("reconfigure failed: %v", err)
				}
			case err := <-watcher.Errors():
				log.Errorf("config watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal, cfgFile *string, p *pipeline.Pipeline, log logger.ILogger) {
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading config")
				newCfg, err := config.Load(*cfgFile)
				if err != nil {
					log.Errorf("failed to reload config: %v", err)
					continue
				}
				if err := p.Reconfigure(newCfg); err != nil {
					log.Errorf("reconfigure failed: %v", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Infof("received shutdown signal: %v", sig)
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
