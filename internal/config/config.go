// Package config provides configuration loading with layered overrides.
// Load order: defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	configloader "github.com/GabrielNunesIT/go-libs/config-loader"
)

// Config is the root configuration structure for the log shipper.
type Config struct {
	LogLevel      string            `koanf:"loglevel" yaml:"log_level" json:"log_level"`
	LogFile       string            `koanf:"logfile" yaml:"log_file" json:"log_file"`
	Pipeline      PipelineConfig    `koanf:"pipeline"`
	Elasticsearch IndexerConfig     `koanf:"elasticsearch"`
	Tail          []TailInstruction `koanf:"tail"`
}

// PipelineConfig controls ambient pipeline behavior shared by every tail
// instruction's feed into the indexer.
type PipelineConfig struct {
	BufferSize      int           `koanf:"buffersize" yaml:"buffer_size" json:"buffer_size"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	StatsInterval   time.Duration `koanf:"statsinterval" yaml:"stats_interval" json:"stats_interval"`
}

// IndexerConfig is the Indexer Config record from spec.md §3: cluster
// servers, flush triggers, default index/type, disk backlog parameters.
type IndexerConfig struct {
	Servers        []string      `koanf:"servers"`
	Timeout        time.Duration `koanf:"timeout"`
	FlushInterval  time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
	FlushSize      int           `koanf:"flushsize" yaml:"flush_size" json:"flush_size"`
	Index          string        `koanf:"index"`
	Type           string        `koanf:"type"`
	BatchDir       string        `koanf:"batchdir" yaml:"batch_dir" json:"batch_dir"`
	BatchDiskSpace int64         `koanf:"batchdiskspace" yaml:"batch_disk_space" json:"batch_disk_space"`
	Templates      map[string]any `koanf:"templates"`
}

// TailInstruction is the per-file configuration record from spec.md §3/§6.
type TailInstruction struct {
	File     string        `koanf:"file"`
	Interval time.Duration `koanf:"interval"`
	Index    string        `koanf:"index"`
	Type     string        `koanf:"type"`
	Decode   []string      `koanf:"decode"`
	Extract  []ExtractStep `koanf:"extract"`
	Mutate   MutateConfig  `koanf:"mutate"`
}

// ExtractStep configures one entry of the ordered extract stage.
type ExtractStep struct {
	By         string   `koanf:"by"`
	From       string   `koanf:"from"`
	When       string   `koanf:"when"`
	SplitOn    string   `koanf:"split_on" yaml:"split_on" json:"split_on"`
	SplitParts []string `koanf:"split_parts" yaml:"split_parts" json:"split_parts"`
	Into       string   `koanf:"into"`
}

// MutateConfig configures the fixed-order mutate stage.
type MutateConfig struct {
	Copy   map[string][]string `koanf:"copy"`
	Rename map[string]string   `koanf:"rename"`
	Remove []string            `koanf:"remove"`
	Append map[string]any      `koanf:"append"`
	Prune  bool                `koanf:"prune"`
}

// defaults returns the default configuration values.
func defaults() Config {
	return Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			BufferSize:      1000,
			ShutdownTimeout: 30 * time.Second,
			StatsInterval:   30 * time.Second,
		},
		Elasticsearch: IndexerConfig{
			Timeout:       10 * time.Second,
			FlushInterval: 5 * time.Second,
			FlushSize:     100,
			Index:         "logs-%Y.%m.%d",
			Type:          "log",
			BatchDir:      "/var/lib/logship/backlog",
		},
	}
}

// Load reads configuration from all sources with proper override order.
// Order: defaults -> config file -> environment variables.
func Load(configPath string) (*Config, error) {
	opts := []configloader.Option[Config]{
		configloader.WithDefaults[Config](defaults()),
	}

	if configPath != "" {
		opts = append(opts, configloader.WithFile[Config](configPath))
	} else {
		for _, path := range []string{"./config.yaml", "/etc/logship/config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				opts = append(opts, configloader.WithFile[Config](path))
				break
			}
		}
	}

	opts = append(opts, configloader.WithEnv[Config]("LOGSHIP_"))

	loader := configloader.NewConfigLoader[Config](opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate performs the minimal startup sanity checks: at least one tail
// instruction and at least one cluster server.
func validate(cfg *Config) error {
	if len(cfg.Tail) == 0 {
		return fmt.Errorf("config error: no tail instructions configured")
	}
	if len(cfg.Elasticsearch.Servers) == 0 {
		return fmt.Errorf("config error: no elasticsearch servers configured")
	}
	return nil
}
