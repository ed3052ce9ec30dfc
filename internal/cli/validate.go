package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/volsch/logship/internal/bulkqueue"
	"github.com/volsch/logship/internal/config"
	"github.com/volsch/logship/internal/pipeline"
	"github.com/volsch/logship/internal/transform"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and dry-run one sample bulk record per tail instruction",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			// Create a silent logger for validation (discards output)
			log := logger.NewConsoleLogger(io.Discard)

			p, err := pipeline.New(cfg, log)
			if err != nil {
				return fmt.Errorf("pipeline configuration error: %w", err)
			}

			fmt.Printf("Configuration valid:\n")
			fmt.Printf("  Tail instructions: %d\n", p.FileCount())
			fmt.Printf("  Cluster servers:   %d\n", p.ServerCount())

			for _, ti := range cfg.Tail {
				renderSample(cfg, ti)
			}
			return nil
		},
	}
}

// renderSample builds a single-instruction transform chain, runs it over a
// sample line (the file's first line, if readable, else a placeholder), and
// prints the bulk record it would produce, without dispatching anything.
func renderSample(cfg *config.Config, ti config.TailInstruction) {
	sample := sampleLine(ti.File)

	tr := transform.New([]config.TailInstruction{ti})
	doc, ok := tr.Process(ti.File, sample)
	if !ok {
		fmt.Printf("  %s: sample line produced no document (dropped by decode/extract)\n", ti.File)
		return
	}

	rendered, err := bulkqueue.Render(doc, cfg.Elasticsearch.Index, cfg.Elasticsearch.Type, time.Now())
	if err != nil {
		fmt.Printf("  %s: failed to render sample record: %v\n", ti.File, err)
		return
	}
	fmt.Printf("  %s:\n%s", ti.File, indentLines(string(rendered)))
}

func sampleLine(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "sample log line"
	}
	defer f.Close()

	buf := make([]byte, 4096)
	n, _ := f.Read(buf)
	for i, b := range buf[:n] {
		if b == '\n' {
			return string(buf[:i])
		}
	}
	if n == 0 {
		return "sample log line"
	}
	return string(buf[:n])
}

func indentLines(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n") + "\n"
}
