package cli

import (
	"io"
	"os"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/natefinch/lumberjack"
)

// SetupLogging creates and configures a logger with the specified level.
// When logFile is non-empty, output is tee'd to a rotating file in addition
// to stderr. Returns the configured logger for dependency injection.
func SetupLogging(level, logFile string) logger.ILogger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
	}

	log := logger.NewConsoleLogger(w)

	switch strings.ToLower(level) {
	case "trace":
		log.SetLevel(logger.LevelTrace)
	case "debug":
		log.SetLevel(logger.LevelDebug)
	case "warn", "warning":
		log.SetLevel(logger.LevelWarning)
	case "error":
		log.SetLevel(logger.LevelError)
	default:
		log.SetLevel(logger.LevelInfo)
	}

	// Set as default logger for global access if needed
	logger.SetDefaultLogger(log)
	logger.SetCtxFallbackLogger(log)

	return log
}
