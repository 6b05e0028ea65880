package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/claims/config"
	"github.com/grovetools/claims/pkg/paths"
	"github.com/grovetools/claims/util/pathutil"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

const (
	envLevel  = "GROVE_CLAIMS_LOG_LEVEL"
	envCaller = "GROVE_CLAIMS_LOG_CALLER"
	envDebug  = "GROVE_DEBUG"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	// stderr is swapped in tests.
	stderr io.Writer = os.Stderr
)

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	var logCfg Config
	if cfg, err := config.LoadDefault(); err == nil {
		if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
			logrus.Warnf("Failed to parse 'logging' config: %v", err)
		}
	}

	entry := Configure(component, logCfg)
	loggers[component] = entry
	return entry
}

// Reset drops all cached component loggers.
func Reset() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	loggers = make(map[string]*logrus.Entry)
}

// Configure builds a component logger from an explicit logging config,
// bypassing the per-component cache.
func Configure(component string, logCfg Config) *logrus.Entry {
	logger := logrus.New()

	levelStr := "info"
	if env := os.Getenv(envLevel); env != "" {
		levelStr = env
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if os.Getenv(envCaller) == "true" || logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	switch logCfg.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format})
	}

	var writers []io.Writer
	if w := openFileSink(component, logCfg.File, logger); w != nil {
		writers = append(writers, w)
	}
	if shouldLogToStderr(logCfg.Format.StructuredToStderr, logger.GetLevel()) {
		writers = append(writers, stderr)
	}

	switch len(writers) {
	case 0:
		// Interactive terminals in auto mode get no structured output.
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	return logger.WithField("component", component)
}

// openFileSink opens the configured log file, or the dated default under the
// claims state directory. Failures on the default path are silent.
func openFileSink(component string, sink FileSinkConfig, logger *logrus.Logger) io.Writer {
	if sink.Disabled {
		return nil
	}

	explicit := sink.Path != ""
	var logFilePath string
	if explicit {
		expanded, err := pathutil.Expand(sink.Path, "")
		if err != nil {
			logger.Warnf("Failed to expand log file path %s: %v", sink.Path, err)
			return nil
		}
		logFilePath = expanded
	} else if dir := paths.LogDir(); dir != "" {
		logFilePath = filepath.Join(dir, fmt.Sprintf("%s-%s.log", component, time.Now().Format("2006-01-02")))
	} else {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
		if explicit {
			logger.Warnf("Failed to create log directory %s: %v", filepath.Dir(logFilePath), err)
		}
		return nil
	}
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		if explicit {
			logger.Warnf("Failed to open log file %s: %v", logFilePath, err)
		}
		return nil
	}
	return file
}

// shouldLogToStderr resolves the structured_to_stderr mode. In "auto" mode
// logs go to stderr when debugging or when stderr is not a terminal.
func shouldLogToStderr(mode string, level logrus.Level) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}

	isDebug := os.Getenv(envDebug) == "1" || level >= logrus.DebugLevel
	f, ok := stderr.(*os.File)
	isInteractive := ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
	return isDebug || !isInteractive
}

// Nop returns a logger that discards everything, for tests and library defaults.
func Nop() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
