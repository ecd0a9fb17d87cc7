// Package logging wraps slog with the pipeline's file-rotation and
// global-logger conventions: one process-wide Logger, initialized once at
// startup from the CLI's --verbose flag and config.Storage.LogsDir, with
// every package logging through the package-level Debug/Info/Warn/Error
// helpers rather than threading a *Logger through constructors.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LogLevel is the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// defaultMaxSize and defaultMaxBackups size the rotation for a long-running
// batch process: a run can emit one line per pending polygon, so the
// default ceiling is well above what an interactive CLI tool would need.
const (
	defaultMaxSize    = 25 * 1024 * 1024 // 25MB
	defaultMaxBackups = 5
)

// Config holds logger configuration.
type Config struct {
	Level      LogLevel
	OutputFile string // path to log file; empty means stdout only
	MaxSize    int64  // bytes before rotation; 0 uses defaultMaxSize
	MaxBackups int    // rotated generations kept; 0 uses defaultMaxBackups, negative disables retention
	JSONFormat bool   // JSON handler instead of text
	AddSource  bool   // attach source file:line to each record
}

// Logger wraps a slog.Logger with file rotation and a run/task tag set via
// With, so every line emitted during a pipeline run can be traced back to
// the Run Ledger row that produced it.
type Logger struct {
	slog *slog.Logger
	cfg  Config
	file *os.File
	mu   sync.Mutex
}

var (
	globalLogger *Logger
	once         sync.Once
)

// Initialize creates the process-wide logger. Must be called before any
// other package function; subsequent calls are no-ops.
func Initialize(cfg Config) error {
	var initErr error
	once.Do(func() {
		logger, err := NewLogger(cfg)
		if err != nil {
			initErr = fmt.Errorf("initializing logger: %w", err)
			return
		}
		globalLogger = logger
	})
	return initErr
}

// NewLogger builds a standalone Logger from cfg, opening and, if needed,
// rotating its log file.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = defaultMaxBackups
	}

	l := &Logger{cfg: cfg}

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			return nil, fmt.Errorf("creating log directory for %s: %w", cfg.OutputFile, err)
		}
		if err := l.rotateIfOversize(); err != nil {
			return nil, fmt.Errorf("rotating %s: %w", cfg.OutputFile, err)
		}
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", cfg.OutputFile, err)
		}
		l.file = file
		writers = append(writers, file)
	}

	opts := &slog.HandlerOptions{Level: toSlogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(io.MultiWriter(writers...), opts)
	} else {
		handler = slog.NewTextHandler(io.MultiWriter(writers...), opts)
	}
	l.slog = slog.New(handler)
	return l, nil
}

// rotateIfOversize shifts the backup chain (.1, .2, ...) up by one and moves
// the current file to .1, once it has crossed MaxSize. A negative
// MaxBackups disables the chain entirely: the file is removed instead of
// kept, and the next open starts a new one.
func (l *Logger) rotateIfOversize() error {
	if l.cfg.OutputFile == "" {
		return nil
	}

	info, err := os.Stat(l.cfg.OutputFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", l.cfg.OutputFile, err)
	}
	if info.Size() < l.cfg.MaxSize {
		return nil
	}

	if l.cfg.MaxBackups < 0 {
		return os.Remove(l.cfg.OutputFile)
	}

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	for gen := l.cfg.MaxBackups - 1; gen >= 1; gen-- {
		from := fmt.Sprintf("%s.%d", l.cfg.OutputFile, gen)
		to := fmt.Sprintf("%s.%d", l.cfg.OutputFile, gen+1)
		if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}
	return os.Rename(l.cfg.OutputFile, l.cfg.OutputFile+".1")
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR, FATAL:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Fatal logs at error level, closes the logger, then exits the process.
func (l *Logger) Fatal(msg string, args ...any) {
	l.slog.Error(msg, args...)
	l.Close()
	os.Exit(1)
}

// With returns a derived Logger carrying the given attributes on every
// subsequent line, without affecting the receiver.
func (l *Logger) With(args ...any) *Logger {
	derived := *l
	derived.slog = l.slog.With(args...)
	return &derived
}

// Close flushes and closes the log file, if one is open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	if closeErr != nil {
		return closeErr
	}
	return syncErr
}

// Debug logs at debug level on the global logger, falling back to slog's
// default logger if Initialize was never called (e.g. in tests).
func Debug(msg string, args ...any) {
	if globalLogger != nil {
		globalLogger.Debug(msg, args...)
		return
	}
	slog.Debug(msg, args...)
}

// Info logs at info level on the global logger.
func Info(msg string, args ...any) {
	if globalLogger != nil {
		globalLogger.Info(msg, args...)
		return
	}
	slog.Info(msg, args...)
}

// Warn logs at warn level on the global logger.
func Warn(msg string, args ...any) {
	if globalLogger != nil {
		globalLogger.Warn(msg, args...)
		return
	}
	slog.Warn(msg, args...)
}

// Error logs at error level on the global logger.
func Error(msg string, args ...any) {
	if globalLogger != nil {
		globalLogger.Error(msg, args...)
		return
	}
	slog.Error(msg, args...)
}

// Fatal logs at error level on the global logger, then exits the process.
func Fatal(msg string, args ...any) {
	if globalLogger != nil {
		globalLogger.Fatal(msg, args...)
		return
	}
	slog.Error(msg, args...)
	os.Exit(1)
}

// ForRun returns a Logger tagging every line with the Run Ledger row it
// belongs to, so log output from a resumed run can be correlated back to
// the row that recorded its progress. Falls back to the process default
// slog logger if Initialize was never called.
func ForRun(uniqueKey string) *Logger {
	if globalLogger != nil {
		return globalLogger.With("unique_key", uniqueKey)
	}
	return &Logger{slog: slog.Default().With("unique_key", uniqueKey)}
}

// Close closes the global logger's file, if one is open.
func Close() error {
	if globalLogger != nil {
		return globalLogger.Close()
	}
	return nil
}
