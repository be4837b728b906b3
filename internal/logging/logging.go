// Package logging provides run-scoped file logging for the subcap service,
// plus per-session structured loggers for the OCR and blur-render workers.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"subcap/internal/domain"
)

// DefaultLogDir returns the default log directory following XDG Base
// Directory Spec. Uses $XDG_STATE_HOME/subcap/logs, defaulting to
// ~/.local/state/subcap/logs.
func DefaultLogDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "subcap", "logs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "subcap", "logs")
	}
	return filepath.Join(home, ".local", "state", "subcap", "logs")
}

type level int

const (
	levelInfo level = iota
	levelDebug
)

// Logger wraps the standard logger with level filtering and file output,
// for process-lifetime events (startup, shutdown, HTTP boot).
type Logger struct {
	level    level
	logger   *log.Logger
	file     *os.File
	filePath string
}

// Setup creates a new logger that writes to a timestamped log file.
// Returns nil if logging is disabled (noLog=true).
func Setup(logDir string, verbose, noLog bool, cmdArgs []string) (*Logger, error) {
	if noLog {
		return nil, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("subcap_run_%s.log", timestamp)
	filePath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", filePath, err)
	}

	lvl := levelInfo
	if verbose {
		lvl = levelDebug
	}

	logger := log.New(file, "", 0)

	l := &Logger{level: lvl, logger: logger, file: file, filePath: filePath}

	l.Info("Command: %s", strings.Join(cmdArgs, " "))
	l.Info("subcap starting")
	if verbose {
		l.Info("Debug level logging enabled")
	}
	l.Info("Log file: %s", filePath)

	return l, nil
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...any) {
	if l == nil {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Printf("%s [INFO] "+format, append([]any{timestamp}, args...)...)
}

// Debug logs a debug-level message (only if verbose mode is enabled).
func (l *Logger) Debug(format string, args ...any) {
	if l == nil || l.level < levelDebug {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Printf("%s [DEBUG] "+format, append([]any{timestamp}, args...)...)
}

// Writer returns an io.Writer that writes to the log file.
func (l *Logger) Writer() io.Writer {
	if l == nil || l.file == nil {
		return io.Discard
	}
	return l.file
}

// SessionLogger returns a zerolog.Logger with client_id and job_kind fields
// bound, writing to the given sink (typically a Logger.Writer()). Per-frame
// and per-batch worker logging uses this rather than the plain Logger,
// since structured fields are awkward to thread through log.Logger's
// printf-style API.
func SessionLogger(w io.Writer, client domain.ClientID, kind domain.JobKind) zerolog.Logger {
	if w == nil {
		w = io.Discard
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("client_id", string(client)).
		Str("job_kind", kind.String()).
		Logger()
}
