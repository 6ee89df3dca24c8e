// Package logging provides the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// Logger is the global logger instance. Nil until Init.
	Logger *log.Logger

	// logFile is the file handle for the log file
	logFile *os.File

	// recent mirrors the newest log lines for the debug overlay
	recent = NewRing(DefaultRingSize)
)

// Config controls where and how much is logged.
type Config struct {
	// Dir is the directory for dated log files. Empty means stderr.
	Dir string

	// Level is one of debug, info, warn, error.
	Level string
}

// Init initializes the logging system
func Init(cfg Config) error {
	var w io.Writer = os.Stderr

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		logFileName := fmt.Sprintf("pingpong-%s.log", time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(cfg.Dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		w = f
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}

	Logger = log.NewWithOptions(io.MultiWriter(w, recent), log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
	})

	Logger.Info("pingpong started")
	return nil
}

// Close closes the log file
func Close() {
	if Logger != nil {
		Logger.Info("pingpong shutting down")
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Recent returns up to n of the newest log lines, oldest first.
func Recent(n int) []string {
	return recent.Last(n)
}

// Info logs an info message
func Info(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Info(msg, keyvals...)
	}
}

// Debug logs a debug message
func Debug(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Debug(msg, keyvals...)
	}
}

// Warn logs a warning message
func Warn(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Warn(msg, keyvals...)
	}
}

// Error logs an error message
func Error(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Error(msg, keyvals...)
	}
}

// Component returns a logger prefixed with the component name. Before Init it
// returns a logger that discards everything, so components never need a nil check.
func Component(name string) *log.Logger {
	if Logger != nil {
		return Logger.WithPrefix(name)
	}
	return Discard()
}

// Discard returns a logger that writes nowhere.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
