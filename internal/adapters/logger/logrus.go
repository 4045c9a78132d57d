package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"cryptoTradeBot/internal/ports"
)

// Logger implements the ports.Logger interface on top of logrus, writing to
// stderr and, when a file path is configured, to a size-rotated log file.
type Logger struct {
	log *logrus.Logger
}

var _ ports.Logger = (*Logger)(nil)

// Config holds configuration for the logger adapter.
type Config struct {
	Level      string // DEBUG, INFO, WARN, ERROR; defaults to INFO
	FilePath   string // Empty disables file output
	MaxSizeMB  int    // Rotate after this many megabytes
	MaxBackups int    // Rotated files to retain
	MaxAgeDays int    // Days to retain rotated files
}

// New creates a logrus-backed logger.
func New(cfg Config) *Logger {
	l := logrus.New()
	l.SetLevel(parseLevel(cfg.Level))
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	var out io.Writer = os.Stderr
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
	}
	l.SetOutput(out)

	return &Logger{log: l}
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "DEBUG", "debug":
		return logrus.DebugLevel
	case "WARN", "WARNING", "warn":
		return logrus.WarnLevel
	case "ERROR", "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (l *Logger) entry(fields ...map[string]interface{}) *logrus.Entry {
	if len(fields) > 0 && fields[0] != nil {
		return l.log.WithFields(logrus.Fields(fields[0]))
	}
	return logrus.NewEntry(l.log)
}

// Debug logs a message at Debug level.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(fields...).Debug(msg)
}

// Info logs a message at Info level.
func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(fields...).Info(msg)
}

// Warn logs a message at Warning level.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(fields...).Warn(msg)
}

// Error logs an error message at Error level.
func (l *Logger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	entry := l.entry(fields...)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}
