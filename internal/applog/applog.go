package applog

import (
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	maxFileSize = 5 << 20 // 5 MB
	maxValueLen = 200
	truncSuffix = "…"
	fileName    = "tabgrouper.log"
)

var (
	mu     sync.Mutex
	logger = zap.NewNop()
)

// Init opens the log file for appending. Call once at startup.
// If the file exceeds 5 MB, it is rotated (renamed to .log.1) before opening.
// Safe to skip: all log calls are no-ops until Init succeeds.
func Init(dir, level string) error {
	path := filepath.Join(dir, fileName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil && info.Size() > maxFileSize {
		os.Rename(path, path+".1")
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
	}

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(lvl),
		Encoding:          "json",
		EncoderConfig:     encoderConfig(),
		OutputPaths:       []string{path},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     true,
		DisableStacktrace: true,
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

// Use installs an already-built logger, e.g. zaptest or zap.NewExample in tests.
func Use(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Close flushes the log and returns to the no-op logger.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	logger.Sync()
	logger = zap.NewNop()
}

// Info logs a structured event line.
//
//	applog.Info("ws.connected", "remote", addr)
//	applog.Info("group.created", "name", "Work", "color", "#6366f1")
func Info(event string, kv ...any) {
	current().Info(event, fields(nil, kv)...)
}

// Debug logs a verbose event line.
func Debug(event string, kv ...any) {
	current().Debug(event, fields(nil, kv)...)
}

// Warn logs an event that needs attention but did not fail an operation.
func Warn(event string, kv ...any) {
	current().Warn(event, fields(nil, kv)...)
}

// Error logs an event with an error.
//
//	applog.Error("store.put", err, "key", "tabGroups")
func Error(event string, err error, kv ...any) {
	current().Error(event, fields(err, kv)...)
}

func current() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func fields(err error, kv []any) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2+1)
	if err != nil {
		out = append(out, zap.String("err", truncate(err.Error())))
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			out = append(out, zap.String(key, truncate(v)))
		default:
			out = append(out, zap.Any(key, v))
		}
	}
	return out
}

func truncate(s string) string {
	if len(s) <= maxValueLen {
		return s
	}
	cut := maxValueLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncSuffix
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}
