package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// LogFile is the JSON log written under the storage base dir.
const LogFile = "ankicli.log"

// ParseLevel maps a config level name onto slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", s)
	}
}

// SetupLogger 创建双通道日志：stderr 文本 + 文件 JSON
// SetupLogger creates a dual-output logger: text to stderr (warn, or debug
// when verbose) and JSON at cfg.Log.Level to <base_dir>/ankicli.log.
// The returned cleanup closes the log file.
func SetupLogger(cfg Config, verbose bool) (*slog.Logger, func() error) {
	stderrLevel := slog.LevelWarn
	if verbose {
		stderrLevel = slog.LevelDebug
	}
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: stderrLevel})

	fileLevel, err := ParseLevel(cfg.Log.Level)
	if err != nil {
		fileLevel = slog.LevelInfo
	}
	logPath := filepath.Join(cfg.Storage.BaseDir, LogFile)
	if err := os.MkdirAll(cfg.Storage.BaseDir, 0o755); err != nil {
		logger := slog.New(stderrHandler)
		logger.Error("failed to create log dir, using stderr only", "error", err, "dir", cfg.Storage.BaseDir)
		return logger, func() error { return nil }
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(stderrHandler)
		logger.Error("failed to open log file, using stderr only", "error", err, "file", logPath)
		return logger, func() error { return nil }
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: fileLevel})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler)), file.Close
}

// SetupLoggerWithWriters builds the same fan-out over arbitrary writers.
func SetupLoggerWithWriters(stderr, file io.Writer, stderrLevel, fileLevel slog.Level) *slog.Logger {
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: stderrLevel})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: fileLevel})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
}
