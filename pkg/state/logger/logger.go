package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *slog.Logger
var Audit *slog.Logger

var auditSink io.Closer

// ParseLevel maps a config level string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init sets up the console logger and, when logsDir is not empty, the audit sink.
func Init(level string, logsDir string) {
	Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)}))

	if logsDir != "" {
		attachAuditLogger(logsDir)
	}
}

// InitWriter points the console logger at w; used by tests and the cli.
func InitWriter(level string, w io.Writer) {
	Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

func attachAuditLogger(logsDir string) {
	if err := os.MkdirAll(logsDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create audit log dir: %v\n", err)
		return
	}
	fname := filepath.Join(logsDir, "audit.log")
	sink := &lumberjack.Logger{
		Filename:   fname,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		Compress:   true,
	}
	auditSink = sink
	Audit = slog.New(slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: slog.LevelInfo}))
	Audit.Info("audit_sink_attached", "path", fname)
}

// Sync closes the audit sink if one is attached.
func Sync() {
	if auditSink != nil {
		_ = auditSink.Close()
		auditSink = nil
		Audit = nil
	}
}

func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}

// AuditEvent records a data mutation in the audit log, if attached.
func AuditEvent(event string, args ...any) {
	if Audit == nil {
		return
	}
	Audit.Info(event, args...)
}
