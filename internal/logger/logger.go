// Package logger provides the tagged console logger used across the service.
// Call sites pass a short uppercase tag ("DB", "SYNC", "API") plus a
// pre-formatted message; levels and encoding run on a zap core.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.SugaredLogger

// stdoutSyncer resolves os.Stdout at write time so tests can redirect it.
type stdoutSyncer struct{}

func (stdoutSyncer) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdoutSyncer) Sync() error                 { return nil }

func init() {
	log = build(levelFromEnv())
}

func levelFromEnv() zapcore.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func build(level zapcore.Level) *zap.SugaredLogger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), stdoutSyncer{}, level)
	return zap.New(core).Sugar()
}

// Info logs a routine event for the given subsystem tag.
func Info(tag, msg string) {
	log.Infof("[%s] %s", tag, msg)
}

// Success logs a completed operation. Same level as Info, marked visually.
func Success(tag, msg string) {
	log.Infof("[%s] ✓ %s", tag, msg)
}

// Warn logs a recoverable problem.
func Warn(tag, msg string) {
	log.Warnf("[%s] %s", tag, msg)
}

// Error logs a failure that needs attention.
func Error(tag, msg string) {
	log.Errorf("[%s] %s", tag, msg)
}

// Banner prints the startup header with the service version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintln(os.Stdout, "┌──────────────────────────────────────────┐")
	fmt.Fprintf(os.Stdout, "│  sales-pulse  %-26s │\n", version)
	fmt.Fprintln(os.Stdout, "└──────────────────────────────────────────┘")
}

// Section prints a visual divider before a block of Stats lines.
func Section(name string) {
	fmt.Fprintf(os.Stdout, "── %s %s\n", name, strings.Repeat("─", max(0, 40-len(name))))
}

// Stats prints one aligned key/value line under a Section.
func Stats(label string, value any) {
	fmt.Fprintf(os.Stdout, "   %-18s %v\n", label, value)
}

// Server announces the listen address once startup is complete.
func Server(addr string) {
	log.Infof("[Server] Listening on http://%s", addr)
}
