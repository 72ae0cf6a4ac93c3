package infra

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditTimeLayout prefixes every audit line; the encoder appends "::".
const AuditTimeLayout = "2006-01-02 15:04:05"

// AuditEncoderConfig renders "<timestamp>:: [LEVEL] message {fields}".
func AuditEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:    "ts",
		LevelKey:   "level",
		MessageKey: "msg",
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format(AuditTimeLayout) + "::")
		},
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + l.CapitalString() + "]")
		},
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}

// NewAuditLogger returns a logger that appends to auditPath and mirrors to stderr.
// The returned func flushes and closes the audit file.
func NewAuditLogger(auditPath string, verbose bool) (*zap.Logger, func(), error) {
	consoleLevel := zapcore.InfoLevel
	if verbose {
		consoleLevel = zapcore.DebugLevel
	}
	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(AuditEncoderConfig()),
		zapcore.Lock(os.Stderr),
		consoleLevel,
	)

	if auditPath == "" {
		logger := zap.New(console)
		return logger, func() { _ = logger.Sync() }, nil
	}

	sink, closeSink, err := zap.Open(auditPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log %s: %w", auditPath, err)
	}
	audit := zapcore.NewCore(zapcore.NewConsoleEncoder(AuditEncoderConfig()), sink, zapcore.InfoLevel)

	logger := zap.New(zapcore.NewTee(audit, console))
	return logger, func() {
		_ = logger.Sync()
		closeSink()
	}, nil
}
