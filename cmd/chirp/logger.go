package main

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger constructs a logger writing to stderr at the named level, using
// the named encoding ("console" or "json").
func newLogger(levelName, format string) (*zap.Logger, error) {
	return newLoggerTo(zapcore.AddSync(os.Stderr), levelName, format)
}

func newLoggerTo(w zapcore.WriteSyncer, levelName, format string) (*zap.Logger, error) {
	var level zapcore.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = zap.DebugLevel
	case "", "info":
		level = zap.InfoLevel
	case "warn", "warning":
		level = zap.WarnLevel
	case "error":
		level = zap.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level %q", levelName)
	}

	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "console":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	case "json":
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	core := zapcore.NewCore(enc, w, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddStacktrace(zap.ErrorLevel)), nil
}
