// Package logging builds the process zap logger and adapts it to the endpoints' debug
// trace hook.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Level: debug, info, warn, error
	Level string
	// Format: console or json
	Format      string
	Development bool
}

func New(c Config) *zap.Logger {
	level := zap.NewAtomicLevelAt(ParseLevel(c.Level))

	var encCfg zapcore.EncoderConfig
	if c.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	opts := []zap.Option{zap.AddCaller()}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...)
}

func ParseLevel(raw string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// DebugSink returns a trace hook that writes each line to logger at debug level.
func DebugSink(logger *zap.Logger) func(string) {
	if logger == nil {
		return func(string) {}
	}
	l := logger.WithOptions(zap.AddCallerSkip(1))
	return func(msg string) {
		l.Debug(msg)
	}
}
