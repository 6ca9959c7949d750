// Package logger builds the zap logger used across the service, with
// optional lumberjack-backed file rotation.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/campuschat/realtime/internal/config"
)

// New constructs a *zap.Logger from the log section of the configuration.
// With a file configured, JSON-encoded entries go through lumberjack
// rotation; the console sink uses the development encoder.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var cores []zapcore.Core

	if cfg.Console {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.Lock(os.Stdout),
			level,
		))
	}

	if cfg.File != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(writer),
			level,
		))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("no log output configured")
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
