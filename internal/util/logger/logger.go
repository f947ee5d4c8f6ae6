// Package logger wraps a sugared zap logger with key/value helpers.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper for zap.SugaredLogger. A nil *Logger discards
// everything.
type Logger struct {
	z *zap.SugaredLogger
}

// Config holds the running environment, either "development" or
// "production", an optional file to copy output to, and whether stack
// traces are written.
type Config struct {
	EnableStacktrace bool   `toml:"enable_stacktrace,omitempty"`
	Environment      string `toml:"env"`
	Path             string `toml:"path,omitempty"`
}

// New builds a console logger writing to stderr and conf.Path. Debug and
// above is logged in development, Info and above in production.
func New(conf Config) (*Logger, error) {
	level := zap.NewAtomicLevel()
	switch {
	case strings.EqualFold("development", conf.Environment):
		level.SetLevel(zap.DebugLevel)
	case strings.EqualFold("production", conf.Environment), conf.Environment == "":
		level.SetLevel(zap.InfoLevel)
	default:
		return nil, fmt.Errorf("logger: environment must be development or production, got %q", conf.Environment)
	}

	outputs := []string{"stderr"}
	if conf.Path != "" {
		outputs = append(outputs, conf.Path)
	}

	zc := &zap.Config{
		Level:             level,
		Encoding:          "console",
		DisableStacktrace: !conf.EnableStacktrace,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "path",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		OutputPaths: outputs,
	}
	z, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return &Logger{z: z.Sugar()}, nil
}

// Wrap adapts an existing zap logger, typically zaptest or zap.NewNop.
func Wrap(z *zap.Logger) *Logger { return &Logger{z: z.Sugar()} }

// Named returns a child logger with name appended.
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{z: l.z.Named(name)}
}

// Debug logs detail useful while debugging.
func (l *Logger) Debug(msg string, keysAndValues ...any) {
	if l != nil {
		l.z.Debugw(msg, keysAndValues...)
	}
}

// Info logs normal progress.
func (l *Logger) Info(msg string, keysAndValues ...any) {
	if l != nil {
		l.z.Infow(msg, keysAndValues...)
	}
}

// Warn logs a rejected input or other harmless anomaly.
func (l *Logger) Warn(msg string, keysAndValues ...any) {
	if l != nil {
		l.z.Warnw(msg, keysAndValues...)
	}
}

// Error logs a failed operation that the caller has to act on.
func (l *Logger) Error(msg string, keysAndValues ...any) {
	if l != nil {
		l.z.Errorw(msg, keysAndValues...)
	}
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.z.Sync()
}
