// Package logging builds the zap loggers used across the process.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the logger NewLogger builds. The zero value logs JSON at
// info level to stdout.
type Options struct {
	Level string `json:"level" toml:"level"`
	// Dir enables a rotated file next to stdout output when set.
	Dir        string `json:"dir" toml:"dir"`
	MaxSizeMB  int    `json:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" toml:"max_age_days"`
	Console    bool   `json:"console" toml:"console"`
}

func NewLogger(name string) (*zap.Logger, error) {
	return New(name, Options{})
}

func New(name string, opts Options) (*zap.Logger, error) {
	level := zap.InfoLevel
	if opts.Level != "" {
		lv, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = lv
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if opts.Console {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level),
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("log dir: %w", err)
		}
		file := name
		if file == "" {
			file = "modnet"
		}
		w := zapcore.AddSync(FileWriter(filepath.Join(opts.Dir, file+".log"), opts))
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if name != "" {
		logger = logger.Named(name)
	}
	return logger, nil
}

// FileWriter returns the rotating writer used for file output.
func FileWriter(path string, opts Options) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    orDefault(opts.MaxSizeMB, 50),
		MaxBackups: orDefault(opts.MaxBackups, 3),
		MaxAge:     orDefault(opts.MaxAgeDays, 7),
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
