package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.RWMutex
	globalLogger = zap.NewNop()
)

// L returns the process-wide logger. It is a no-op logger until InitFromEnv succeeds.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Named returns a component logger derived from the global one.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Set replaces the global logger. A nil logger resets it to a no-op logger.
func Set(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mu.Lock()
	globalLogger = logger
	mu.Unlock()
}

// InitFromEnv builds the global logger from LOG_* environment variables.
func InitFromEnv() error {
	opts := optionsFromEnv()
	logger, err := build(opts)
	if err != nil {
		return err
	}
	Set(logger)
	return nil
}

type options struct {
	level      zapcore.Level
	console    bool
	toFile     bool
	showCaller bool
	format     string
	filePath   string
}

func optionsFromEnv() options {
	format := strings.ToLower(strings.TrimSpace(getenvDefault("LOG_FORMAT", "legacy")))
	if format != "legacy" && format != "json" && format != "console" {
		format = "legacy"
	}
	return options{
		level:      parseLevel(getenvDefault("LOG_LEVEL", "info")),
		console:    strings.EqualFold(getenvDefault("LOG_TO_CONSOLE", "true"), "true"),
		toFile:     strings.EqualFold(getenvDefault("LOG_TO_FILE", "false"), "true"),
		showCaller: strings.EqualFold(getenvDefault("LOG_CALLER", "false"), "true"),
		format:     format,
		filePath:   strings.TrimSpace(getenvDefault("LOG_FILE", filepath.Join("logs", "coach.log"))),
	}
}

func build(opts options) (*zap.Logger, error) {
	var cores []zapcore.Core

	if opts.console {
		cores = append(cores, zapcore.NewCore(encoderFor(opts.format), zapcore.AddSync(os.Stderr), opts.level))
	}

	if opts.toFile {
		if err := ensureDir(filepath.Dir(opts.filePath)); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opts.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoderFor(opts.format), zapcore.AddSync(f), opts.level))
	}

	if len(cores) == 0 {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), opts.level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if opts.showCaller || opts.format == "legacy" {
		logger = logger.WithOptions(zap.AddCaller())
	}
	return logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func encoderFor(format string) zapcore.Encoder {
	switch format {
	case "json":
		return zapcore.NewJSONEncoder(jsonEncoderConfig())
	case "console":
		return zapcore.NewConsoleEncoder(consoleEncoderConfig())
	default:
		return zapcore.NewConsoleEncoder(legacyEncoderConfig())
	}
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func legacyEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}
