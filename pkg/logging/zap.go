package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig defines the zap backend configuration
type ZapConfig struct {
	Level      string `yaml:"level"`      // "debug", "info", "warn", "error"
	Format     string `yaml:"format"`     // "json", "console"
	Output     string `yaml:"output"`     // "stdout", "stderr", file path
	Caller     bool   `yaml:"caller"`     // Include caller information
	Stacktrace bool   `yaml:"stacktrace"` // Include stacktrace on errors
}

// DefaultZapConfig returns the console-friendly default used by the coordinator binary
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// NewZapLogger builds a zap logger and exposes it through the Logger interface.
// The raw *zap.Logger is returned as well for components that log structured fields.
func NewZapLogger(config ZapConfig) (Logger, *zap.Logger, error) {
	zapLogger, err := createZapLogger(config)
	if err != nil {
		return nil, nil, err
	}
	return FromZap(zapLogger), zapLogger, nil
}

// FromZap adapts an existing zap logger
func FromZap(zapLogger *zap.Logger) Logger {
	sugar := zapLogger.Sugar()
	return NewLogger("", LogFuncs{
		Debugf: sugar.Debugf,
		Infof:  sugar.Infof,
		Warnf:  sugar.Warnf,
		Errorf: sugar.Errorf,
	})
}

func createZapLogger(config ZapConfig) (*zap.Logger, error) {
	level, err := getLevelFromString(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default: // "json" or anything else
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	switch config.Output {
	case "stdout", "":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
	case "stderr":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
	default:
		if err := os.MkdirAll(filepath.Dir(config.Output), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.Output, err)
		}
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		writeSyncer = zapcore.Lock(zapcore.AddSync(file))
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller())
	}
	if config.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(core, opts...), nil
}

// zapcore.ParseLevel only exists from zap v1.27
func getLevelFromString(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return -1, fmt.Errorf("invalid log level: %s", levelStr)
	}
}
