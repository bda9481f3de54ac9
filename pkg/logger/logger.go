package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats understood by New.
const (
	FormatJSON = "json"
	FormatGCP  = "gcp"
)

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// Init builds the process-wide logger once. Later calls are no-ops.
func Init(level, format string) error {
	var err error
	once.Do(func() {
		globalLogger, err = New(level, format)
	})
	return err
}

// Get returns the global logger instance
func Get() *zap.Logger {
	if globalLogger == nil {
		_ = Init(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", FormatJSON))
	}
	return globalLogger
}

// Component returns the global logger tagged with a component name.
func Component(name string) *zap.Logger {
	return Get().With(zap.String("component", name))
}

func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// New builds a production logger. Unknown levels fall back to info.
// FormatGCP renames the level and time keys so Cloud Logging picks up
// severity from function and Cloud Run output.
func New(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig = encoderConfig(format)

	return config.Build()
}

func encoderConfig(format string) zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.MessageKey = "message"
	enc.CallerKey = "caller"

	if format == FormatGCP {
		enc.LevelKey = "severity"
		enc.TimeKey = "time"
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		return enc
	}

	enc.LevelKey = "level"
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Get().Fatal(msg, fields...)
}
