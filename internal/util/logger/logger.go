package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.SugaredLogger
	once         sync.Once
	mu           sync.RWMutex
)

// Config defines logging configuration.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "console"
}

func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "console",
	}
}

// InitLogger initializes the global zap logger. Subsequent calls are no-ops;
// use ReplaceGlobal to reconfigure.
func InitLogger(cfg *Config) {
	once.Do(func() {
		initLoggerInternal(cfg)
	})
}

// ReplaceGlobal swaps the global logger for a newly configured one.
func ReplaceGlobal(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()

	once = sync.Once{}
	globalLogger = nil

	initLoggerInternal(cfg)
}

func initLoggerInternal(cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var zapLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.LevelKey = "level"
	encoderCfg.CallerKey = "caller"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(os.Stdout),
		zapLevel,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	globalLogger = logger.Sugar()
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.SugaredLogger {
	ensureInitialized()
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

func ensureInitialized() {
	if globalLogger == nil {
		InitLogger(DefaultConfig())
	}
}

// Debug logs debug level messages with printf formatting.
func Debug(msg string, args ...interface{}) {
	ensureInitialized()
	globalLogger.Debugf(msg, args...)
}

// Info logs info level messages with printf formatting.
func Info(msg string, args ...interface{}) {
	ensureInitialized()
	globalLogger.Infof(msg, args...)
}

// Warn logs warning level messages with printf formatting.
func Warn(msg string, args ...interface{}) {
	ensureInitialized()
	globalLogger.Warnf(msg, args...)
}

// Error logs error level messages with printf formatting.
func Error(msg string, args ...interface{}) {
	ensureInitialized()
	globalLogger.Errorf(msg, args...)
}

// Fatal logs fatal level messages and exits.
func Fatal(msg string, args ...interface{}) {
	ensureInitialized()
	globalLogger.Fatalf(msg, args...)
}
