package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger for the forecaster. All output goes to
// stderr so that stdout stays free for the manual forecast string.
type Logger struct {
	*zap.SugaredLogger
}

var globalLogger *Logger

// NewLogger creates a logger at the given level. Development mode switches
// to a coloured console encoder; otherwise entries are JSON.
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Encoding = "json"
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	baseLogger, err := config.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: baseLogger.Sugar()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(level string, development bool) error {
	logger, err := NewLogger(level, development)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// SetGlobal replaces the global logger; nil restores lazy initialization.
func SetGlobal(l *Logger) {
	globalLogger = l
}

// GetLogger returns the global logger, building an info-level JSON logger
// on first use.
func GetLogger() *Logger {
	if globalLogger == nil {
		logger, err := NewLogger("info", false)
		if err != nil {
			globalLogger = NewNop()
		} else {
			globalLogger = logger
		}
	}
	return globalLogger
}

func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}

// WithFields returns a logger with additional key/value pairs
func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(fields...)}
}

func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err.Error())
}

// WithTarget tags entries with the forecast target column.
func (l *Logger) WithTarget(target string) *Logger {
	return l.WithFields("target", target)
}

// Named adds a sub-scope to the logger name, e.g. "pipeline" or "sink".
func (l *Logger) Named(name string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.Named(name)}
}

func Debugf(template string, args ...interface{}) {
	GetLogger().Debugf(template, args...)
}

func Info(args ...interface{}) {
	GetLogger().Info(args...)
}

func Infof(template string, args ...interface{}) {
	GetLogger().Infof(template, args...)
}

func Warnf(template string, args ...interface{}) {
	GetLogger().Warnf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	GetLogger().Errorf(template, args...)
}

func Fatalf(template string, args ...interface{}) {
	GetLogger().Fatalf(template, args...)
	os.Exit(1)
}

func WithFields(fields ...interface{}) *Logger {
	return GetLogger().WithFields(fields...)
}

func WithError(err error) *Logger {
	return GetLogger().WithError(err)
}

func Sync() error {
	return GetLogger().Sync()
}
