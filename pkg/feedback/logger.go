package feedback

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FeedbackLogger wraps zerolog for structured logging
type FeedbackLogger struct {
	logger zerolog.Logger
}

// LogLevel represents the logging level
type LogLevel int

const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
	Disabled
)

// LogConfig represents the configuration for logging
type LogConfig struct {
	Level     LogLevel
	Pretty    bool
	Output    io.Writer
	AddSource bool
	Fields    map[string]interface{}

	// File, when set, sends JSON lines to a size-rotated log file instead
	// of Output. MaxSizeMB defaults to 10.
	File      string
	MaxSizeMB int
}

// DefaultLogConfig returns a default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:  InfoLevel,
		Pretty: true,
		Output: os.Stderr,
		Fields: make(map[string]interface{}),
	}
}

// ParseLogLevel maps DEBUG/INFO/WARNING/ERROR style names to a LogLevel.
func ParseLogLevel(level string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return TraceLevel, true
	case "DEBUG":
		return DebugLevel, true
	case "INFO":
		return InfoLevel, true
	case "WARN", "WARNING":
		return WarnLevel, true
	case "ERROR":
		return ErrorLevel, true
	case "FATAL":
		return FatalLevel, true
	case "OFF", "DISABLED":
		return Disabled, true
	}
	return InfoLevel, false
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	case Disabled:
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

// NewFeedbackLogger creates a new structured logger
func NewFeedbackLogger(config *LogConfig) *FeedbackLogger {
	if config == nil {
		config = DefaultLogConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	switch {
	case config.File != "":
		size := config.MaxSizeMB
		if size <= 0 {
			size = 10
		}
		out = &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    size,
			MaxBackups: 3,
			MaxAge:     28,
		}
	case config.Pretty:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(out).Level(config.Level.zerolog()).With().Timestamp()
	if config.AddSource {
		ctx = ctx.Caller()
	}
	if len(config.Fields) > 0 {
		ctx = ctx.Fields(config.Fields)
	}

	return &FeedbackLogger{logger: ctx.Logger()}
}

// NewNopLogger discards everything. Useful in tests.
func NewNopLogger() *FeedbackLogger {
	return &FeedbackLogger{logger: zerolog.Nop()}
}

// Zerolog exposes the underlying logger.
func (l *FeedbackLogger) Zerolog() zerolog.Logger {
	return l.logger
}

// WithComponent adds a component field to the logger
func (l *FeedbackLogger) WithComponent(component string) *FeedbackLogger {
	return &FeedbackLogger{logger: l.logger.With().Str("component", component).Logger()}
}

// WithField adds a field to the logger
func (l *FeedbackLogger) WithField(key string, value interface{}) *FeedbackLogger {
	return &FeedbackLogger{logger: l.logger.With().Interface(key, value).Logger()}
}

// WithFields adds multiple fields to the logger
func (l *FeedbackLogger) WithFields(fields map[string]interface{}) *FeedbackLogger {
	return &FeedbackLogger{logger: l.logger.With().Fields(fields).Logger()}
}

// WithError adds an error field to the logger
func (l *FeedbackLogger) WithError(err error) *FeedbackLogger {
	return &FeedbackLogger{logger: l.logger.With().Err(err).Logger()}
}

func (l *FeedbackLogger) Trace(msg string) { l.logger.Trace().Msg(msg) }

func (l *FeedbackLogger) Debug(msg string) { l.logger.Debug().Msg(msg) }

func (l *FeedbackLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *FeedbackLogger) Info(msg string) { l.logger.Info().Msg(msg) }

func (l *FeedbackLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *FeedbackLogger) Warn(msg string) { l.logger.Warn().Msg(msg) }

func (l *FeedbackLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *FeedbackLogger) Error(msg string) { l.logger.Error().Msg(msg) }

func (l *FeedbackLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

// Fatal logs a fatal level message and exits
func (l *FeedbackLogger) Fatal(msg string) { l.logger.Fatal().Msg(msg) }

// LogCaptureEvent logs recorder events with structured fields
func (l *FeedbackLogger) LogCaptureEvent(event string, state CaptureState, fields map[string]interface{}) {
	l.logger.Info().
		Str("event_type", "capture").
		Str("event", event).
		Str("state", string(state)).
		Fields(fields).
		Msg("Capture event")
}

// LogPlaybackEvent logs player events
func (l *FeedbackLogger) LogPlaybackEvent(event string, state PlaybackState, fields map[string]interface{}) {
	l.logger.Debug().
		Str("event_type", "playback").
		Str("event", event).
		Str("state", string(state)).
		Fields(fields).
		Msg("Playback event")
}

// LogUploadEvent logs object store writes and lookups
func (l *FeedbackLogger) LogUploadEvent(event string, key string, fields map[string]interface{}) {
	l.logger.Info().
		Str("event_type", "storage").
		Str("event", event).
		Str("key", key).
		Fields(fields).
		Msg("Storage event")
}

// LogError logs a FeedbackError with structured fields
func (l *FeedbackLogger) LogError(err *FeedbackError) {
	if err == nil {
		return
	}
	event := l.logger.Error().
		Str("error_code", err.Code).
		Time("error_time", err.Timestamp)
	if len(err.Details) > 0 {
		event = event.Fields(err.Details)
	}
	if err.err != nil {
		event = event.AnErr("cause", err.err)
	}
	event.Msg(err.Message)
}

var (
	globalLogger   = NewFeedbackLogger(DefaultLogConfig())
	globalLoggerMu sync.RWMutex
)

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *FeedbackLogger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *FeedbackLogger) {
	if logger == nil {
		return
	}
	globalLoggerMu.Lock()
	globalLogger = logger
	globalLoggerMu.Unlock()
}

// Global logging functions for convenience
func Debug(msg string) { GetGlobalLogger().Debug(msg) }

func Info(msg string) { GetGlobalLogger().Info(msg) }

func Warn(msg string) { GetGlobalLogger().Warn(msg) }

func Error(msg string) { GetGlobalLogger().Error(msg) }

func LogFeedbackError(err *FeedbackError) { GetGlobalLogger().LogError(err) }
