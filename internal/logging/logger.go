// Package logging provides structured logging for the offline sync engine.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ParseLevel converts a user supplied level name into a LogLevel.
// Unknown names fall back to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger provides structured JSON logging on top of zerolog.
type Logger struct {
	zl       zerolog.Logger
	minLevel LogLevel
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
	mu     sync.RWMutex
)

// New creates a logger writing to out at or above minLevel.
func New(out io.Writer, minLevel LogLevel) *Logger {
	return &Logger{
		zl:       zerolog.New(out).Level(minLevel.zerolog()).With().Timestamp().Logger(),
		minLevel: minLevel,
	}
}

// Init initializes the global logger. Only the first call has an effect.
func Init(out io.Writer, minLevel LogLevel) {
	once.Do(func() {
		mu.Lock()
		global = New(out, minLevel)
		mu.Unlock()
	})
}

// SetDefault replaces the global logger, whether or not Init has run.
func SetDefault(l *Logger) {
	once.Do(func() {})
	mu.Lock()
	global = l
	mu.Unlock()
}

// Get returns the global logger instance.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		Init(os.Stderr, LevelInfo)
		mu.RLock()
		l = global
		mu.RUnlock()
	}
	return l
}

// MinLevel returns the lowest level this logger emits.
func (l *Logger) MinLevel() LogLevel {
	return l.minLevel
}

func (l *Logger) write(e *zerolog.Event, message string, context map[string]interface{}) {
	if len(context) > 0 {
		e = e.Dict("context", zerolog.Dict().Fields(context))
	}
	e.Msg(message)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.write(l.zl.Debug(), message, mergeContext(context...))
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.write(l.zl.Info(), message, mergeContext(context...))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.write(l.zl.Warn(), message, mergeContext(context...))
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	l.write(l.zl.Error().Err(err), message, mergeContext(context...))
}

// ErrorWithCode logs an error message tagged with a stable error code.
func (l *Logger) ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	merged := mergeContext(context...)
	if merged == nil {
		merged = make(map[string]interface{}, 1)
	}
	merged["error_code"] = code
	l.write(l.zl.Error().Err(err), message, merged)
}

// mergeContext merges multiple context maps. Later maps win on key clashes.
func mergeContext(context ...map[string]interface{}) map[string]interface{} {
	switch len(context) {
	case 0:
		return nil
	case 1:
		if context[0] == nil {
			return nil
		}
		// copy so ErrorWithCode never mutates the caller's map
		merged := make(map[string]interface{}, len(context[0]))
		for k, v := range context[0] {
			merged[k] = v
		}
		return merged
	}
	merged := make(map[string]interface{})
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}

// Convenience functions using global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}

func ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	Get().ErrorWithCode(message, code, err, context...)
}
