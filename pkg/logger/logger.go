package logger

import "sync"

// Level identifies the severity a message is dispatched with.
type Level int

const (
	LevelPrint Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// LoggerInstance is a logging backend. Backends receive key-value pairs
// unchanged and decide how to render them.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

var (
	mu        sync.RWMutex
	instances []LoggerInstance
)

// Init replaces the set of backends every package-level call fans out to.
// Until Init is called all logging functions are no-ops, which keeps
// library code and tests quiet.
func Init(backends ...LoggerInstance) {
	mu.Lock()
	defer mu.Unlock()
	instances = append([]LoggerInstance(nil), backends...)
}

func dispatch(level Level, message string, keyvals []any) {
	mu.RLock()
	backends := instances
	mu.RUnlock()

	for _, b := range backends {
		switch level {
		case LevelDebug:
			b.Debug(message, keyvals...)
		case LevelInfo:
			b.Info(message, keyvals...)
		case LevelWarn:
			b.Warn(message, keyvals...)
		case LevelError:
			b.Error(message, keyvals...)
		case LevelFatal:
			b.Fatal(message, keyvals...)
		default:
			b.Log(message, keyvals...)
		}
	}
}

func Log(message string, keyvals ...any)   { dispatch(LevelPrint, message, keyvals) }
func Debug(message string, keyvals ...any) { dispatch(LevelDebug, message, keyvals) }
func Info(message string, keyvals ...any)  { dispatch(LevelInfo, message, keyvals) }
func Warn(message string, keyvals ...any)  { dispatch(LevelWarn, message, keyvals) }
func Error(message string, keyvals ...any) { dispatch(LevelError, message, keyvals) }

// Fatal logs at FATAL level. Backends are expected to terminate the process.
func Fatal(message string, keyvals ...any) { dispatch(LevelFatal, message, keyvals) }
