package stagedpush

// Logger provides structured logging hooks.
// Arguments are alternating key-value pairs.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)
	// Info logs an informational message.
	Info(msg string, args ...any)
	// Warn logs a warning message.
	Warn(msg string, args ...any)
	// Error logs an error message.
	Error(msg string, args ...any)
}

// NopLogger is a no-op logger.
type NopLogger struct{}

// Debug implements Logger.
func (NopLogger) Debug(string, ...any) {}

// Info implements Logger.
func (NopLogger) Info(string, ...any) {}

// Warn implements Logger.
func (NopLogger) Warn(string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(string, ...any) {}

// boundLogger prepends fixed key-value pairs to every call.
type boundLogger struct {
	next Logger
	args []any
}

func withArgs(logger Logger, args ...any) Logger {
	if _, ok := logger.(NopLogger); ok {
		return logger
	}

	return boundLogger{next: logger, args: args}
}

func (l boundLogger) merge(args []any) []any {
	out := make([]any, 0, len(l.args)+len(args))
	out = append(out, l.args...)

	return append(out, args...)
}

func (l boundLogger) Debug(msg string, args ...any) { l.next.Debug(msg, l.merge(args)...) }
func (l boundLogger) Info(msg string, args ...any)  { l.next.Info(msg, l.merge(args)...) }
func (l boundLogger) Warn(msg string, args ...any)  { l.next.Warn(msg, l.merge(args)...) }
func (l boundLogger) Error(msg string, args ...any) { l.next.Error(msg, l.merge(args)...) }
