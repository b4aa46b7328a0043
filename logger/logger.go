package logger

// Logger is the minimal structured logging interface used by the engine.
// Implementations accept alternating key/value pairs as variadic arguments,
// which keeps the interface small and easy to fake in tests.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// TraceIDFunc generates a correlation id attached to decision logs and audit
// entries. It must be cheap and safe for concurrent calls.
type TraceIDFunc func() string

// NullLogger discards everything; it is the default when no logger is installed.
type NullLogger struct{}

func NewNullLogger() *NullLogger { return &NullLogger{} }

func (NullLogger) Debug(msg string, keyvals ...any) {}
func (NullLogger) Info(msg string, keyvals ...any)  {}
func (NullLogger) Error(msg string, keyvals ...any) {}
