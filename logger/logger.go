// Package logger is the engine's structured logging seam. Components log
// through the Logger interface with flat field maps; deployments plug in the
// zap implementation or adapt their own.
package logger

// Logger is a leveled structured logger. Fields are flat key/value pairs
// attached to the entry; nil is accepted.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// NoopLogger discards every entry. It is the default for embedded use where
// the host application owns logging.
type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}
