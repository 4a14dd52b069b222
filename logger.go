package ticketflow

// DefaultLogger discards every message. It backs any Runner or Executor
// constructed without an explicit logger, so call sites never nil-check.
type DefaultLogger struct{}

// Debug implements Logger.
func (l *DefaultLogger) Debug(format string, args ...interface{}) {}

// Info implements Logger.
func (l *DefaultLogger) Info(format string, args ...interface{}) {}

// Warn implements Logger.
func (l *DefaultLogger) Warn(format string, args ...interface{}) {}

// Error implements Logger.
func (l *DefaultLogger) Error(format string, args ...interface{}) {}

// NewDefaultLogger returns the discarding logger.
func NewDefaultLogger() Logger {
	return &DefaultLogger{}
}
