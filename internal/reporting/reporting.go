package reporting

// Logger defines the logging interface for reporters. Reporters never
// fail a run; delivery problems are logged.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}
