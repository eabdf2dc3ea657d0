package logging

import "github.com/rs/zerolog"

// DispatcherLogger lets the command dispatcher log key/value pairs through zerolog.
// Every entry carries component=dispatcher.
type DispatcherLogger struct {
	logger zerolog.Logger
}

// NewDispatcherLogger wraps logger for use by the command dispatcher.
func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger.With().Str("component", "dispatcher").Logger()}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(toFields(keysAndValues)).Msg(msg)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(toFields(keysAndValues)).Msg(msg)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues)
	if err, ok := fields["error"].(error); ok {
		delete(fields, "error")
		l.logger.Error().Err(err).Fields(fields).Msg(msg)
		return
	}
	l.logger.Error().Fields(fields).Msg(msg)
}

// toFields pairs up keysAndValues, skipping non-string keys and a trailing
// key without a value.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}
