package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// scope is the instrumentation scope reported through the OTel bridge.
const scope = "github.com/mocapstudy/bvhcompare"

// console is where text output goes when no file is given; swapped in tests.
var console io.Writer = os.Stdout

// SlogManager owns the process logger. Before Setup it hands out slog.Default.
type SlogManager struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel maps debug/info/warn/error (any case, "warning" accepted) to a
// slog level. Anything else is info.
func parseLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// utcTime renders record times as RFC 3339 in UTC.
func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// Setup (re)builds the logger. Text goes to file, or to stdout when file is
// nil; each remote writer, such as a GELF writer, gets one JSON document per
// record; a non-nil provider adds the OTel bridge.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, remotes ...io.Writer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level), ReplaceAttr: utcTime}

	if file == nil {
		file = console
	}
	handlers := []slog.Handler{slog.NewTextHandler(file, opts)}
	for _, w := range remotes {
		if w != nil {
			handlers = append(handlers, slog.NewJSONHandler(w, opts))
		}
	}
	if provider != nil {
		handlers = append(handlers, otelslog.NewHandler(scope, otelslog.WithLoggerProvider(provider)))
	}

	m.provider = provider
	m.logger = slog.New(NewContextHandler(NewMultiHandler(handlers...)))
	m.logger.Debug("Logging initialized", "level", opts.Level, "sinks", len(handlers))
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces pending OTel records out. It is a no-op without a provider.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}

// WriteLog logs data at the named level, tagged with the calling function.
// Nothing is written before Setup.
func (m *SlogManager) WriteLog(functionName, data, level string) {
	if m.logger == nil {
		return
	}
	m.logger.Log(context.Background(), parseLevel(level), data, "function", functionName)
}
