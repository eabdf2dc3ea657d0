// Package dispatcher routes CLI subcommands to their handlers.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event is one invocation of a subcommand.
type Event struct {
	Command   string
	Args      []string
	Timestamp time.Time
}

// HandlerFunc runs one command. The result is returned to the caller as is.
type HandlerFunc func(context.Context, Event) (any, error)

// Logger is the key/value logger the dispatcher reports through.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures one registered command.
type Option func(*config)

type config struct {
	minArgs int
	maxArgs int
	usage   string
	logged  bool
}

// Args bounds the number of positional arguments. A negative max means
// no upper bound.
func Args(minArgs, maxArgs int) Option {
	return func(c *config) {
		c.minArgs = minArgs
		c.maxArgs = maxArgs
	}
}

// Usage sets the one-line usage shown when the argument count is wrong.
func Usage(usage string) Option {
	return func(c *config) {
		c.usage = usage
	}
}

// Logged logs each call at debug level and failures at error level.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// ArgsError is returned when an event carries the wrong number of arguments.
type ArgsError struct {
	Command string
	Got     int
	Usage   string
}

func (e *ArgsError) Error() string {
	if e.Usage != "" {
		return fmt.Sprintf("%s: got %d argument(s), usage: %s", e.Command, e.Got, e.Usage)
	}
	return fmt.Sprintf("%s: wrong number of arguments (%d)", e.Command, e.Got)
}

// Dispatcher maps command names to handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	usages   map[string]string
	logger   Logger

	processed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// New creates a Dispatcher. Instruments come from the global OTel meter and
// are no-ops until a meter provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		usages:   make(map[string]string),
		logger:   logger,
	}

	m := meter()

	var err error

	d.processed, err = m.Int64Counter(
		"dispatcher.commands.processed",
		metric.WithDescription("Total commands processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.commands.failed",
		metric.WithDescription("Total commands that returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.duration, err = m.Float64Histogram(
		"dispatcher.commands.duration",
		metric.WithDescription("Command run time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return d, nil
}

// Register binds command to h. Registering a command twice replaces it.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	cfg := &config{maxArgs: -1}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := d.withMetrics(command, h)

	if cfg.minArgs > 0 || cfg.maxArgs >= 0 {
		handler = withArgs(command, *cfg, handler)
	}

	if cfg.logged {
		handler = d.withLogging(command, handler)
	}

	d.handlers[command] = handler
	d.usages[command] = cfg.usage
}

// Dispatch runs the handler for e.Command.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) (any, error) {
	h, ok := d.handlers[e.Command]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", e.Command)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return h(ctx, e)
}

// HasHandler reports whether command is registered.
func (d *Dispatcher) HasHandler(command string) bool {
	_, ok := d.handlers[command]
	return ok
}

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Usage returns the usage line registered for command, if any.
func (d *Dispatcher) Usage(command string) string {
	return d.usages[command]
}

func withArgs(command string, cfg config, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, e Event) (any, error) {
		n := len(e.Args)
		if n < cfg.minArgs || (cfg.maxArgs >= 0 && n > cfg.maxArgs) {
			return nil, &ArgsError{Command: command, Got: n, Usage: cfg.usage}
		}
		return h(ctx, e)
	}
}

func (d *Dispatcher) withMetrics(command string, h HandlerFunc) HandlerFunc {
	cmdAttr := metric.WithAttributes(attribute.String("command", command))

	return func(ctx context.Context, e Event) (any, error) {
		start := time.Now()
		result, err := h(ctx, e)

		d.duration.Record(ctx, time.Since(start).Seconds(), cmdAttr)
		d.processed.Add(ctx, 1, cmdAttr)
		if err != nil {
			d.failed.Add(ctx, 1, cmdAttr)
		}
		return result, err
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling command", "command", command, "args", len(e.Args))

		result, err := h(ctx, e)

		if err != nil {
			d.logger.Error("command failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("command complete", "command", command, "duration", time.Since(start))
		}

		return result, err
	}
}
