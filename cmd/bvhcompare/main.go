// Command bvhcompare parses BVH motion files, reconstructs joint positions and
// compares motions by Mean Per-Joint Position Error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/mocapstudy/bvhcompare/internal/bvh"
	"github.com/mocapstudy/bvhcompare/internal/config"
	"github.com/mocapstudy/bvhcompare/internal/dispatcher"
	"github.com/mocapstudy/bvhcompare/internal/logging"
	"github.com/mocapstudy/bvhcompare/internal/monitor"
	intOtel "github.com/mocapstudy/bvhcompare/internal/otel"
	"github.com/mocapstudy/bvhcompare/internal/storage"
	"github.com/mocapstudy/bvhcompare/internal/worker"
)

// module defs - Version and BuildDate can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"

	AppName = "bvhcompare"
)

// exit codes
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// commands that record their results
var storedCommands = map[string]bool{
	"compare":   true,
	"batch":     true,
	"selfcheck": true,
}

// commands whose progress is written to the status file
var monitoredCommands = map[string]bool{
	"batch":     true,
	"selfcheck": true,
}

// app holds everything one invocation sets up and must tear down.
type app struct {
	start  time.Time
	stdout io.Writer
	stderr io.Writer

	logManager   *logging.SlogManager
	logger       *slog.Logger
	zlog         zerolog.Logger
	logFile      *os.File
	logFilePath  string
	gelfWriter   *gelf.Writer
	otelProvider *intOtel.Provider

	backend    storage.Backend
	dispatcher *dispatcher.Dispatcher
	workers    *worker.Manager
	monitor    *monitor.Service
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func newFlagSet(stderr io.Writer) *pflag.FlagSet {
	flags := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(true)

	// empty defaults so config file values and viper defaults apply
	flags.String("config-dir", ".", "directory containing "+config.FileName)
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("logs-dir", "", "directory for log files")
	flags.String("storage", "", "comma-separated storage backends (memory, sqlite, postgres, none)")
	flags.Int("workers", 0, "number of comparisons run in parallel")
	flags.String("motion-dir", "", "directory holding the study BVH files")
	flags.String("status-file", "", "write batch progress to this file")
	flags.Bool("version", false, "print version and exit")
	return flags
}

// bindFlags maps flags onto their viper keys.
func bindFlags(flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"logLevel":           "log-level",
		"logsDir":            "logs-dir",
		"storage.type":       "storage",
		"workers":            "workers",
		"motionDir":          "motion-dir",
		"monitor.statusFile": "status-file",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

func usage(w io.Writer, d *dispatcher.Dispatcher, flags *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: %s [flags] <command> [args]\n\nCommands:\n", AppName)
	for _, cmd := range d.Commands() {
		fmt.Fprintf(w, "  %s\n", d.Usage(cmd))
	}
	fmt.Fprintf(w, "\nFlags:\n%s", flags.FlagUsages())
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := newFlagSet(stderr)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if v, _ := flags.GetBool("version"); v {
		fmt.Fprintf(stdout, "%s %s (built %s)\n", AppName, Version, BuildDate)
		return exitOK
	}

	a := &app{start: time.Now(), stdout: stdout, stderr: stderr}
	defer a.shutdown()

	configDir, _ := flags.GetString("config-dir")
	configErr := config.Load(configDir)
	if err := bindFlags(flags); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	a.setupLogging()
	if configErr != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		a.logger.Info("Loaded config", "dir", configDir)
	}

	positional := flags.Args()
	command := ""
	if len(positional) > 0 {
		command = positional[0]
	}

	if err := a.setupStorage(command); err != nil {
		a.logger.Error("Failed to initialize storage backend", "error", err)
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	if err := a.setupDispatcher(); err != nil {
		a.logger.Error("Failed to create dispatcher", "error", err)
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}

	if command == "" || !a.dispatcher.HasHandler(command) {
		if command != "" {
			fmt.Fprintf(stderr, "unknown command: %s\n\n", command)
		}
		usage(stderr, a.dispatcher, flags)
		return exitUsage
	}

	if monitoredCommands[command] {
		a.startMonitor()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithAttrs(ctx, slog.String("command", command))

	_, err := a.dispatcher.Dispatch(ctx, dispatcher.Event{
		Command:   command,
		Args:      positional[1:],
		Timestamp: time.Now(),
	})
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		var argsErr *dispatcher.ArgsError
		if errors.As(err, &argsErr) {
			return exitUsage
		}
		return exitError
	}
	return exitOK
}

// setupLogging opens the session log file and wires slog (text to file, JSON
// to Graylog, OTel bridge) and zerolog (file) on top of it.
func (a *app) setupLogging() {
	a.logManager = logging.NewSlogManager()
	level := viper.GetString("logLevel")

	var fileOut io.Writer = a.stderr
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		fmt.Fprintf(a.stderr, "Failed to create logs dir %s: %v\n", logsDir, err)
	} else {
		a.logFilePath = logging.LogFilePath(logsDir, AppName, a.start)
		f, err := os.OpenFile(a.logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(a.stderr, "Failed to open log file %s: %v\n", a.logFilePath, err)
		} else {
			a.logFile = f
			fileOut = f
		}
	}

	var remotes []io.Writer
	if gc := config.GetGraylogConfig(); gc.Enabled {
		w, err := gelf.NewWriter(gc.Address)
		if err != nil {
			fmt.Fprintf(a.stderr, "Failed to connect to Graylog at %s: %v\n", gc.Address, err)
		} else {
			a.gelfWriter = w
			remotes = append(remotes, w)
		}
	}

	var otelErr error
	var logProvider *sdklog.LoggerProvider
	if oc := config.GetOTelConfig(); oc.Enabled {
		cfg := intOtel.Config{
			Enabled:        oc.Enabled,
			ServiceName:    oc.ServiceName,
			ServiceVersion: Version,
			BatchTimeout:   oc.BatchTimeout,
			Endpoint:       oc.Endpoint,
			Insecure:       oc.Insecure,
		}
		if a.logFile != nil {
			cfg.LogWriter = a.logFile
		}
		a.otelProvider, otelErr = intOtel.New(cfg)
		if otelErr == nil {
			logProvider = a.otelProvider.LoggerProvider()
		}
	}

	a.logManager.Setup(fileOut, level, logProvider, remotes...)
	a.logger = a.logManager.Logger()
	a.zlog = logging.NewZerolog(fileOut, level).With().Str("app", AppName).Logger()

	if otelErr != nil {
		a.logger.Error("Failed to initialize OTel provider", "error", otelErr)
	}
	a.logger.Info("Starting", "version", Version, "build", BuildDate, "log", a.logFilePath)
}

func (a *app) setupStorage(command string) error {
	if !storedCommands[command] {
		a.backend = storage.Discard
		return nil
	}

	backend, err := createStorageBackend(viper.GetString("storage.type"), a.zlog, a.logManager)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		_ = backend.Close()
		return err
	}
	a.backend = backend
	return nil
}

func (a *app) setupDispatcher() error {
	d, err := dispatcher.New(logging.NewDispatcherLogger(a.zlog))
	if err != nil {
		return err
	}

	motionDir := viper.GetString("motionDir")
	if abs, err := filepath.Abs(motionDir); err == nil {
		motionDir = abs
	}

	workers, err := worker.NewManager(worker.Dependencies{
		LogManager: a.logManager,
		Parser:     bvh.NewParser(a.logger),
		MotionDir:  motionDir,
		Out:        a.stdout,
		DBLogger:   a.zlog,
	}, a.backend, viper.GetInt("workers"))
	if err != nil {
		return err
	}
	workers.RegisterHandlers(d)

	a.dispatcher = d
	a.workers = workers
	return nil
}

func (a *app) startMonitor() {
	mc := config.GetMonitorConfig()
	if mc.StatusFile == "" {
		return
	}
	svc := monitor.NewService(monitor.Dependencies{
		LogManager: a.logManager,
		Source:     a.workers,
		StatusFile: mc.StatusFile,
		Interval:   mc.Interval,
	})
	if err := svc.Start(); err != nil {
		a.logger.Error("Failed to start status monitor", "error", err)
		return
	}
	a.monitor = svc
}

// shutdown stops the monitor, closes storage, flushes telemetry and closes
// log sinks.
func (a *app) shutdown() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Error("Failed to close storage backend", "error", err)
			fmt.Fprintln(a.stderr, "error:", err)
		} else if e, ok := a.backend.(storage.Exportable); ok && e.ExportedFilePath() != "" {
			a.logger.Info("Results written", "path", e.ExportedFilePath())
		}
	}

	if a.logger != nil {
		a.logger.Info("Done", "elapsed", time.Since(a.start).Round(time.Millisecond))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.otelProvider != nil {
		if err := a.otelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintln(a.stderr, "otel shutdown:", err)
		}
	}
	if a.gelfWriter != nil {
		_ = a.gelfWriter.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
