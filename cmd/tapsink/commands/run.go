// Package commands implements CLI command handlers for tapsink.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tapsink/internal/config"
	"github.com/Sumatoshi-tech/tapsink/internal/observability"
	"github.com/Sumatoshi-tech/tapsink/internal/registry"
	"github.com/Sumatoshi-tech/tapsink/internal/schema"
	"github.com/Sumatoshi-tech/tapsink/internal/sink"
	"github.com/Sumatoshi-tech/tapsink/internal/target"
)

// metricsShutdownTimeout bounds the scrape listener drain on exit.
const metricsShutdownTimeout = 2 * time.Second

// ErrUnsupportedDestination indicates a destination the backend factory
// cannot build. Config validation catches this earlier in normal operation.
var ErrUnsupportedDestination = errors.New("unsupported destination")

// NewRunCommand creates the run command: consume Singer messages on stdin
// and persist records to the configured destination.
func NewRunCommand() *cobra.Command {
	var configPath string

	var noColor bool

	var noSummary bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume Singer messages on stdin and persist records",
		Long: `Read newline-delimited Singer messages from stdin, validate records
against their stream's schema, write them to rotating compressed artifacts,
and echo STATE messages to stdout once prior records are durably flushed.

Examples:
  some-tap | tapsink run -c config.yaml
  some-tap | tapsink run -c config.json > state.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSink(cmd.Context(), configPath, noColor, noSummary, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML or JSON)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored diagnostics")
	cmd.Flags().BoolVar(&noSummary, "no-summary", false, "suppress the end-of-run stream summary")

	return cmd
}

func runSink(parent context.Context, configPath string, noColor, noSummary bool, in io.Reader, out io.Writer) error {
	cfg, cfgErr := config.LoadConfig(configPath)
	if cfgErr != nil {
		return cfgErr
	}

	if noColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	backend, backendErr := buildBackend(cfg)
	if backendErr != nil {
		return backendErr
	}

	compression, compressionErr := sink.ParseCompression(cfg.Compression)
	if compressionErr != nil {
		return compressionErr
	}

	metrics := observability.NewMetrics()

	stopMetrics, metricsErr := serveMetrics(cfg.MetricsAddr, metrics, logger)
	if metricsErr != nil {
		return metricsErr
	}
	defer stopMetrics()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(backend, compression,
		registry.WithLogger(logger),
		registry.WithTimeout(cfg.BackendTimeout),
	)

	injector := target.NewInjector(cfg.AddRecordMetadata, time.Now)

	tgt := target.New(reg, injector, out,
		target.WithLogger(logger),
		target.WithMetrics(metrics),
		target.WithViolationReporter(colorReporter(logger)),
	)

	start := time.Now()

	runErr := tgt.Run(ctx, in)

	if !noSummary {
		printSummary(os.Stderr, tgt, time.Since(start))
	}

	return runErr
}

// newLogger builds the stderr slog logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level

	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// buildBackend selects the destination backend. The core pipeline never
// branches on backend identity; this factory is the only place that does.
func buildBackend(cfg *config.Config) (sink.Backend, error) {
	switch cfg.Destination {
	case config.DestinationLocal:
		return sink.NewLocal(cfg.Local.Folder)
	case config.DestinationS3:
		return sink.NewS3(sink.S3Options{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
			Timeout:   cfg.BackendTimeout,
			Retries:   cfg.BackendRetries,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDestination, cfg.Destination)
	}
}

// colorReporter renders validation violations to stderr and keeps a
// structured record in the log.
func colorReporter(logger *slog.Logger) target.ViolationReporter {
	return func(stream string, line int64, violations []schema.Violation) {
		color.New(color.FgYellow).Fprintf(os.Stderr, "line %d: record rejected for stream %s\n", line, stream)

		for _, v := range violations {
			color.New(color.FgRed).Fprintf(os.Stderr, "  - %s\n", v)
		}

		logger.Warn("record failed schema validation",
			"stream", stream,
			"line", line,
			"violations", schema.Format(violations),
		)
	}
}

// serveMetrics starts the prometheus scrape listener when addr is set.
// The returned stop function drains the listener.
func serveMetrics(addr string, metrics *observability.Metrics, logger *slog.Logger) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: time.Second}

	go func() {
		serveErr := server.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "addr", addr, "error", serveErr)
		}
	}()

	logger.Info("serving metrics", "addr", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}, nil
}

// printSummary renders the per-stream totals table.
func printSummary(w io.Writer, tgt *target.Target, elapsed time.Duration) {
	entries := tgt.Entries()
	if len(entries) == 0 {
		fmt.Fprintf(w, "No streams seen (%d lines, %d states forwarded, %s)\n",
			tgt.Lines(), tgt.StatesForwarded(), elapsed.Round(time.Millisecond))

		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Stream", "Records", "Bytes", "Artifacts"})

	var totalRecords int64

	for _, entry := range entries {
		tw.AppendRow(table.Row{
			entry.Name(),
			entry.Records(),
			humanize.Bytes(uint64(entry.Bytes())),
			entry.Artifacts(),
		})

		totalRecords += entry.Records()
	}

	tw.AppendFooter(table.Row{"total", totalRecords, "", ""})
	tw.Render()

	fmt.Fprintf(w, "%d lines, %d states forwarded, %s\n",
		tgt.Lines(), tgt.StatesForwarded(), elapsed.Round(time.Millisecond))
}
