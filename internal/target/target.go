// Package target implements the message dispatch engine: it reads the
// newline-delimited message sequence, routes each message through schema
// registration, validation, metadata injection, and artifact writes, and
// forwards checkpoints only after all prior records are flushed.
package target

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Sumatoshi-tech/tapsink/internal/message"
	"github.com/Sumatoshi-tech/tapsink/internal/observability"
	"github.com/Sumatoshi-tech/tapsink/internal/registry"
	"github.com/Sumatoshi-tech/tapsink/internal/schema"
)

// scanInitialBuffer is the initial line buffer size.
const scanInitialBuffer = 64 * 1024

// scanMaxLine bounds a single input line. Producers batching wide rows can
// emit lines in the megabytes.
const scanMaxLine = 20 * 1024 * 1024

// ViolationReporter receives non-fatal validation failures. line is the
// 1-based input line number of the rejected record.
type ViolationReporter func(stream string, line int64, violations []schema.Violation)

// Target is the sink's single logical pipeline. One message is fully
// processed before the next is read; the per-stream entries are mutated
// only through this path, so no locking is involved.
type Target struct {
	reg      *registry.Registry
	injector *Injector
	out      io.Writer
	logger   *slog.Logger
	metrics  *observability.Metrics
	report   ViolationReporter

	line   int64
	states int64
}

// Option configures a Target.
type Option func(*Target)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Target) { t.logger = logger }
}

// WithMetrics attaches run metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(t *Target) { t.metrics = metrics }
}

// WithViolationReporter overrides where validation failures are reported.
func WithViolationReporter(report ViolationReporter) Option {
	return func(t *Target) { t.report = report }
}

// New creates a Target writing forwarded state messages to out.
func New(reg *registry.Registry, injector *Injector, out io.Writer, opts ...Option) *Target {
	t := &Target{
		reg:      reg,
		injector: injector,
		out:      out,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.report == nil {
		t.report = func(stream string, line int64, violations []schema.Violation) {
			t.logger.Warn("record failed schema validation",
				"stream", stream,
				"line", line,
				"violations", schema.Format(violations),
			)
		}
	}

	return t
}

// Run consumes the whole input, one message at a time, and closes every
// open artifact before returning. The returned error, if any, is fatal;
// artifact cleanup is still attempted. Cancellation is honored at message
// boundaries only.
func (t *Target) Run(ctx context.Context, in io.Reader) (err error) {
	defer func() {
		closeErr := t.reg.CloseAll(ctx)
		if closeErr != nil {
			if err == nil {
				err = closeErr
			} else {
				t.logger.Error("best-effort artifact cleanup failed", "error", closeErr)
			}
		}
	}()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, scanInitialBuffer), scanMaxLine)

	for scanner.Scan() {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return fmt.Errorf("shutdown requested: %w", ctxErr)
		}

		t.line++

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		processErr := t.Process(ctx, line)
		if processErr != nil {
			return fmt.Errorf("line %d: %w", t.line, processErr)
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return fmt.Errorf("read input: %w", scanErr)
	}

	t.logger.Info("input exhausted",
		"lines", t.line,
		"streams", len(t.reg.Entries()),
		"states_forwarded", t.states,
	)

	return nil
}

// Process dispatches one message. Validation failures are handled locally
// (skip-and-report); every returned error is fatal.
func (t *Target) Process(ctx context.Context, line []byte) error {
	msg, parseErr := message.Parse(line)
	if parseErr != nil {
		return parseErr
	}

	switch msg.Type {
	case message.TypeSchema:
		return t.processSchema(ctx, msg)
	case message.TypeRecord:
		return t.processRecord(ctx, msg)
	case message.TypeState:
		return t.processState(ctx, msg)
	default:
		return fmt.Errorf("%w: %q", message.ErrUnknownType, msg.Type)
	}
}

func (t *Target) processSchema(ctx context.Context, msg *message.Message) error {
	checkErr := t.injector.CheckSchema(msg.Schema)
	if checkErr != nil {
		return fmt.Errorf("stream %s: %w", msg.Stream, checkErr)
	}

	rotated, registerErr := t.reg.RegisterSchema(ctx, msg.Stream, msg.Schema, msg.KeyProperties)
	if registerErr != nil {
		return registerErr
	}

	if rotated {
		t.logger.Debug("schema change", "stream", msg.Stream)
	}

	return nil
}

func (t *Target) processRecord(ctx context.Context, msg *message.Message) error {
	entry, lookupErr := t.reg.Lookup(msg.Stream)
	if lookupErr != nil {
		return lookupErr
	}

	violations, validateErr := entry.Validator().Validate(msg.Record)
	if validateErr != nil {
		return fmt.Errorf("stream %s: %w", msg.Stream, validateErr)
	}

	if len(violations) > 0 {
		t.report(msg.Stream, t.line, violations)
		t.metrics.RecordRejected(msg.Stream)

		return nil
	}

	payload, injectErr := t.injector.Apply(msg.Record, msg.TimeExtracted)
	if injectErr != nil {
		return fmt.Errorf("stream %s: %w", msg.Stream, injectErr)
	}

	opened, writeErr := t.reg.Write(ctx, msg.Stream, payload)
	if opened {
		t.metrics.ArtifactOpened(msg.Stream)
	}

	if writeErr != nil {
		return writeErr
	}

	t.metrics.RecordAccepted(msg.Stream, len(payload)+1)

	return nil
}

// processState flushes every open artifact and only then forwards the
// state payload. A state on the output channel therefore implies all prior
// records are on the backend's durable write path.
func (t *Target) processState(ctx context.Context, msg *message.Message) error {
	flushErr := t.reg.FlushAll(ctx)
	if flushErr != nil {
		return flushErr
	}

	_, writeErr := t.out.Write(append(append([]byte(nil), msg.Value...), '\n'))
	if writeErr != nil {
		return fmt.Errorf("forward state: %w", writeErr)
	}

	type flusher interface{ Flush() error }
	if f, ok := t.out.(flusher); ok {
		syncErr := f.Flush()
		if syncErr != nil {
			return fmt.Errorf("forward state: %w", syncErr)
		}
	}

	t.states++
	t.metrics.StateForwarded()

	return nil
}

// Entries exposes the per-stream totals for end-of-run reporting.
func (t *Target) Entries() []*registry.Entry {
	return t.reg.Entries()
}

// Lines returns the number of input lines consumed.
func (t *Target) Lines() int64 { return t.line }

// StatesForwarded returns the number of checkpoints forwarded downstream.
func (t *Target) StatesForwarded() int64 { return t.states }
