// Package registry owns per-stream state: the current schema, key
// properties, and the currently open output artifact. It decides artifact
// lifecycle (lazy open, rotation on schema change, close on shutdown) and
// constructs destination paths.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"time"

	"github.com/Sumatoshi-tech/tapsink/internal/schema"
	"github.com/Sumatoshi-tech/tapsink/internal/sink"
)

// ErrUnregisteredStream indicates a record arrived for a stream with no
// registered schema. Fatal: schema-before-data ordering is part of the
// protocol contract.
var ErrUnregisteredStream = errors.New("record received for stream with no registered schema")

// Entry is the mutable state for one named stream. Owned exclusively by
// the Registry; mutated only through the single dispatch path.
type Entry struct {
	name      string
	schemaDoc json.RawMessage
	keys      []string
	validator *schema.Validator

	artifact sink.Stream
	openedAt time.Time
	lastPath string
	seq      int

	records   int64
	bytes     int64
	artifacts int
}

// Name returns the stream name.
func (e *Entry) Name() string { return e.name }

// KeyProperties returns the stream's current key-property list.
func (e *Entry) KeyProperties() []string { return e.keys }

// Validator returns the compiled validator for the current schema.
func (e *Entry) Validator() *schema.Validator { return e.validator }

// Records returns the total records written across all artifacts.
func (e *Entry) Records() int64 { return e.records }

// Bytes returns the total serialized record bytes written, pre-compression.
func (e *Entry) Bytes() int64 { return e.bytes }

// Artifacts returns the number of artifacts opened for the stream.
func (e *Entry) Artifacts() int { return e.artifacts }

// Registry tracks every stream seen on the input and the artifact each one
// is currently writing to.
type Registry struct {
	backend     sink.Backend
	compression sink.Compression
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger
	entries     map[string]*Entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the artifact-open timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithTimeout bounds backend open and existence checks.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Registry) { r.timeout = timeout }
}

// New creates a Registry writing artifacts to backend with the given
// compression scheme.
func New(backend sink.Backend, compression sink.Compression, opts ...Option) *Registry {
	r := &Registry{
		backend:     backend,
		compression: compression,
		now:         time.Now,
		logger:      slog.Default(),
		entries:     make(map[string]*Entry),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RegisterSchema records or updates the schema and key properties for a
// stream. An identical re-declaration is a no-op. A changed schema or key
// list is a schema-change event: the open artifact, if any, is rotated out
// before the stored declaration is updated. Reports whether a rotation
// happened.
func (r *Registry) RegisterSchema(ctx context.Context, stream string, schemaDoc json.RawMessage, keys []string) (bool, error) {
	entry, seen := r.entries[stream]
	if seen && schemaEqual(entry.schemaDoc, schemaDoc) && slices.Equal(entry.keys, keys) {
		return false, nil
	}

	validator, compileErr := schema.Compile(schemaDoc)
	if compileErr != nil {
		return false, fmt.Errorf("stream %s: %w", stream, compileErr)
	}

	rotated := false

	if !seen {
		entry = &Entry{name: stream}
		r.entries[stream] = entry
	} else if entry.artifact != nil {
		closeErr := r.closeArtifact(entry)
		if closeErr != nil {
			return false, closeErr
		}

		rotated = true

		r.logger.Info("rotated artifact on schema change", "stream", stream)
	}

	entry.schemaDoc = append(json.RawMessage(nil), schemaDoc...)
	entry.keys = slices.Clone(keys)
	entry.validator = validator

	return rotated, nil
}

// Lookup returns the entry for stream, or ErrUnregisteredStream when no
// schema has been registered for it.
func (r *Registry) Lookup(stream string) (*Entry, error) {
	entry, ok := r.entries[stream]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredStream, stream)
	}

	return entry, nil
}

// Write appends one serialized record to the stream's current artifact,
// opening a fresh one when none is open. Reports whether a new artifact
// was opened.
func (r *Registry) Write(ctx context.Context, stream string, record []byte) (bool, error) {
	entry, lookupErr := r.Lookup(stream)
	if lookupErr != nil {
		return false, lookupErr
	}

	opened := false

	if entry.artifact == nil {
		openErr := r.openArtifact(ctx, entry)
		if openErr != nil {
			return false, openErr
		}

		opened = true
	}

	_, writeErr := entry.artifact.Write(record)
	if writeErr != nil {
		return opened, fmt.Errorf("stream %s: write artifact %s: %w", stream, entry.artifact.Path(), writeErr)
	}

	_, nlErr := entry.artifact.Write([]byte{'\n'})
	if nlErr != nil {
		return opened, fmt.Errorf("stream %s: write artifact %s: %w", stream, entry.artifact.Path(), nlErr)
	}

	entry.records++
	entry.bytes += int64(len(record)) + 1

	return opened, nil
}

// FlushAll hands every open artifact's buffered bytes to the backend's
// durable write path. Called before a checkpoint is forwarded.
func (r *Registry) FlushAll(_ context.Context) error {
	for _, entry := range r.sorted() {
		if entry.artifact == nil {
			continue
		}

		flushErr := entry.artifact.Flush()
		if flushErr != nil {
			return fmt.Errorf("stream %s: flush artifact %s: %w", entry.name, entry.artifact.Path(), flushErr)
		}
	}

	return nil
}

// CloseAll closes every open artifact. Used at end-of-input and during
// best-effort cleanup on fatal errors; it attempts every stream and joins
// the failures.
func (r *Registry) CloseAll(_ context.Context) error {
	var errs []error

	for _, entry := range r.sorted() {
		if entry.artifact == nil {
			continue
		}

		closeErr := r.closeArtifact(entry)
		if closeErr != nil {
			errs = append(errs, closeErr)
		}
	}

	return errors.Join(errs...)
}

// Entries returns every stream entry, sorted by name.
func (r *Registry) Entries() []*Entry {
	return r.sorted()
}

func (r *Registry) sorted() []*Entry {
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	return entries
}

func (r *Registry) openArtifact(ctx context.Context, entry *Entry) error {
	opCtx, cancel := r.bound(ctx)
	defer cancel()

	path, pathErr := r.nextArtifactPath(opCtx, entry)
	if pathErr != nil {
		return fmt.Errorf("stream %s: %w", entry.name, pathErr)
	}

	raw, openErr := r.backend.Open(opCtx, path)
	if openErr != nil {
		return fmt.Errorf("stream %s: open artifact: %w", entry.name, openErr)
	}

	entry.artifact = sink.Compress(raw, r.compression)
	entry.openedAt = r.now()
	entry.artifacts++

	r.logger.Info("opened artifact", "stream", entry.name, "path", path)

	return nil
}

func (r *Registry) closeArtifact(entry *Entry) error {
	path := entry.artifact.Path()

	closeErr := entry.artifact.Close()
	entry.artifact = nil

	if closeErr != nil {
		return fmt.Errorf("stream %s: close artifact %s: %w", entry.name, path, closeErr)
	}

	r.logger.Info("closed artifact", "stream", entry.name, "path", path)

	return nil
}

func (r *Registry) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, r.timeout)
}

// schemaEqual compares two schema documents structurally, so formatting
// and key order do not count as a schema change.
func schemaEqual(a, b json.RawMessage) bool {
	var left, right any

	if json.Unmarshal(a, &left) != nil || json.Unmarshal(b, &right) != nil {
		return false
	}

	return reflect.DeepEqual(left, right)
}
