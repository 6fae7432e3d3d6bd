package target

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tapsink/internal/registry"
	"github.com/Sumatoshi-tech/tapsink/internal/schema"
	"github.com/Sumatoshi-tech/tapsink/internal/sink"
)

const usersSchemaLine = `{"type":"SCHEMA","stream":"users","schema":{"type":"object","properties":{"id":{"type":"integer"}}},"key_properties":["id"]}`

func newHarness(t *testing.T, injectMetadata bool, opts ...Option) (*Target, *sink.Memory, *bytes.Buffer) {
	t.Helper()

	backend := sink.NewMemory()
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	reg := registry.New(backend, sink.CompressionNone, registry.WithClock(clock))

	out := &bytes.Buffer{}
	tgt := New(reg, NewInjector(injectMetadata, clock), out, opts...)

	return tgt, backend, out
}

func run(t *testing.T, tgt *Target, lines ...string) error {
	t.Helper()

	return tgt.Run(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"))
}

func records(t *testing.T, backend *sink.Memory, path string) []map[string]any {
	t.Helper()

	var out []map[string]any

	for _, line := range strings.Split(strings.TrimSpace(string(backend.Data(path))), "\n") {
		if line == "" {
			continue
		}

		var record map[string]any

		require.NoError(t, json.Unmarshal([]byte(line), &record))

		out = append(out, record)
	}

	return out
}

// Scenario A: one schema, one record, one state.
func TestRun_SchemaRecordState(t *testing.T) {
	t.Parallel()

	tgt, backend, out := newHarness(t, false)

	err := run(t, tgt,
		usersSchemaLine,
		`{"type":"RECORD","stream":"users","record":{"id":1}}`,
		`{"type":"STATE","value":{"bookmark":1}}`,
	)
	require.NoError(t, err)

	paths := backend.Paths()
	require.Len(t, paths, 1)
	assert.Equal(t, "users/users-20260301T120000+0000.singer", paths[0])

	got := records(t, backend, paths[0])
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"id": float64(1)}, got[0])

	assert.JSONEq(t, `{"bookmark":1}`, strings.TrimSpace(out.String()))
	assert.True(t, backend.Closed(paths[0]))
}

// Scenario B: a schema change splits the stream into two artifacts.
func TestRun_SchemaChangeRotates(t *testing.T) {
	t.Parallel()

	tgt, backend, _ := newHarness(t, false)

	err := run(t, tgt,
		usersSchemaLine,
		`{"type":"RECORD","stream":"users","record":{"id":1}}`,
		`{"type":"SCHEMA","stream":"users","schema":{"type":"object","properties":{"id":{"type":"integer"},"name":{"type":"string"}}},"key_properties":["id"]}`,
		`{"type":"RECORD","stream":"users","record":{"id":2,"name":"ada"}}`,
	)
	require.NoError(t, err)

	require.Len(t, backend.Paths(), 2)

	first := records(t, backend, "users/users-20260301T120000+0000.singer")
	require.Len(t, first, 1)
	assert.Equal(t, float64(1), first[0]["id"])

	second := records(t, backend, "users/users-20260301T120000+0000-1.singer")
	require.Len(t, second, 1)
	assert.Equal(t, "ada", second[0]["name"])
}

// Scenario C: a record with no prior schema aborts the run.
func TestRun_RecordBeforeSchema(t *testing.T) {
	t.Parallel()

	tgt, backend, out := newHarness(t, false)

	err := run(t, tgt, `{"type":"RECORD","stream":"orders","record":{"id":1}}`)
	require.ErrorIs(t, err, registry.ErrUnregisteredStream)
	assert.Contains(t, err.Error(), "line 1")

	assert.Empty(t, backend.Paths())
	assert.Empty(t, out.String())
}

// Scenario D: an invalid record is dropped and processing continues.
func TestRun_ValidationFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	var reportedStream string

	var reportedLine int64

	var reported []schema.Violation

	reporter := func(stream string, line int64, violations []schema.Violation) {
		reportedStream = stream
		reportedLine = line
		reported = violations
	}

	tgt, backend, out := newHarness(t, false, WithViolationReporter(reporter))

	err := run(t, tgt,
		usersSchemaLine,
		`{"type":"RECORD","stream":"users","record":{"id":"not-an-int"}}`,
		`{"type":"RECORD","stream":"users","record":{"id":2}}`,
		`{"type":"STATE","value":{"bookmark":2}}`,
	)
	require.NoError(t, err)

	assert.Equal(t, "users", reportedStream)
	assert.Equal(t, int64(2), reportedLine)
	require.NotEmpty(t, reported)
	assert.Equal(t, "id", reported[0].Field)

	paths := backend.Paths()
	require.Len(t, paths, 1)

	got := records(t, backend, paths[0])
	require.Len(t, got, 1)
	assert.Equal(t, float64(2), got[0]["id"])

	assert.JSONEq(t, `{"bookmark":2}`, strings.TrimSpace(out.String()))
}

func TestRun_StateOrderingPreserved(t *testing.T) {
	t.Parallel()

	tgt, _, out := newHarness(t, false)

	err := run(t, tgt,
		`{"type":"STATE","value":{"seq":1}}`,
		`{"type":"STATE","value":{"seq":2}}`,
		`{"type":"STATE","value":{"seq":3}}`,
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"seq":1}`, lines[0])
	assert.JSONEq(t, `{"seq":2}`, lines[1])
	assert.JSONEq(t, `{"seq":3}`, lines[2])

	assert.Equal(t, int64(3), tgt.StatesForwarded())
}

// Flush-before-forward: when a state reaches the output, every record that
// preceded it on input is already in the flushed prefix of its artifact.
func TestRun_FlushBeforeForward(t *testing.T) {
	t.Parallel()

	backend := sink.NewMemory()
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	reg := registry.New(backend, sink.CompressionNone, registry.WithClock(clock))

	var flushedAtForward []byte

	out := writerFunc(func(p []byte) (int, error) {
		flushedAtForward = backend.Flushed("users/users-20260301T120000+0000.singer")

		return len(p), nil
	})

	tgt := New(reg, NewInjector(false, clock), out)

	err := run(t, tgt,
		usersSchemaLine,
		`{"type":"RECORD","stream":"users","record":{"id":1}}`,
		`{"type":"STATE","value":{"bookmark":1}}`,
	)
	require.NoError(t, err)

	assert.Equal(t, "{\"id\":1}\n", string(flushedAtForward))
}

func TestRun_MetadataInjection(t *testing.T) {
	t.Parallel()

	tgt, backend, _ := newHarness(t, true)

	err := run(t, tgt,
		usersSchemaLine,
		`{"type":"RECORD","stream":"users","record":{"id":1},"time_extracted":"2026-02-28T23:59:00Z"}`,
	)
	require.NoError(t, err)

	got := records(t, backend, backend.Paths()[0])
	require.Len(t, got, 1)

	assert.Equal(t, float64(1), got[0]["id"])
	assert.Equal(t, "2026-02-28T23:59:00Z", got[0]["_sdc_extracted_at"])
	assert.Equal(t, "2026-03-01T12:00:00Z", got[0]["_sdc_batched_at"])
}

// Injection must not disturb the user payload: an id beyond float64
// precision has to land in the artifact digit for digit.
func TestRun_MetadataInjectionKeepsLargeIntegers(t *testing.T) {
	t.Parallel()

	tgt, backend, _ := newHarness(t, true)

	err := run(t, tgt,
		usersSchemaLine,
		`{"type":"RECORD","stream":"users","record":{"id":9007199254740993}}`,
	)
	require.NoError(t, err)

	paths := backend.Paths()
	require.Len(t, paths, 1)

	raw := string(backend.Data(paths[0]))
	assert.Contains(t, raw, `"id":9007199254740993`)
	assert.NotContains(t, raw, "9007199254740992")
}

func TestRun_ClosedSchemaWithInjection(t *testing.T) {
	t.Parallel()

	tgt, backend, _ := newHarness(t, true)

	err := run(t, tgt,
		`{"type":"SCHEMA","stream":"users","schema":{"type":"object","properties":{"id":{"type":"integer"}},"additionalProperties":false},"key_properties":["id"]}`,
	)
	require.ErrorIs(t, err, ErrClosedSchema)
	assert.Empty(t, backend.Paths())
}

func TestRun_ReservedPropertyCollision(t *testing.T) {
	t.Parallel()

	tgt, backend, _ := newHarness(t, true)

	err := run(t, tgt,
		`{"type":"SCHEMA","stream":"users","schema":{"type":"object","properties":{"_sdc_extracted_at":{"type":"string"}}},"key_properties":[]}`,
	)
	require.ErrorIs(t, err, ErrReservedProperty)
	assert.Empty(t, backend.Paths())
}

func TestRun_ParseErrorsAreFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
	}{
		{name: "malformed json", line: `{"type":`},
		{name: "missing type", line: `{"stream":"users"}`},
		{name: "unknown type", line: `{"type":"FLUSH","stream":"users"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tgt, _, _ := newHarness(t, false)

			err := run(t, tgt, usersSchemaLine, tc.line)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "line 2")
		})
	}
}

func TestRun_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	tgt, backend, _ := newHarness(t, false)

	err := tgt.Run(context.Background(), strings.NewReader(
		usersSchemaLine+"\n\n  \n"+`{"type":"RECORD","stream":"users","record":{"id":1}}`+"\n"))
	require.NoError(t, err)

	require.Len(t, backend.Paths(), 1)
}

func TestRun_CancelledContextStopsAtBoundary(t *testing.T) {
	t.Parallel()

	tgt, backend, _ := newHarness(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tgt.Run(ctx, strings.NewReader(usersSchemaLine+"\n"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, backend.Paths())
}

func TestRun_GzipArtifactRoundTrip(t *testing.T) {
	t.Parallel()

	backend := sink.NewMemory()
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	reg := registry.New(backend, sink.CompressionGzip, registry.WithClock(clock))

	tgt := New(reg, NewInjector(false, clock), &bytes.Buffer{})

	err := run(t, tgt,
		usersSchemaLine,
		`{"type":"RECORD","stream":"users","record":{"id":1}}`,
		`{"type":"RECORD","stream":"users","record":{"id":2}}`,
	)
	require.NoError(t, err)

	paths := backend.Paths()
	require.Len(t, paths, 1)
	assert.Equal(t, "users/users-20260301T120000+0000.singer.gz", paths[0])

	reader, err := gzip.NewReader(bytes.NewReader(backend.Data(paths[0])))
	require.NoError(t, err)

	decompressed, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":1}\n{\"id\":2}\n", string(decompressed))
}

func TestRun_MultipleStreams(t *testing.T) {
	t.Parallel()

	tgt, backend, _ := newHarness(t, false)

	err := run(t, tgt,
		usersSchemaLine,
		`{"type":"SCHEMA","stream":"orders","schema":{"type":"object"},"key_properties":["id"]}`,
		`{"type":"RECORD","stream":"users","record":{"id":1}}`,
		`{"type":"RECORD","stream":"orders","record":{"id":10}}`,
		`{"type":"RECORD","stream":"users","record":{"id":2}}`,
	)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"users/users-20260301T120000+0000.singer",
		"orders/orders-20260301T120000+0000.singer",
	}, backend.Paths())

	entries := tgt.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "orders", entries[0].Name())
	assert.Equal(t, int64(1), entries[0].Records())
	assert.Equal(t, "users", entries[1].Name())
	assert.Equal(t, int64(2), entries[1].Records())
}

// writerFunc adapts a function to io.Writer.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
