package target

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestInjector_Disabled(t *testing.T) {
	t.Parallel()

	injector := NewInjector(false, fixedNow)

	record := []byte(`{"id":1}`)

	got, err := injector.Apply(record, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, record, []byte(got))

	require.NoError(t, injector.CheckSchema([]byte(`{"properties":{"_sdc_extracted_at":{}}}`)))
}

func TestInjector_Apply(t *testing.T) {
	t.Parallel()

	injector := NewInjector(true, fixedNow)

	original := []byte(`{"id":1}`)

	got, err := injector.Apply(original, time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// Caller's bytes untouched.
	assert.Equal(t, `{"id":1}`, string(original))

	assert.Contains(t, string(got), `"_sdc_extracted_at":"2026-02-28T10:00:00Z"`)
	assert.Contains(t, string(got), `"_sdc_batched_at":"2026-03-01T12:00:00Z"`)
}

func TestInjector_ApplyPreservesLargeIntegers(t *testing.T) {
	t.Parallel()

	injector := NewInjector(true, fixedNow)

	// 2^53+1 is not representable as a float64; a lossy decode would
	// round it down to 9007199254740992.
	got, err := injector.Apply([]byte(`{"id":9007199254740993}`), time.Time{})
	require.NoError(t, err)

	assert.Contains(t, string(got), `"id":9007199254740993`)
}

func TestInjector_ApplyFallsBackToNow(t *testing.T) {
	t.Parallel()

	injector := NewInjector(true, fixedNow)

	got, err := injector.Apply([]byte(`{"id":1}`), time.Time{})
	require.NoError(t, err)

	assert.Contains(t, string(got), `"_sdc_extracted_at":"2026-03-01T12:00:00Z"`)
}

func TestInjector_CheckSchema(t *testing.T) {
	t.Parallel()

	injector := NewInjector(true, fixedNow)

	require.NoError(t, injector.CheckSchema([]byte(`{"properties":{"id":{"type":"integer"}}}`)))
	require.NoError(t, injector.CheckSchema([]byte(`{"type":"object"}`)))

	err := injector.CheckSchema([]byte(`{"properties":{"_sdc_batched_at":{"type":"string"}}}`))
	require.ErrorIs(t, err, ErrReservedProperty)
}

func TestInjector_CheckSchemaRejectsClosedSchema(t *testing.T) {
	t.Parallel()

	injector := NewInjector(true, fixedNow)

	err := injector.CheckSchema([]byte(`{"properties":{"id":{}},"additionalProperties":false}`))
	require.ErrorIs(t, err, ErrClosedSchema)

	// An additionalProperties schema still leaves room for the injected fields.
	require.NoError(t, injector.CheckSchema([]byte(`{"properties":{"id":{}},"additionalProperties":{"type":"string"}}`)))

	// Disabled injection accepts closed schemas untouched.
	off := NewInjector(false, fixedNow)
	require.NoError(t, off.CheckSchema([]byte(`{"additionalProperties":false}`)))
}
