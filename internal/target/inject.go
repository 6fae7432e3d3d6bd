package target

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MetadataPrefix is the reserved namespace for injected record metadata.
const MetadataPrefix = "_sdc_"

// Injected field names.
const (
	fieldExtractedAt = "_sdc_extracted_at"
	fieldBatchedAt   = "_sdc_batched_at"
)

// ErrReservedProperty indicates a user schema declares a property inside
// the reserved metadata namespace while injection is enabled.
var ErrReservedProperty = errors.New(`schema declares a property in the reserved "_sdc_" namespace`)

// ErrClosedSchema indicates a user schema forbids additional properties
// while injection is enabled; injected fields would invalidate every
// record against its own schema.
var ErrClosedSchema = errors.New("schema sets additionalProperties to false while record metadata is enabled")

// Injector augments validated records with processing metadata. When
// disabled it passes records through untouched.
type Injector struct {
	enabled bool
	now     func() time.Time
}

// NewInjector creates an Injector. now supplies the batch timestamp and
// the extraction fallback when a record carries no time_extracted.
func NewInjector(enabled bool, now func() time.Time) *Injector {
	if now == nil {
		now = time.Now
	}

	return &Injector{enabled: enabled, now: now}
}

// Enabled reports whether injection is active.
func (i *Injector) Enabled() bool { return i.enabled }

// Apply returns the record with metadata fields added. The input bytes are
// never modified; a fresh document is serialized.
func (i *Injector) Apply(record json.RawMessage, extracted time.Time) (json.RawMessage, error) {
	if !i.enabled {
		return record, nil
	}

	var payload map[string]any

	// Decode numbers as json.Number so integer values round-trip exactly;
	// a float64 detour would alter anything beyond 53 bits.
	decoder := json.NewDecoder(bytes.NewReader(record))
	decoder.UseNumber()

	decodeErr := decoder.Decode(&payload)
	if decodeErr != nil {
		return nil, fmt.Errorf("inject metadata: %w", decodeErr)
	}

	if extracted.IsZero() {
		extracted = i.now()
	}

	payload[fieldExtractedAt] = extracted.UTC().Format(time.RFC3339Nano)
	payload[fieldBatchedAt] = i.now().UTC().Format(time.RFC3339Nano)

	augmented, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return nil, fmt.Errorf("inject metadata: %w", marshalErr)
	}

	return augmented, nil
}

// CheckSchema rejects schemas that cannot coexist with injection: a
// declared property inside the reserved metadata namespace, or a closed
// schema (additionalProperties false) that the injected fields would
// violate. Both are configuration errors, never a silent overwrite or
// a per-record rejection. No-op when injection is disabled.
func (i *Injector) CheckSchema(schemaDoc json.RawMessage) error {
	if !i.enabled {
		return nil
	}

	var doc struct {
		Properties           map[string]json.RawMessage `json:"properties"`
		AdditionalProperties json.RawMessage            `json:"additionalProperties"`
	}

	unmarshalErr := json.Unmarshal(schemaDoc, &doc)
	if unmarshalErr != nil {
		return fmt.Errorf("inspect schema properties: %w", unmarshalErr)
	}

	for name := range doc.Properties {
		if strings.HasPrefix(name, MetadataPrefix) {
			return fmt.Errorf("%w: %s", ErrReservedProperty, name)
		}
	}

	if string(bytes.TrimSpace(doc.AdditionalProperties)) == "false" {
		return ErrClosedSchema
	}

	return nil
}
