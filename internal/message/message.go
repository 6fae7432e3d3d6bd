// Package message defines the Singer wire model: the tagged union of
// SCHEMA, RECORD, and STATE messages and the line-level parser.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the message discriminator carried in the "type" field.
type Type string

// Message discriminator values.
const (
	TypeSchema Type = "SCHEMA"
	TypeRecord Type = "RECORD"
	TypeState  Type = "STATE"
)

// Sentinel errors for protocol framing violations. All of them are fatal:
// a producer that emits malformed framing cannot be locally recovered.
var (
	// ErrEmptyLine indicates a blank input line.
	ErrEmptyLine = errors.New("empty line")
	// ErrMissingType indicates the line has no "type" key.
	ErrMissingType = errors.New(`message is missing required key "type"`)
	// ErrUnknownType indicates a "type" value outside SCHEMA/RECORD/STATE.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingStream indicates a SCHEMA or RECORD without a stream name.
	ErrMissingStream = errors.New(`message is missing required key "stream"`)
	// ErrMissingSchema indicates a SCHEMA message without a schema body.
	ErrMissingSchema = errors.New(`SCHEMA message is missing required key "schema"`)
	// ErrMissingKeyProperties indicates a SCHEMA message without key_properties.
	ErrMissingKeyProperties = errors.New(`SCHEMA message is missing required key "key_properties"`)
	// ErrMissingRecord indicates a RECORD message without a record body.
	ErrMissingRecord = errors.New(`RECORD message is missing required key "record"`)
	// ErrMissingValue indicates a STATE message without a value payload.
	ErrMissingValue = errors.New(`STATE message is missing required key "value"`)
)

// Message is one parsed protocol message. Exactly the fields relevant to
// its Type are populated; the rest are zero. Immutable once parsed.
type Message struct {
	Type   Type
	Stream string

	// Schema and KeyProperties are set for SCHEMA messages.
	Schema        json.RawMessage
	KeyProperties []string

	// Record and TimeExtracted are set for RECORD messages.
	// TimeExtracted is zero when the producer did not supply one.
	Record        json.RawMessage
	TimeExtracted time.Time

	// Value is set for STATE messages. Opaque checkpoint payload.
	Value json.RawMessage
}

// envelope mirrors the raw Singer line. Field names follow the protocol.
type envelope struct {
	Type          *Type            `json:"type"`
	Stream        string           `json:"stream"`
	Schema        json.RawMessage  `json:"schema"`
	KeyProperties *json.RawMessage `json:"key_properties"`
	Record        json.RawMessage  `json:"record"`
	TimeExtracted string           `json:"time_extracted"`
	Value         json.RawMessage  `json:"value"`
}

// Parse decodes one input line into a Message. Any error it returns is a
// framing violation and must abort processing.
func Parse(line []byte) (*Message, error) {
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}

	var env envelope

	unmarshalErr := json.Unmarshal(line, &env)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("parse message: %w", unmarshalErr)
	}

	if env.Type == nil {
		return nil, ErrMissingType
	}

	switch *env.Type {
	case TypeSchema:
		return parseSchema(&env)
	case TypeRecord:
		return parseRecord(&env)
	case TypeState:
		return parseState(&env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(*env.Type))
	}
}

func parseSchema(env *envelope) (*Message, error) {
	if env.Stream == "" {
		return nil, ErrMissingStream
	}

	if len(env.Schema) == 0 || isJSONNull(env.Schema) {
		return nil, ErrMissingSchema
	}

	if env.KeyProperties == nil {
		return nil, ErrMissingKeyProperties
	}

	var keys []string

	keysErr := json.Unmarshal(*env.KeyProperties, &keys)
	if keysErr != nil {
		return nil, fmt.Errorf("parse key_properties: %w", keysErr)
	}

	return &Message{
		Type:          TypeSchema,
		Stream:        env.Stream,
		Schema:        env.Schema,
		KeyProperties: keys,
	}, nil
}

func parseRecord(env *envelope) (*Message, error) {
	if env.Stream == "" {
		return nil, ErrMissingStream
	}

	if len(env.Record) == 0 || isJSONNull(env.Record) {
		return nil, ErrMissingRecord
	}

	msg := &Message{
		Type:   TypeRecord,
		Stream: env.Stream,
		Record: env.Record,
	}

	if env.TimeExtracted != "" {
		extracted, timeErr := time.Parse(time.RFC3339Nano, env.TimeExtracted)
		if timeErr != nil {
			return nil, fmt.Errorf("parse time_extracted: %w", timeErr)
		}

		msg.TimeExtracted = extracted
	}

	return msg, nil
}

func parseState(env *envelope) (*Message, error) {
	if len(env.Value) == 0 {
		return nil, ErrMissingValue
	}

	return &Message{
		Type:  TypeState,
		Value: env.Value,
	}, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 4 && string(raw) == "null"
}
