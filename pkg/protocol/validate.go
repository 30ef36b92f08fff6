package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema checks the shared envelope only. Variant payloads are left
// to the consumer of each variant.
var envelopeSchema = mustCompileEnvelopeSchema()

func envelopeSchemaDocument() map[string]any {
	tags := make([]any, 0, len(AllTypes()))
	for _, t := range AllTypes() {
		tags = append(tags, string(t))
	}

	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []any{"schemaVersion", "type", "runId", "sessionId", "timestamp"},
		"properties": map[string]any{
			"schemaVersion": map[string]any{"enum": []any{SchemaVersion}},
			"type":          map[string]any{"type": "string", "enum": tags},
			"runId":         map[string]any{"type": "string", "minLength": 1},
			"sessionId":     map[string]any{"type": "string", "minLength": 1},
			"timestamp":     map[string]any{"type": "number"},
		},
	}
}

func mustCompileEnvelopeSchema() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(envelopeSchemaDocument()))
	if err != nil {
		panic(fmt.Sprintf("protocol: compile envelope schema: %v", err))
	}
	return schema
}

// IsValidMessage reports whether v has a valid envelope. v may be a Message,
// encoded JSON ([]byte or json.RawMessage), or a decoded JSON value.
func IsValidMessage(v any) bool {
	return Validate(v) == nil
}

// Validate is IsValidMessage with a reason. Errors wrap ErrInvalidMessage.
func Validate(v any) error {
	loader, err := documentLoader(v)
	if err != nil {
		return err
	}

	result, err := envelopeSchema.Validate(loader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			reasons = append(reasons, re.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(reasons, "; "))
	}
	return nil
}

func documentLoader(v any) (gojsonschema.JSONLoader, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil value", ErrInvalidMessage)
	case Message:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("%w: encode: %v", ErrInvalidMessage, err)
		}
		return gojsonschema.NewBytesLoader(data), nil
	case json.RawMessage:
		return bytesLoader(val)
	case []byte:
		return bytesLoader(val)
	}
	return gojsonschema.NewGoLoader(v), nil
}

func bytesLoader(data []byte) (gojsonschema.JSONLoader, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidMessage)
	}
	return gojsonschema.NewBytesLoader(data), nil
}
