package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/qri-io/jsonschema"
)

const addQuestionSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["student_user_id", "topic_id", "location_id", "help_text", "course_id"],
	"properties": {
		"student_user_id": {"type": "integer", "minimum": 1},
		"topic_id": {"type": "integer", "minimum": 1},
		"location_id": {"type": "integer", "minimum": 1},
		"help_text": {"type": "string"},
		"course_id": {"type": "integer", "minimum": 1}
	}
}`

const updateQuestionSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"location_id": {"type": "integer", "minimum": 1},
		"topic_id": {"type": "integer", "minimum": 1},
		"help_text": {"type": "string"}
	}
}`

type schemas struct {
	add    *jsonschema.Schema
	update *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	add, err := compile("add", addQuestionSchema)
	if err != nil {
		return nil, err
	}
	update, err := compile("update", updateQuestionSchema)
	if err != nil {
		return nil, err
	}
	return &schemas{add: add, update: update}, nil
}

func compile(name, src string) (*jsonschema.Schema, error) {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(src), rs); err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return rs, nil
}

// validateMu guards schema validation. jsonschema registers a schema and
// its subschemas on first use, writing to the schema and a process-wide
// registry.
var validateMu sync.Mutex

// validate checks payload against rs and decodes it into v.
func validate(ctx context.Context, op string, rs *jsonschema.Schema, payload []byte, v any) error {
	if !json.Valid(payload) {
		return &ValidationError{Op: op, Reason: "malformed JSON"}
	}
	validateMu.Lock()
	keyErrs, err := rs.ValidateBytes(ctx, payload)
	validateMu.Unlock()
	if err != nil {
		return &ValidationError{Op: op, Reason: err.Error()}
	}
	if len(keyErrs) > 0 {
		return &ValidationError{Op: op, Errs: keyErrs}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &ValidationError{Op: op, Reason: err.Error()}
	}
	return nil
}
