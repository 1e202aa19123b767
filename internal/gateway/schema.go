package gateway

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// createTaskSchemaJSON describes the POST /a2a/tasks body shape: a
// "message" with at least one "part" (spec.md §4.5 "POST /a2a/tasks").
// Supplementing spec.md's bare "400 on malformed input" with structured
// validation, grounded on the teacher's own jsonschema/v6 usage in
// internal/engine/structured.go.
const createTaskSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["message"],
	"properties": {
		"message": {
			"type": "object",
			"required": ["role", "parts"],
			"properties": {
				"role": {"type": "string"},
				"parts": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["type"],
						"properties": {
							"type": {"type": "string"}
						}
					}
				}
			}
		},
		"metadata": {"type": "object"}
	}
}`

func compileCreateTaskSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(createTaskSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("gateway: unmarshal create-task schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("create-task.json", doc); err != nil {
		return nil, fmt.Errorf("gateway: add create-task schema resource: %w", err)
	}
	schema, err := c.Compile("create-task.json")
	if err != nil {
		return nil, fmt.Errorf("gateway: compile create-task schema: %w", err)
	}
	return schema, nil
}

// validationErrors flattens a jsonschema validation error into a short
// human-readable list for the 400 response body. jsonschema/v6 errors
// already render a multi-line causal chain from Error(); split on newline
// rather than reaching into library-internal struct fields.
func validationErrors(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		out = []string{err.Error()}
	}
	return out
}
