package federation

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchemaJSON describes the CADP wire envelope shape. Grounded on
// the teacher's jsonschema/v6 usage in internal/engine/structured.go and
// mirrored in internal/gateway/schema.go: a malformed peer payload must
// produce a CADP error message instead of a decode panic (spec.md §4.6
// supplement).
const envelopeSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "id", "source", "timestamp"],
	"properties": {
		"type": {
			"type": "string",
			"enum": ["health-check", "health-response", "sync-request", "sync-response", "lookup", "lookup-response", "search", "search-response", "announce", "error"]
		},
		"id": {"type": "string", "minLength": 1},
		"source": {"type": "string", "minLength": 1},
		"destination": {"type": "string"},
		"payload": {},
		"timestamp": {"type": "string"}
	}
}`

func compileEnvelopeSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("federation: unmarshal envelope schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("cadp-envelope.json", doc); err != nil {
		return nil, fmt.Errorf("federation: add envelope schema resource: %w", err)
	}
	schema, err := c.Compile("cadp-envelope.json")
	if err != nil {
		return nil, fmt.Errorf("federation: compile envelope schema: %w", err)
	}
	return schema, nil
}
