package jsonpatch

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchemaDoc constrains an Envelope's JSON wire shape (the
// "Patch envelope egress") before its operations are ever walked by Apply.
// It only checks the envelope's shape, never the app-graph document the
// operations target, since that document's structure is caller-defined.
const envelopeSchemaDoc = `{
	"type": "object",
	"required": ["graphId", "baseVersion", "operations"],
	"properties": {
		"graphId": {"type": "string", "minLength": 1},
		"baseVersion": {"type": "integer"},
		"targetVersion": {"type": "integer"},
		"skipVersionCheck": {"type": "boolean"},
		"operations": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["op", "path"],
				"properties": {
					"op": {"enum": ["add", "remove", "replace", "move", "copy", "test"]},
					"path": {"type": "string"},
					"from": {"type": "string"}
				}
			}
		}
	}
}`

var envelopeSchema = mustCompileEnvelopeSchema()

func mustCompileEnvelopeSchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(envelopeSchemaDoc), &doc); err != nil {
		panic(fmt.Errorf("jsonpatch: invalid embedded envelope schema: %w", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("envelope.json", doc); err != nil {
		panic(fmt.Errorf("jsonpatch: add envelope schema resource: %w", err))
	}
	s, err := c.Compile("envelope.json")
	if err != nil {
		panic(fmt.Errorf("jsonpatch: compile envelope schema: %w", err))
	}
	return s
}

// ValidateEnvelopeSchema checks raw (a decoded JSON document, e.g. the
// output of json.Unmarshal into map[string]any) against the envelope wire
// schema. Callers typically run this on ingress, before decoding raw into
// an Envelope struct and calling ApplyEnvelope.
func ValidateEnvelopeSchema(raw any) error {
	if err := envelopeSchema.Validate(raw); err != nil {
		return fmt.Errorf("jsonpatch: envelope schema validation: %w", err)
	}
	return nil
}
