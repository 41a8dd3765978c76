package docai

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	schemaExtraction     = "invoice_extraction"
	schemaClassification = "invoice_classification"
)

const extractionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["vendor_name", "invoice_number", "invoice_date", "due_date", "amount", "currency", "text"],
  "properties": {
    "vendor_name": {"type": ["string", "null"]},
    "invoice_number": {"type": ["string", "null"]},
    "invoice_date": {"type": ["string", "null"]},
    "due_date": {"type": ["string", "null"]},
    "amount": {"type": ["number", "null"]},
    "currency": {"type": ["string", "null"]},
    "text": {"type": ["string", "null"]}
  }
}`

const classificationSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["category", "subcategory", "gl_account", "branch", "division", "payment_method", "description", "confidence"],
  "properties": {
    "category": {"type": ["string", "null"]},
    "subcategory": {"type": ["string", "null"]},
    "gl_account": {"type": ["string", "null"]},
    "branch": {"type": ["string", "null"]},
    "division": {"type": ["string", "null"]},
    "payment_method": {"type": ["string", "null"]},
    "description": {"type": ["string", "null"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var schemaSources = map[string]string{
	schemaExtraction:     extractionSchema,
	schemaClassification: classificationSchema,
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[string]*jsonschema.Schema, len(schemaSources))

	for name, source := range schemaSources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema %s: %w", name, err)
		}
		url := name + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		compiled[name] = schema
	}

	return compiled, nil
}
