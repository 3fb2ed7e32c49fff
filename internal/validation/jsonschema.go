package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/canvass/canvass/pkg/schema"
)

// definitionSchemaJSON is the JSON Schema for SurveyDefinition documents.
// Embedded as a constant to avoid filesystem dependencies.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://canvass.dev/schemas/survey.json",
  "type": "object",
  "required": ["title", "pages"],
  "properties": {
    "title": {
      "type": "string",
      "minLength": 1
    },
    "pages": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/page" }
    },
    "expressions": {
      "type": "array",
      "items": { "$ref": "#/$defs/expression" }
    },
    "jumps": {
      "type": "array",
      "items": { "$ref": "#/$defs/jump" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "order_mode": {
      "type": "string",
      "enum": ["SEQUENTIAL", "RANDOM", "GROUP_RANDOM", "WEIGHTED"]
    },
    "page": {
      "type": "object",
      "required": ["questions"],
      "properties": {
        "question_order_mode": { "$ref": "#/$defs/order_mode" },
        "group_order_mode": { "$ref": "#/$defs/order_mode" },
        "questions": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/question" }
        }
      },
      "additionalProperties": false
    },
    "question": {
      "type": "object",
      "required": ["variable_name", "type"],
      "properties": {
        "variable_name": {
          "type": "string",
          "pattern": "^[A-Za-z][A-Za-z0-9_]*$"
        },
        "type": {
          "type": "string",
          "enum": ["single_choice", "multi_choice", "text", "number", "boolean", "date", "matrix"]
        },
        "prompt": { "type": "string" },
        "options": {
          "type": "array",
          "items": { "$ref": "#/$defs/option" }
        },
        "items": {
          "type": "array",
          "items": { "$ref": "#/$defs/option" }
        },
        "scales": {
          "type": "array",
          "items": { "$ref": "#/$defs/option" }
        }
      },
      "additionalProperties": false
    },
    "option": {
      "type": "object",
      "required": ["value"],
      "properties": {
        "value": {
          "type": "string",
          "minLength": 1
        },
        "label": { "type": "string" },
        "weight": {
          "type": "number",
          "minimum": 0
        },
        "group_key": { "type": "string" }
      },
      "additionalProperties": false
    },
    "expression": {
      "type": "object",
      "required": ["key", "dsl"],
      "properties": {
        "key": {
          "type": "string",
          "minLength": 1
        },
        "dsl": { "type": "string" },
        "description": { "type": "string" }
      },
      "additionalProperties": false
    },
    "jump": {
      "type": "object",
      "properties": {
        "from_question": { "type": "string" },
        "from_page": {
          "type": "integer",
          "minimum": 0
        },
        "to_question": { "type": "string" },
        "to_page": {
          "type": "integer",
          "minimum": 0
        },
        "condition": { "type": "string" },
        "priority": {
          "type": "integer",
          "minimum": 0
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks a SurveyDefinition against the embedded
// JSON Schema (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	definitionSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the embedded definition schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal definition schema: %w", err)
	}
	if err := c.AddResource("https://canvass.dev/schemas/survey.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add definition schema resource: %w", err)
	}

	compiled, err := c.Compile("https://canvass.dev/schemas/survey.json")
	if err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}

	return &JSONSchemaValidator{definitionSchema: compiled}, nil
}

// validateStructure validates the definition shape against the schema and
// converts schema violations into validation issues.
func (v *JSONSchemaValidator) validateStructure(def *schema.SurveyDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	doc, err := toJSONValue(def)
	if err != nil {
		result.AddError("", schema.ErrCodeValidation, "failed to serialize survey definition: "+err.Error())
		return result
	}

	if err := v.definitionSchema.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			result.AddError("", schema.ErrCodeValidation, err.Error())
			return result
		}
		for _, violation := range collectViolations(verr) {
			result.AddError(violation.path, schema.ErrCodeValidation, violation.message)
		}
	}

	return result
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var violations []violation
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
