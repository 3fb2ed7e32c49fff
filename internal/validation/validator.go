// Package validation checks survey definitions before import: structural
// shape via JSON Schema, semantic cross-references, and jump graph analysis.
package validation

import (
	"github.com/canvass/canvass/pkg/schema"
)

// Validator checks survey definitions for correctness before import.
type Validator interface {
	ValidateDefinition(def *schema.SurveyDefinition) *schema.ValidationResult
}

// SurveyValidator runs the full validation pipeline. Structural errors
// short-circuit the pipeline; semantic and graph analysis assume a
// well-shaped document.
type SurveyValidator struct {
	structural *JSONSchemaValidator
}

// NewSurveyValidator creates a SurveyValidator with the definition schema
// pre-compiled.
func NewSurveyValidator() (*SurveyValidator, error) {
	structural, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &SurveyValidator{structural: structural}, nil
}

// ValidateDefinition runs all validation stages and aggregates their issues.
func (v *SurveyValidator) ValidateDefinition(def *schema.SurveyDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if def == nil {
		result.AddError("", schema.ErrCodeValidation, "survey definition is nil")
		return result
	}

	result.Merge(v.structural.validateStructure(def))
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def))
	if !result.Valid() {
		return result
	}

	result.Merge(validateJumpGraph(def))
	return result
}

var _ Validator = (*SurveyValidator)(nil)
