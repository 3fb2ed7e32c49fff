package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvass/canvass/pkg/schema"
)

func newValidator(t *testing.T) *SurveyValidator {
	t.Helper()
	v, err := NewSurveyValidator()
	require.NoError(t, err)
	return v
}

func intPtr(i int) *int { return &i }

// validDefinition returns a two-page definition that passes every stage.
func validDefinition() *schema.SurveyDefinition {
	return &schema.SurveyDefinition{
		Title: "Car survey",
		Pages: []schema.PageDefinition{
			{
				Questions: []schema.QuestionDefinition{
					{
						VariableName: "Q1",
						Type:         schema.QuestionSingleChoice,
						Prompt:       "Which brand?",
						Options: []schema.OptionDefinition{
							{Value: "BMW", Label: "BMW"},
							{Value: "AUDI", Label: "Audi"},
						},
					},
					{VariableName: "Q2", Type: schema.QuestionText, Prompt: "Why?"},
				},
			},
			{
				Questions: []schema.QuestionDefinition{
					{VariableName: "Q3", Type: schema.QuestionNumber, Prompt: "How many?"},
				},
			},
		},
		Expressions: []schema.ExpressionDefinition{
			{Key: "is_bmw", DSL: "equals(answer('Q1'), 'BMW')"},
		},
		Jumps: []schema.JumpDefinition{
			{FromQuestion: "Q1", ToQuestion: "Q3", Condition: "is_bmw", Priority: 0},
		},
	}
}

func TestValidateDefinition_Valid(t *testing.T) {
	v := newValidator(t)
	result := v.ValidateDefinition(validDefinition())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	assert.NoError(t, result.ToError())
}

func TestValidateDefinition_Nil(t *testing.T) {
	v := newValidator(t)
	result := v.ValidateDefinition(nil)
	assert.False(t, result.Valid())
}

// --- Structural ---

func TestValidateDefinition_StructuralErrors(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name   string
		mutate func(*schema.SurveyDefinition)
	}{
		{"empty title", func(d *schema.SurveyDefinition) { d.Title = "" }},
		{"no pages", func(d *schema.SurveyDefinition) { d.Pages = nil }},
		{"empty page", func(d *schema.SurveyDefinition) { d.Pages[1].Questions = nil }},
		{"bad variable name", func(d *schema.SurveyDefinition) {
			d.Pages[0].Questions[0].VariableName = "1bad name"
		}},
		{"unknown question type", func(d *schema.SurveyDefinition) {
			d.Pages[0].Questions[1].Type = "dropdown"
		}},
		{"unknown order mode", func(d *schema.SurveyDefinition) {
			d.Pages[0].QuestionOrderMode = "SHUFFLED"
		}},
		{"negative weight", func(d *schema.SurveyDefinition) {
			d.Pages[0].Questions[0].Options[0].Weight = -1
		}},
		{"negative priority", func(d *schema.SurveyDefinition) {
			d.Jumps[0].Priority = -1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			result := v.ValidateDefinition(def)
			assert.False(t, result.Valid())
		})
	}
}

// --- Semantic ---

func TestValidateDefinition_DuplicateVariableName(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Pages[1].Questions[0].VariableName = "Q1"

	result := v.ValidateDefinition(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "duplicate variable name")
}

func TestValidateDefinition_ExpressionDoesNotCompile(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Expressions[0].DSL = "equals(answer('Q1'), 'BMW'"

	result := v.ValidateDefinition(def)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeCompile, result.Errors[0].Code)
}

func TestValidateDefinition_ExpressionUnknownVariable(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Expressions[0].DSL = "equals(answer('Q99'), 'BMW')"

	result := v.ValidateDefinition(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "Q99")
}

func TestValidateDefinition_ChoiceWithoutOptions(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Pages[0].Questions[0].Options = nil

	result := v.ValidateDefinition(def)
	assert.False(t, result.Valid())
}

func TestValidateDefinition_MatrixShape(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Pages[1].Questions[0] = schema.QuestionDefinition{
		VariableName: "Q3",
		Type:         schema.QuestionMatrix,
		Items:        []schema.OptionDefinition{{Value: "comfort"}},
	}

	result := v.ValidateDefinition(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "scale")
}

func TestValidateDefinition_JumpEndpointRules(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name string
		jump schema.JumpDefinition
		want string
	}{
		{
			"both from endpoints",
			schema.JumpDefinition{FromQuestion: "Q1", FromPage: intPtr(0), ToQuestion: "Q3"},
			"got both",
		},
		{
			"no from endpoint",
			schema.JumpDefinition{ToQuestion: "Q3"},
			"got neither",
		},
		{
			"no to endpoint",
			schema.JumpDefinition{FromQuestion: "Q1"},
			"got neither",
		},
		{
			"unknown from variable",
			schema.JumpDefinition{FromQuestion: "Q99", ToQuestion: "Q3"},
			"unknown variable",
		},
		{
			"to page out of range",
			schema.JumpDefinition{FromQuestion: "Q1", ToPage: intPtr(7)},
			"out of range",
		},
		{
			"unknown condition",
			schema.JumpDefinition{FromQuestion: "Q1", ToQuestion: "Q3", Condition: "missing"},
			"unknown expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			def.Jumps = []schema.JumpDefinition{tt.jump}
			result := v.ValidateDefinition(def)
			require.False(t, result.Valid())
			found := false
			for _, e := range result.Errors {
				if strings.Contains(e.Message, tt.want) {
					found = true
				}
			}
			assert.True(t, found, "expected an error containing %q, got %v", tt.want, result.Errors)
		})
	}
}

// --- Jump graph ---

func TestValidateDefinition_UnconditionalCycleIsError(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	// Q3 unconditionally jumps back to Q1; the flow Q1 -> Q3 closes the loop.
	def.Jumps = []schema.JumpDefinition{
		{FromQuestion: "Q3", ToQuestion: "Q1", Priority: 0},
	}

	result := v.ValidateDefinition(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "cycle")
}

func TestValidateDefinition_ConditionalCycleIsWarning(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Jumps = []schema.JumpDefinition{
		{FromQuestion: "Q3", ToQuestion: "Q1", Condition: "is_bmw", Priority: 0},
	}

	result := v.ValidateDefinition(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "cycle")
}

func TestValidateDefinition_ForwardJumpsNoCycle(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Jumps = []schema.JumpDefinition{
		{FromQuestion: "Q1", ToPage: intPtr(1), Priority: 0},
		{FromPage: intPtr(0), ToQuestion: "Q3", Priority: 1},
	}

	result := v.ValidateDefinition(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}
