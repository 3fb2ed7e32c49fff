package validation

import (
	"fmt"

	"github.com/canvass/canvass/internal/dsl"
	"github.com/canvass/canvass/pkg/schema"
)

// validateSemantic performs cross-reference analysis on the definition.
// Checks: unique variable names, question shape per type, unique expression
// keys, DSL compilation, answer references resolve, and jump endpoint rules.
func validateSemantic(def *schema.SurveyDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	variables := collectVariables(def, result)
	expressions := validateExpressions(def, variables, result)

	for pi, page := range def.Pages {
		for qi := range page.Questions {
			path := fmt.Sprintf("pages[%d].questions[%d]", pi, qi)
			validateQuestionShape(&page.Questions[qi], path, result)
		}
	}

	for ji := range def.Jumps {
		path := fmt.Sprintf("jumps[%d]", ji)
		validateJump(&def.Jumps[ji], path, len(def.Pages), variables, expressions, result)
	}

	return result
}

// collectVariables builds the set of declared variable names, flagging
// duplicates.
func collectVariables(def *schema.SurveyDefinition, result *schema.ValidationResult) map[string]bool {
	variables := make(map[string]bool)
	for pi, page := range def.Pages {
		for qi, q := range page.Questions {
			if variables[q.VariableName] {
				result.AddError(fmt.Sprintf("pages[%d].questions[%d].variable_name", pi, qi),
					schema.ErrCodeValidation,
					fmt.Sprintf("duplicate variable name %q", q.VariableName))
				continue
			}
			variables[q.VariableName] = true
		}
	}
	return variables
}

// validateExpressions compiles every authored expression and checks that
// each answer reference names a declared variable. Returns the key set.
func validateExpressions(def *schema.SurveyDefinition, variables map[string]bool, result *schema.ValidationResult) map[string]bool {
	keys := make(map[string]bool, len(def.Expressions))
	for ei, e := range def.Expressions {
		path := fmt.Sprintf("expressions[%d]", ei)
		if keys[e.Key] {
			result.AddError(path+".key", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate expression key %q", e.Key))
			continue
		}
		keys[e.Key] = true

		compiled, err := dsl.Parse(e.DSL)
		if err != nil {
			result.AddError(path+".dsl", schema.ErrCodeCompile, err.Error())
			continue
		}
		for _, cmp := range compiled.Comparisons {
			if !variables[cmp.Variable] {
				result.AddError(path+".dsl", schema.ErrCodeValidation,
					fmt.Sprintf("references unknown variable %q", cmp.Variable))
			}
		}
	}
	return keys
}

// validateQuestionShape checks that a question carries the parts its type
// requires.
func validateQuestionShape(q *schema.QuestionDefinition, path string, result *schema.ValidationResult) {
	switch q.Type {
	case schema.QuestionSingleChoice, schema.QuestionMultiChoice:
		if len(q.Options) == 0 {
			result.AddError(path+".options", schema.ErrCodeValidation,
				fmt.Sprintf("%s question requires at least one option", q.Type))
		}
	case schema.QuestionMatrix:
		if len(q.Items) == 0 {
			result.AddError(path+".items", schema.ErrCodeValidation,
				"matrix question requires at least one item")
		}
		if len(q.Scales) == 0 {
			result.AddError(path+".scales", schema.ErrCodeValidation,
				"matrix question requires at least one scale")
		}
	default:
		if len(q.Options) > 0 {
			result.AddWarning(path+".options", schema.ErrCodeValidation,
				fmt.Sprintf("options are ignored for %s questions", q.Type))
		}
	}

	// Duplicate option values break answer matching.
	checkDuplicateValues(q.Options, path+".options", result)
	checkDuplicateValues(q.Items, path+".items", result)
	checkDuplicateValues(q.Scales, path+".scales", result)
}

func checkDuplicateValues(opts []schema.OptionDefinition, path string, result *schema.ValidationResult) {
	seen := make(map[string]bool, len(opts))
	for i, o := range opts {
		if seen[o.Value] {
			result.AddError(fmt.Sprintf("%s[%d].value", path, i),
				schema.ErrCodeValidation,
				fmt.Sprintf("duplicate value %q", o.Value))
		}
		seen[o.Value] = true
	}
}

// validateJump checks endpoint exclusivity and that every reference resolves.
func validateJump(j *schema.JumpDefinition, path string, pageCount int, variables, expressions map[string]bool, result *schema.ValidationResult) {
	fromQ := j.FromQuestion != ""
	fromP := j.FromPage != nil
	switch {
	case fromQ && fromP:
		result.AddError(path, schema.ErrCodeValidation,
			"jump must set exactly one of from_question / from_page, got both")
	case !fromQ && !fromP:
		result.AddError(path, schema.ErrCodeValidation,
			"jump must set exactly one of from_question / from_page, got neither")
	case fromQ && !variables[j.FromQuestion]:
		result.AddError(path+".from_question", schema.ErrCodeValidation,
			fmt.Sprintf("references unknown variable %q", j.FromQuestion))
	case fromP && (*j.FromPage < 0 || *j.FromPage >= pageCount):
		result.AddError(path+".from_page", schema.ErrCodeValidation,
			fmt.Sprintf("page index %d out of range", *j.FromPage))
	}

	toQ := j.ToQuestion != ""
	toP := j.ToPage != nil
	switch {
	case toQ && toP:
		result.AddError(path, schema.ErrCodeValidation,
			"jump must set exactly one of to_question / to_page, got both")
	case !toQ && !toP:
		result.AddError(path, schema.ErrCodeValidation,
			"jump must set exactly one of to_question / to_page, got neither")
	case toQ && !variables[j.ToQuestion]:
		result.AddError(path+".to_question", schema.ErrCodeValidation,
			fmt.Sprintf("references unknown variable %q", j.ToQuestion))
	case toP && (*j.ToPage < 0 || *j.ToPage >= pageCount):
		result.AddError(path+".to_page", schema.ErrCodeValidation,
			fmt.Sprintf("page index %d out of range", *j.ToPage))
	}

	if j.Condition != "" && !expressions[j.Condition] {
		result.AddError(path+".condition", schema.ErrCodeValidation,
			fmt.Sprintf("references unknown expression %q", j.Condition))
	}
}
