// Package piping substitutes ${{...}} references in prompt text with data
// from the respondent's session, so later questions can echo earlier
// answers ("You said you drive a BMW...").
package piping

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/canvass/canvass/pkg/schema"
)

// exprPrefix marks a reference as an inline expr-lang expression instead
// of a plain path.
const exprPrefix = "expr:"

// Scope holds the data available to a template: the session's answers
// keyed by variable name, and the session itself.
type Scope struct {
	Answers schema.AnswerSet
	Session *schema.Session
}

// Interpolator resolves ${{...}} references in prompt text.
// Thread-safe: compiled expr programs are cached and reused.
type Interpolator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewInterpolator creates an Interpolator with an empty program cache.
func NewInterpolator() *Interpolator {
	return &Interpolator{cache: make(map[string]*vm.Program)}
}

// Resolve substitutes every ${{...}} reference in template. References to
// unanswered questions resolve to the empty string so a prompt never shows
// a raw token to the respondent. Malformed templates return an
// INTERPOLATION_ERROR.
func (interp *Interpolator) Resolve(template string, scope *Scope) (string, error) {
	if !strings.Contains(template, "${{") {
		return template, nil
	}
	if scope == nil {
		scope = &Scope{}
	}

	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "${{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 3 // skip "${{"

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ reference")
		}
		end += start

		ref := strings.TrimSpace(template[start:end])
		if strings.Contains(ref, "${{") {
			return "", schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeInterpolation, "empty reference: ${{ }}")
		}

		val, err := interp.resolveRef(ref, scope)
		if err != nil {
			return "", err
		}
		result.WriteString(val)

		i = end + 2 // skip "}}"
	}

	return result.String(), nil
}

// CheckTemplate reports authoring errors (unclosed, nested or empty
// references, uncompilable expr references) without needing a scope.
func (interp *Interpolator) CheckTemplate(template string) error {
	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "${{")
		if idx == -1 {
			return nil
		}
		start := i + idx + 3

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ reference")
		}
		end += start

		ref := strings.TrimSpace(template[start:end])
		if strings.Contains(ref, "${{") {
			return schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if ref == "" {
			return schema.NewError(schema.ErrCodeInterpolation, "empty reference: ${{ }}")
		}
		if rest, ok := strings.CutPrefix(ref, exprPrefix); ok {
			if _, err := interp.getOrCompile(strings.TrimSpace(rest)); err != nil {
				return err
			}
		} else if !validRef(ref) {
			return schema.NewErrorf(schema.ErrCodeInterpolation,
				"unknown reference %q; expected answer.<variable>, session.<field> or expr:<expression>", ref)
		}

		i = end + 2
	}
	return nil
}

// resolveRef resolves a single reference against the scope.
func (interp *Interpolator) resolveRef(ref string, scope *Scope) (string, error) {
	if rest, ok := strings.CutPrefix(ref, exprPrefix); ok {
		return interp.evalExpr(strings.TrimSpace(rest), scope)
	}

	ns, field, ok := strings.Cut(ref, ".")
	if !ok || field == "" {
		return "", schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid reference %q; expected answer.<variable>, session.<field> or expr:<expression>", ref)
	}

	switch ns {
	case "answer":
		val, answered := scope.Answers[field]
		if !answered {
			return "", nil
		}
		return renderAnswer(val), nil
	case "session":
		return resolveSessionField(field, scope.Session)
	default:
		return "", schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: answer, session, expr", ns, ref)
	}
}

func validRef(ref string) bool {
	ns, field, ok := strings.Cut(ref, ".")
	if !ok || field == "" {
		return false
	}
	return ns == "answer" || ns == "session"
}

// resolveSessionField exposes a small fixed set of session fields.
func resolveSessionField(field string, session *schema.Session) (string, error) {
	if session == nil {
		return "", nil
	}
	switch field {
	case "id":
		return session.ID, nil
	case "survey_id":
		return session.SurveyID, nil
	case "status":
		return string(session.Status), nil
	case "started_at":
		return session.CreatedAt.Format(time.RFC3339), nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown session field %q; available: id, survey_id, status, started_at", field)
	}
}

// evalExpr compiles and runs an inline expr-lang expression. The answer
// set is exposed as `answers` and the session as `session`.
func (interp *Interpolator) evalExpr(expression string, scope *Scope) (string, error) {
	if expression == "" {
		return "", schema.NewError(schema.ErrCodeInterpolation, "empty expr reference")
	}

	prg, err := interp.getOrCompile(expression)
	if err != nil {
		return "", err
	}

	out, err := vm.Run(prg, exprEnv(scope))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeInterpolation,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return renderValue(out), nil
}

// getOrCompile returns a cached compiled program or compiles and caches a
// new one.
func (interp *Interpolator) getOrCompile(expression string) (*vm.Program, error) {
	interp.mu.RLock()
	if prg, ok := interp.cache[expression]; ok {
		interp.mu.RUnlock()
		return prg, nil
	}
	interp.mu.RUnlock()

	interp.mu.Lock()
	defer interp.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := interp.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	interp.cache[expression] = prg
	return prg, nil
}

// exprEnv builds the expr environment from the scope. Answers are exposed
// by variable name with native types so expressions can do arithmetic and
// collection operations on them.
func exprEnv(scope *Scope) map[string]any {
	answers := make(map[string]any, len(scope.Answers))
	for name, v := range scope.Answers {
		answers[name] = nativeValue(v)
	}

	session := map[string]any{}
	if scope.Session != nil {
		session["id"] = scope.Session.ID
		session["survey_id"] = scope.Session.SurveyID
		session["status"] = string(scope.Session.Status)
	}

	return map[string]any{
		"answers": answers,
		"session": session,
	}
}

// nativeValue unwraps an AnswerValue into the natural Go type for expr.
func nativeValue(v schema.AnswerValue) any {
	switch v.Kind {
	case schema.AnswerChoices:
		return v.Choices
	case schema.AnswerText:
		return v.Text
	case schema.AnswerNumber:
		return v.Number
	case schema.AnswerBool:
		return v.Bool
	case schema.AnswerDate:
		return v.Date
	default:
		return string(v.JSON)
	}
}

// renderAnswer formats an answer for display inside prompt text. Choice
// sets are joined with commas.
func renderAnswer(v schema.AnswerValue) string {
	if v.Kind == schema.AnswerChoices {
		return strings.Join(v.Choices, ", ")
	}
	if s, ok := v.Scalar(); ok {
		return s
	}
	return string(v.JSON)
}

// renderValue formats an expr result for display.
func renderValue(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = renderValue(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
