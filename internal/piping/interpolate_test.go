package piping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvass/canvass/pkg/schema"
)

func testScope() *Scope {
	return &Scope{
		Answers: schema.AnswerSet{
			"Q1": schema.ChoicesValue("BMW"),
			"Q2": schema.ChoicesValue("LEATHER", "SUNROOF"),
			"Q3": schema.NumberValue(3),
			"Q4": schema.TextValue("daily commute"),
		},
		Session: &schema.Session{
			ID:       "sess-1",
			SurveyID: "sv-1",
			Status:   schema.SessionActive,
		},
	}
}

func TestResolve_PlainText(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve("no references here", testScope())
	require.NoError(t, err)
	assert.Equal(t, "no references here", out)
}

func TestResolve_AnswerReference(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve("You said you drive a ${{answer.Q1}}.", testScope())
	require.NoError(t, err)
	assert.Equal(t, "You said you drive a BMW.", out)
}

func TestResolve_MultiChoiceJoined(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve("Features: ${{answer.Q2}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "Features: LEATHER, SUNROOF", out)
}

func TestResolve_NumberAndText(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve("${{answer.Q3}} cars for your ${{answer.Q4}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "3 cars for your daily commute", out)
}

func TestResolve_UnansweredIsEmpty(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve("You said [${{answer.Q99}}]", testScope())
	require.NoError(t, err)
	assert.Equal(t, "You said []", out)
}

func TestResolve_SessionFields(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve("session ${{session.id}} is ${{session.status}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "session sess-1 is active", out)
}

func TestResolve_ExprReference(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve("Double: ${{expr: answers.Q3 * 2}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "Double: 6", out)
}

func TestResolve_ExprOverChoices(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve("Count: ${{expr: len(answers.Q2)}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "Count: 2", out)
}

func TestResolve_Errors(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope()

	tests := []struct {
		name     string
		template string
	}{
		{"unclosed", "hello ${{answer.Q1"},
		{"nested", "hello ${{ answer.${{answer.Q1}} }}"},
		{"empty", "hello ${{  }}"},
		{"unknown namespace", "hello ${{steps.Q1}}"},
		{"unknown session field", "hello ${{session.secret}}"},
		{"bare namespace", "hello ${{answer}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := interp.Resolve(tt.template, scope)
			require.Error(t, err)
			var ce *schema.CanvassError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, schema.ErrCodeInterpolation, ce.Code)
		})
	}
}

func TestResolve_NilScope(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve("hi ${{answer.Q1}} ${{session.id}}", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi  ", out)
}

func TestCheckTemplate(t *testing.T) {
	interp := NewInterpolator()

	assert.NoError(t, interp.CheckTemplate("plain"))
	assert.NoError(t, interp.CheckTemplate("hi ${{answer.Q1}}"))
	assert.NoError(t, interp.CheckTemplate("hi ${{expr: answers.Q3 + 1}}"))

	assert.Error(t, interp.CheckTemplate("hi ${{answer.Q1"))
	assert.Error(t, interp.CheckTemplate("hi ${{ }}"))
	assert.Error(t, interp.CheckTemplate("hi ${{bogus.Q1}}"))
	assert.Error(t, interp.CheckTemplate("hi ${{expr: 1 +}}"))
}

func TestResolve_CachesCompiledPrograms(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope()

	_, err := interp.Resolve("${{expr: answers.Q3 + 1}}", scope)
	require.NoError(t, err)
	_, err = interp.Resolve("${{expr: answers.Q3 + 1}}", scope)
	require.NoError(t, err)

	interp.mu.RLock()
	defer interp.mu.RUnlock()
	assert.Len(t, interp.cache, 1)
}
