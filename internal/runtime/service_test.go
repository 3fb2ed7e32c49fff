package runtime

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvass/canvass/internal/dsl"
	"github.com/canvass/canvass/internal/ordering"
	"github.com/canvass/canvass/internal/piping"
	"github.com/canvass/canvass/internal/store"
	"github.com/canvass/canvass/pkg/schema"
)

// newTestService builds a Service over a real store seeded with a
// two-page car survey:
//
//	p1: Q1 (single choice BMW/AUDI), Q2 (text), Q3 (number)
//	p2: Q4 (text), Q5 (text)
//
// Jumps from Q3: to Q5 when Q1 = BMW (priority 0), else to Q4
// (priority 1, unconditional).
func newTestService(t *testing.T) (*Service, *store.LibSQLStore) {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateSurvey(ctx, &schema.Survey{ID: "sv", Title: "cars"}))
	require.NoError(t, st.CreatePage(ctx, &schema.Page{ID: "p1", SurveyID: "sv", Index: 0}))
	require.NoError(t, st.CreatePage(ctx, &schema.Page{ID: "p2", SurveyID: "sv", Index: 1}))

	questions := []schema.Question{
		{ID: "q1", PageID: "p1", Index: 0, Type: schema.QuestionSingleChoice, VariableName: "Q1",
			Prompt: "Which brand?",
			Options: []schema.Option{
				{ID: "o1", Value: "BMW", Label: "BMW"},
				{ID: "o2", Value: "AUDI", Label: "Audi"},
			}},
		{ID: "q2", PageID: "p1", Index: 1, Type: schema.QuestionText, VariableName: "Q2",
			Prompt: "Why a ${{answer.Q1}}?"},
		{ID: "q3", PageID: "p1", Index: 2, Type: schema.QuestionNumber, VariableName: "Q3",
			Prompt: "How many cars?"},
		{ID: "q4", PageID: "p2", Index: 0, Type: schema.QuestionText, VariableName: "Q4"},
		{ID: "q5", PageID: "p2", Index: 1, Type: schema.QuestionText, VariableName: "Q5"},
	}
	for i := range questions {
		questions[i].SurveyID = "sv"
		require.NoError(t, st.CreateQuestion(ctx, &questions[i]))
	}

	require.NoError(t, st.CreateExpression(ctx, &schema.Expression{
		ID: "e1", SurveyID: "sv", DSL: "equals(answer('Q1'), 'BMW')",
	}))
	require.NoError(t, st.CreateJump(ctx, &schema.Jump{
		ID: "j1", SurveyID: "sv", FromQuestionID: "q3", ToQuestionID: "q5",
		ConditionExpressionID: "e1", Priority: 0,
	}))
	require.NoError(t, st.CreateJump(ctx, &schema.Jump{
		ID: "j2", SurveyID: "sv", FromQuestionID: "q3", ToQuestionID: "q4", Priority: 1,
	}))

	eval := dsl.NewEvaluator(nil)
	orders := ordering.NewEngine(st, nil, nil)
	svc := NewService(st, eval, orders, piping.NewInterpolator(), nil)
	return svc, st
}

func startSession(t *testing.T, svc *Service) *schema.Session {
	t.Helper()
	sess, err := svc.StartSession(context.Background(), "sv")
	require.NoError(t, err)
	return sess
}

func TestStartSession_LandsOnFirstQuestion(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess := startSession(t, svc)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.SessionActive, got.Status)
	assert.Equal(t, "q1", got.CurrentQuestionID)
	assert.Equal(t, "p1", got.CurrentPageID)

	events, err := st.ListSessionEvents(ctx, sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, schema.EventSessionStarted, events[0].Type)
}

func TestStartSession_UnknownSurvey(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.StartSession(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, schema.IsNotFound(err))
}

func TestRecordAnswer_TypeChecking(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	assert.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q1", schema.ChoicesValue("BMW")))
	assert.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q2", schema.TextValue("handling")))
	assert.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q3", schema.NumberValue(2)))

	tests := []struct {
		name       string
		questionID string
		value      schema.AnswerValue
	}{
		{"text for choice", "q1", schema.TextValue("BMW")},
		{"two choices for single", "q1", schema.ChoicesValue("BMW", "AUDI")},
		{"unknown option", "q1", schema.ChoicesValue("TESLA")},
		{"number for text", "q2", schema.NumberValue(1)},
		{"bool for number", "q3", schema.BoolValue(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.RecordAnswer(ctx, sess.ID, tt.questionID, tt.value)
			require.Error(t, err)
			var ce *schema.CanvassError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, schema.ErrCodeValidation, ce.Code)
		})
	}
}

func TestRecordAnswer_ReplacesPrevious(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	require.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q1", schema.ChoicesValue("BMW")))
	require.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q1", schema.ChoicesValue("AUDI")))

	answers, err := st.ListAnswers(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, []string{"AUDI"}, answers[0].Value.Choices)
}

func TestAdvance_SequentialThenJump(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	// q1 -> q2 -> q3 sequentially.
	require.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q1", schema.ChoicesValue("BMW")))
	pos, err := svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "q2", pos.QuestionID)

	require.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q2", schema.TextValue("handling")))
	pos, err = svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "q3", pos.QuestionID)

	// Q1 = BMW, so the priority-0 jump fires: q3 -> q5, skipping q4.
	require.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q3", schema.NumberValue(2)))
	pos, err = svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "q5", pos.QuestionID)
	assert.Equal(t, "p2", pos.PageID)

	events, err := st.ListSessionEvents(ctx, sess.ID)
	require.NoError(t, err)
	var jumpEvents int
	for _, e := range events {
		if e.Type == schema.EventJumpTaken {
			jumpEvents++
		}
	}
	assert.Equal(t, 1, jumpEvents)
}

func TestAdvance_UnconditionalFallbackJump(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	// Q1 = AUDI: the conditional jump does not match, the priority-1
	// unconditional jump sends q3 -> q4.
	require.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q1", schema.ChoicesValue("AUDI")))
	q3 := "q3"
	p1 := "p1"
	require.NoError(t, st.UpdateSession(ctx, sess.ID, store.SessionUpdate{
		CurrentQuestionID: &q3, CurrentPageID: &p1,
	}))

	pos, err := svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "q4", pos.QuestionID)
}

func TestAdvance_ToTerminalCompletesSession(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	q5 := "q5"
	p2 := "p2"
	require.NoError(t, st.UpdateSession(ctx, sess.ID, store.SessionUpdate{
		CurrentQuestionID: &q5, CurrentPageID: &p2,
	}))

	pos, err := svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.Terminal, pos.Kind)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.SessionCompleted, got.Status)

	// A completed session cannot advance again.
	_, err = svc.Advance(ctx, sess.ID)
	require.Error(t, err)
	var ce *schema.CanvassError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schema.ErrCodeInvalidTransition, ce.Code)
}

func TestResolveNext_DoesNotMoveSession(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	pos, err := svc.ResolveNext(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "q2", pos.QuestionID)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "q1", got.CurrentQuestionID)
}

func TestEvaluateExpression(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	// Unanswered: fail closed.
	matched, err := svc.EvaluateExpression(ctx, sess.ID, "e1")
	require.NoError(t, err)
	assert.False(t, matched)

	require.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q1", schema.ChoicesValue("BMW")))
	matched, err = svc.EvaluateExpression(ctx, sess.ID, "e1")
	require.NoError(t, err)
	assert.True(t, matched)

	_, err = svc.EvaluateExpression(ctx, sess.ID, "missing")
	assert.True(t, schema.IsNotFound(err))
}

func TestQuestionOrder_Sequential(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	order, err := svc.QuestionOrder(ctx, sess.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2", "q3"}, order)

	_, err = svc.QuestionOrder(ctx, sess.ID, "nope")
	assert.True(t, schema.IsNotFound(err))
}

func TestOptionOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	order, err := svc.OptionOrder(ctx, sess.ID, "q1", "options")
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2"}, order)

	_, err = svc.OptionOrder(ctx, sess.ID, "q1", "bogus")
	require.Error(t, err)
}

func TestRenderPrompt_PipesAnswer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	require.NoError(t, svc.RecordAnswer(ctx, sess.ID, "q1", schema.ChoicesValue("BMW")))
	prompt, err := svc.RenderPrompt(ctx, sess.ID, "q2")
	require.NoError(t, err)
	assert.Equal(t, "Why a BMW?", prompt)
}

func TestSessionLifecycleTransitions(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess := startSession(t, svc)

	require.NoError(t, svc.AbandonSession(ctx, sess.ID))
	got, _ := st.GetSession(ctx, sess.ID)
	assert.Equal(t, schema.SessionAbandoned, got.Status)

	// Abandoned sessions cannot answer.
	err := svc.RecordAnswer(ctx, sess.ID, "q1", schema.ChoicesValue("BMW"))
	require.Error(t, err)

	require.NoError(t, svc.ResumeSession(ctx, sess.ID))
	got, _ = st.GetSession(ctx, sess.ID)
	assert.Equal(t, schema.SessionActive, got.Status)

	require.NoError(t, svc.ExpireSession(ctx, sess.ID))
	got, _ = st.GetSession(ctx, sess.ID)
	assert.Equal(t, schema.SessionExpired, got.Status)

	// Expired is terminal.
	err = svc.ResumeSession(ctx, sess.ID)
	require.Error(t, err)
}
