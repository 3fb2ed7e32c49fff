package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvass/canvass/internal/dsl"
	"github.com/canvass/canvass/internal/nav"
	"github.com/canvass/canvass/pkg/schema"
)

// memAppender collects emitted events.
type memAppender struct {
	events []*schema.SessionEvent
}

func (a *memAppender) AppendSessionEvent(_ context.Context, e *schema.SessionEvent) error {
	a.events = append(a.events, e)
	return nil
}

func TestSessionFSM_ValidTransition(t *testing.T) {
	appender := &memAppender{}
	fsm := NewSessionFSM(appender)

	err := fsm.Transition(context.Background(), "sess-1", schema.SessionActive, schema.SessionCompleted)
	require.NoError(t, err)
	require.Len(t, appender.events, 1)
	assert.Equal(t, schema.EventSessionCompleted, appender.events[0].Type)
	assert.Equal(t, "sess-1", appender.events[0].SessionID)
}

func TestSessionFSM_InvalidTransition(t *testing.T) {
	fsm := NewSessionFSM(&memAppender{})

	err := fsm.Transition(context.Background(), "sess-1", schema.SessionCompleted, schema.SessionActive)
	require.Error(t, err)
	var ce *schema.CanvassError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schema.ErrCodeInvalidTransition, ce.Code)
}

func TestSessionFSM_ResumeEmitsResumed(t *testing.T) {
	appender := &memAppender{}
	fsm := NewSessionFSM(appender)

	err := fsm.Transition(context.Background(), "sess-1", schema.SessionAbandoned, schema.SessionActive)
	require.NoError(t, err)
	require.Len(t, appender.events, 1)
	assert.Equal(t, schema.EventSessionResumed, appender.events[0].Type)
}

func TestSessionFSM_Hooks(t *testing.T) {
	appender := &memAppender{}
	fsm := NewSessionFSM(appender)

	var calls []string
	fsm.OnBefore(schema.SessionActive, schema.SessionAbandoned, func(from, to schema.SessionStatus) error {
		calls = append(calls, "before")
		return nil
	})
	fsm.OnAfter(schema.SessionActive, schema.SessionAbandoned, func(from, to schema.SessionStatus) error {
		calls = append(calls, "after")
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), "sess-1", schema.SessionActive, schema.SessionAbandoned))
	assert.Equal(t, []string{"before", "after"}, calls)
}

func TestSessionFSM_BeforeHookBlocksTransition(t *testing.T) {
	appender := &memAppender{}
	fsm := NewSessionFSM(appender)

	fsm.OnBefore(schema.SessionActive, schema.SessionCompleted, func(from, to schema.SessionStatus) error {
		return schema.NewError(schema.ErrCodeValidation, "required questions unanswered")
	})

	err := fsm.Transition(context.Background(), "sess-1", schema.SessionActive, schema.SessionCompleted)
	require.Error(t, err)
	assert.Empty(t, appender.events)
}

// --- Walker ---

// emptyPagesGraph builds a survey of n pages with no questions, so every
// hop lands on another page position.
func emptyPagesGraph(n int) *nav.Graph {
	pages := make([]schema.Page, n)
	for i := range pages {
		pages[i] = schema.Page{ID: string(rune('a' + i)), SurveyID: "sv", Index: i}
	}
	return nav.NewGraph("sv", pages, nil, nil, nil)
}

func TestWalker_SkipsEmptyPagesToTerminal(t *testing.T) {
	g := emptyPagesGraph(5)
	w := NewWalker(nav.NewResolver(g, dsl.NewEvaluator(nil), nil, nil), 0)

	pos, err := w.Advance(context.Background(), "sess-1", schema.PagePosition("a"), schema.AnswerSet{})
	require.NoError(t, err)
	assert.Equal(t, schema.Terminal, pos.Kind)
}

func TestWalker_HopLimit(t *testing.T) {
	g := emptyPagesGraph(10)
	w := NewWalker(nav.NewResolver(g, dsl.NewEvaluator(nil), nil, nil), 3)

	_, err := w.Advance(context.Background(), "sess-1", schema.PagePosition("a"), schema.AnswerSet{})
	require.Error(t, err)
	var ce *schema.CanvassError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schema.ErrCodeHopLimit, ce.Code)
}

func TestWalker_StopsAtQuestion(t *testing.T) {
	pages := []schema.Page{
		{ID: "p1", SurveyID: "sv", Index: 0},
		{ID: "p2", SurveyID: "sv", Index: 1},
	}
	questions := []schema.Question{
		{ID: "q1", SurveyID: "sv", PageID: "p2", Index: 0, Type: schema.QuestionText, VariableName: "Q1"},
	}
	g := nav.NewGraph("sv", pages, questions, nil, nil)
	w := NewWalker(nav.NewResolver(g, dsl.NewEvaluator(nil), nil, nil), 0)

	pos, err := w.Advance(context.Background(), "sess-1", schema.PagePosition("p1"), schema.AnswerSet{})
	require.NoError(t, err)
	assert.Equal(t, schema.AtQuestion, pos.Kind)
	assert.Equal(t, "q1", pos.QuestionID)
}
