package authoring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvass/canvass/internal/store"
	"github.com/canvass/canvass/internal/validation"
	"github.com/canvass/canvass/pkg/schema"
)

func newTestImporter(t *testing.T) (*Importer, *store.LibSQLStore) {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	v, err := validation.NewSurveyValidator()
	require.NoError(t, err)
	return NewImporter(st, v, nil), st
}

func intPtr(i int) *int { return &i }

func carSurveyDefinition() *schema.SurveyDefinition {
	return &schema.SurveyDefinition{
		Title: "Car survey",
		Pages: []schema.PageDefinition{
			{
				QuestionOrderMode: schema.OrderRandom,
				Questions: []schema.QuestionDefinition{
					{
						VariableName: "Q1",
						Type:         schema.QuestionSingleChoice,
						Prompt:       "Which brand?",
						Options: []schema.OptionDefinition{
							{Value: "BMW"},
							{Value: "AUDI", Label: "Audi", Weight: 2},
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
			{FromQuestion: "Q1", ToPage: intPtr(1), Priority: 1},
		},
	}
}

func TestImport_CreatesFullStructure(t *testing.T) {
	imp, st := newTestImporter(t)
	ctx := context.Background()

	survey, result, err := imp.Import(ctx, carSurveyDefinition())
	require.NoError(t, err)
	assert.True(t, result.Valid())
	require.NotNil(t, survey)

	pages, err := st.ListPages(ctx, survey.ID)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, schema.OrderRandom, pages[0].QuestionOrderMode)
	assert.Equal(t, schema.OrderSequential, pages[1].QuestionOrderMode)

	questions, err := st.ListQuestions(ctx, survey.ID)
	require.NoError(t, err)
	require.Len(t, questions, 3)

	byVar := make(map[string]*schema.Question)
	for _, q := range questions {
		byVar[q.VariableName] = q
	}
	require.Contains(t, byVar, "Q1")
	require.Len(t, byVar["Q1"].Options, 2)
	// Label defaults to the value when the author omits it.
	assert.Equal(t, "BMW", byVar["Q1"].Options[0].Label)
	assert.Equal(t, "Audi", byVar["Q1"].Options[1].Label)
	assert.Equal(t, 2.0, byVar["Q1"].Options[1].Weight)

	jumps, err := st.ListJumps(ctx, survey.ID)
	require.NoError(t, err)
	require.Len(t, jumps, 2)
	assert.Equal(t, byVar["Q1"].ID, jumps[0].FromQuestionID)
	assert.Equal(t, byVar["Q3"].ID, jumps[0].ToQuestionID)
	assert.NotEmpty(t, jumps[0].ConditionExpressionID)
	assert.Equal(t, pages[1].ID, jumps[1].ToPageID)
	assert.Empty(t, jumps[1].ConditionExpressionID)

	expr, err := st.GetExpression(ctx, jumps[0].ConditionExpressionID)
	require.NoError(t, err)
	assert.Equal(t, "equals(answer('Q1'), 'BMW')", expr.DSL)
}

func TestImport_InvalidDefinitionWritesNothing(t *testing.T) {
	imp, _ := newTestImporter(t)

	def := carSurveyDefinition()
	def.Jumps[0].Condition = "missing_key"

	survey, result, err := imp.Import(context.Background(), def)
	require.Error(t, err)
	assert.Nil(t, survey)
	assert.False(t, result.Valid())
}

func TestImport_JumpCreationOrderPreserved(t *testing.T) {
	imp, st := newTestImporter(t)
	ctx := context.Background()

	def := carSurveyDefinition()
	// Two jumps at the same priority: document order must decide.
	def.Jumps = []schema.JumpDefinition{
		{FromQuestion: "Q2", ToQuestion: "Q3", Priority: 5},
		{FromQuestion: "Q2", ToPage: intPtr(1), Priority: 5},
	}

	survey, _, err := imp.Import(ctx, def)
	require.NoError(t, err)

	jumps, err := st.ListJumps(ctx, survey.ID)
	require.NoError(t, err)
	require.Len(t, jumps, 2)
	assert.NotEmpty(t, jumps[0].ToQuestionID)
	assert.NotEmpty(t, jumps[1].ToPageID)
	assert.Less(t, jumps[0].Seq, jumps[1].Seq)
}
