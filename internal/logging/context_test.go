package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithSurveyID(ctx, "sv-1")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithQuestionID(ctx, "q-1")

	assert.Equal(t, "sv-1", SurveyID(ctx))
	assert.Equal(t, "sess-1", SessionID(ctx))
	assert.Equal(t, "q-1", QuestionID(ctx))
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, SurveyID(ctx))
	assert.Empty(t, SessionID(ctx))
	assert.Empty(t, QuestionID(ctx))
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithSessionID(WithSurveyID(context.Background(), "sv-1"), "sess-1")
	logger.InfoContext(ctx, "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "sv-1", record["survey_id"])
	assert.Equal(t, "sess-1", record["session_id"])
	_, hasQuestion := record["question_id"]
	assert.False(t, hasQuestion)
}

func TestLogWith_OnlyNonEmpty(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithQuestionID(context.Background(), "q-9")
	LogWith(ctx, base).Info("check")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "q-9", record["question_id"])
	_, hasSession := record["session_id"]
	assert.False(t, hasSession)
}
