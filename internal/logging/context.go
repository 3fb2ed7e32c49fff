// Package logging carries correlation IDs through context so every log
// record can be tied back to a survey, session and question.
package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	surveyIDKey ctxKey = iota
	sessionIDKey
	questionIDKey
)

// WithSurveyID returns a context with the survey ID set.
func WithSurveyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, surveyIDKey, id)
}

// WithSessionID returns a context with the session ID set.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithQuestionID returns a context with the question ID set.
func WithQuestionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, questionIDKey, id)
}

// SurveyID extracts the survey ID from the context, or "" if absent.
func SurveyID(ctx context.Context) string {
	v, _ := ctx.Value(surveyIDKey).(string)
	return v
}

// SessionID extracts the session ID from the context, or "" if absent.
func SessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// QuestionID extracts the question ID from the context, or "" if absent.
func QuestionID(ctx context.Context) string {
	v, _ := ctx.Value(questionIDKey).(string)
	return v
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := SurveyID(ctx); id != "" {
		logger = logger.With(slog.String("survey_id", id))
	}
	if id := SessionID(ctx); id != "" {
		logger = logger.With(slog.String("session_id", id))
	}
	if id := QuestionID(ctx); id != "" {
		logger = logger.With(slog.String("question_id", id))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := SurveyID(ctx); v != "" {
		r.AddAttrs(slog.String("survey_id", v))
	}
	if v := SessionID(ctx); v != "" {
		r.AddAttrs(slog.String("session_id", v))
	}
	if v := QuestionID(ctx); v != "" {
		r.AddAttrs(slog.String("question_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
