// Package authoring turns survey definition documents into stored survey
// structure. Definitions reference parts by author-visible handles
// (variable names, page indexes, expression keys); import resolves them
// to stored IDs.
package authoring

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/canvass/canvass/internal/logging"
	"github.com/canvass/canvass/internal/store"
	"github.com/canvass/canvass/internal/validation"
	"github.com/canvass/canvass/pkg/schema"
)

// Importer validates and persists survey definitions.
type Importer struct {
	store     store.Store
	validator validation.Validator
	logger    *slog.Logger
}

// NewImporter creates an Importer. logger may be nil.
func NewImporter(st store.Store, validator validation.Validator, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: st, validator: validator, logger: logger}
}

// Import validates the definition and creates the survey with all its
// pages, questions, expressions and jumps. Validation warnings are
// logged and returned; errors abort before anything is written.
func (imp *Importer) Import(ctx context.Context, def *schema.SurveyDefinition) (*schema.Survey, *schema.ValidationResult, error) {
	result := imp.validator.ValidateDefinition(def)
	if !result.Valid() {
		return nil, result, result.ToError()
	}
	for _, w := range result.Warnings {
		imp.logger.WarnContext(ctx, "definition warning",
			slog.String("path", w.Path),
			slog.String("message", w.Message))
	}

	survey := &schema.Survey{ID: uuid.New().String(), Title: def.Title}
	if err := imp.store.CreateSurvey(ctx, survey); err != nil {
		return nil, result, err
	}
	ctx = logging.WithSurveyID(ctx, survey.ID)

	questionIDs, pageIDs, err := imp.createStructure(ctx, survey.ID, def)
	if err != nil {
		return nil, result, imp.rollback(ctx, survey.ID, err)
	}

	expressionIDs := make(map[string]string, len(def.Expressions))
	for _, e := range def.Expressions {
		expr := &schema.Expression{
			ID:          uuid.New().String(),
			SurveyID:    survey.ID,
			DSL:         e.DSL,
			Description: e.Description,
		}
		if err := imp.store.CreateExpression(ctx, expr); err != nil {
			return nil, result, imp.rollback(ctx, survey.ID, err)
		}
		expressionIDs[e.Key] = expr.ID
	}

	// Jumps are created in document order so creation order (the
	// priority tiebreak) matches the author's intent.
	for _, j := range def.Jumps {
		jump := &schema.Jump{
			ID:       uuid.New().String(),
			SurveyID: survey.ID,
			Priority: j.Priority,
		}
		if j.FromQuestion != "" {
			jump.FromQuestionID = questionIDs[j.FromQuestion]
		} else if j.FromPage != nil {
			jump.FromPageID = pageIDs[*j.FromPage]
		}
		if j.ToQuestion != "" {
			jump.ToQuestionID = questionIDs[j.ToQuestion]
		} else if j.ToPage != nil {
			jump.ToPageID = pageIDs[*j.ToPage]
		}
		if j.Condition != "" {
			jump.ConditionExpressionID = expressionIDs[j.Condition]
		}
		if err := imp.store.CreateJump(ctx, jump); err != nil {
			return nil, result, imp.rollback(ctx, survey.ID, err)
		}
	}

	imp.logger.InfoContext(ctx, "survey imported",
		slog.String("title", def.Title),
		slog.Int("pages", len(def.Pages)),
		slog.Int("jumps", len(def.Jumps)))
	return survey, result, nil
}

// createStructure persists pages and questions, returning the handle
// maps used to resolve jump references.
func (imp *Importer) createStructure(ctx context.Context, surveyID string, def *schema.SurveyDefinition) (map[string]string, map[int]string, error) {
	questionIDs := make(map[string]string)
	pageIDs := make(map[int]string, len(def.Pages))

	for pi, p := range def.Pages {
		page := &schema.Page{
			ID:                uuid.New().String(),
			SurveyID:          surveyID,
			Index:             pi,
			QuestionOrderMode: modeOrSequential(p.QuestionOrderMode),
			GroupOrderMode:    modeOrSequential(p.GroupOrderMode),
		}
		if err := imp.store.CreatePage(ctx, page); err != nil {
			return nil, nil, err
		}
		pageIDs[pi] = page.ID

		for qi, q := range p.Questions {
			question := &schema.Question{
				ID:           uuid.New().String(),
				SurveyID:     surveyID,
				PageID:       page.ID,
				Index:        qi,
				Type:         q.Type,
				VariableName: q.VariableName,
				Prompt:       q.Prompt,
				Options:      buildOptions(q.Options),
				Items:        buildOptions(q.Items),
				Scales:       buildOptions(q.Scales),
			}
			if err := imp.store.CreateQuestion(ctx, question); err != nil {
				return nil, nil, err
			}
			questionIDs[q.VariableName] = question.ID
		}
	}
	return questionIDs, pageIDs, nil
}

// rollback removes the partially created survey. Cascading deletes clean
// up its children.
func (imp *Importer) rollback(ctx context.Context, surveyID string, cause error) error {
	if err := imp.store.DeleteSurvey(ctx, surveyID); err != nil {
		imp.logger.ErrorContext(ctx, "failed to roll back partial import",
			slog.String("error", err.Error()))
	}
	return cause
}

func buildOptions(defs []schema.OptionDefinition) []schema.Option {
	if len(defs) == 0 {
		return nil
	}
	out := make([]schema.Option, len(defs))
	for i, d := range defs {
		label := d.Label
		if label == "" {
			label = d.Value
		}
		out[i] = schema.Option{
			ID:       uuid.New().String(),
			Value:    d.Value,
			Label:    label,
			Weight:   d.Weight,
			GroupKey: d.GroupKey,
		}
	}
	return out
}

func modeOrSequential(m schema.OrderMode) schema.OrderMode {
	if m == "" {
		return schema.OrderSequential
	}
	return m
}
