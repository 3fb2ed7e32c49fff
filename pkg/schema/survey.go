package schema

import "time"

// OrderMode controls how questions on a page, or options within a question,
// are ordered for a respondent.
type OrderMode string

const (
	OrderSequential  OrderMode = "SEQUENTIAL"
	OrderRandom      OrderMode = "RANDOM"
	OrderGroupRandom OrderMode = "GROUP_RANDOM"
	OrderWeighted    OrderMode = "WEIGHTED"
)

// ValidOrderMode reports whether m is one of the four defined modes.
func ValidOrderMode(m OrderMode) bool {
	switch m {
	case OrderSequential, OrderRandom, OrderGroupRandom, OrderWeighted:
		return true
	}
	return false
}

// QuestionType is the declared answer shape of a question.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionText         QuestionType = "text"
	QuestionNumber       QuestionType = "number"
	QuestionBoolean      QuestionType = "boolean"
	QuestionDate         QuestionType = "date"
	QuestionMatrix       QuestionType = "matrix"
)

// Survey is the root authoring entity.
type Survey struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page groups questions and carries the ordering policy for them.
type Page struct {
	ID                string    `json:"id"`
	SurveyID          string    `json:"survey_id"`
	Index             int       `json:"index"`
	QuestionOrderMode OrderMode `json:"question_order_mode"`
	GroupOrderMode    OrderMode `json:"group_order_mode"`
}

// Option is an orderable leaf under a question. The same shape serves
// options (choice questions) and items/scales (matrix rows/columns).
type Option struct {
	ID       string  `json:"id"`
	Value    string  `json:"value"`
	Label    string  `json:"label"`
	Weight   float64 `json:"weight,omitempty"`
	GroupKey string  `json:"group_key,omitempty"`
}

// Question is a single survey question. VariableName is the stable,
// author-visible handle (e.g. "Q3") used inside condition expressions.
type Question struct {
	ID           string       `json:"id"`
	SurveyID     string       `json:"survey_id"`
	PageID       string       `json:"page_id"`
	Index        int          `json:"index"`
	Type         QuestionType `json:"type"`
	VariableName string       `json:"variable_name"`
	Prompt       string       `json:"prompt"`
	Options      []Option     `json:"options,omitempty"`
	Items        []Option     `json:"items,omitempty"`
	Scales       []Option     `json:"scales,omitempty"`
}

// Expression is an immutable authored condition. DSL is the plain-text
// storage format; it is validated at creation and never mutated once
// referenced by a jump.
type Expression struct {
	ID          string `json:"id"`
	SurveyID    string `json:"survey_id"`
	DSL         string `json:"dsl"`
	Description string `json:"description,omitempty"`
}

// Jump is an authored branching rule. Exactly one of FromQuestionID /
// FromPageID is set (question jump vs page jump), and exactly one of
// ToQuestionID / ToPageID. Lower Priority wins; ties are broken by Seq,
// the store-assigned creation order.
type Jump struct {
	ID                    string `json:"id"`
	SurveyID              string `json:"survey_id"`
	FromQuestionID        string `json:"from_question_id,omitempty"`
	FromPageID            string `json:"from_page_id,omitempty"`
	ToQuestionID          string `json:"to_question_id,omitempty"`
	ToPageID              string `json:"to_page_id,omitempty"`
	ConditionExpressionID string `json:"condition_expression_id,omitempty"`
	Priority              int    `json:"priority"`
	Seq                   int64  `json:"seq"`
}

// PositionKind discriminates a respondent position or jump destination.
type PositionKind string

const (
	AtQuestion PositionKind = "QUESTION"
	AtPage     PositionKind = "PAGE"
	Terminal   PositionKind = "TERMINAL"
)

// Position is a respondent's location in the survey, or the destination
// returned by jump resolution.
type Position struct {
	Kind       PositionKind `json:"kind"`
	QuestionID string       `json:"question_id,omitempty"`
	PageID     string       `json:"page_id,omitempty"`
}

// QuestionPosition returns a position at the given question.
func QuestionPosition(questionID string) Position {
	return Position{Kind: AtQuestion, QuestionID: questionID}
}

// PagePosition returns a position at the given page.
func PagePosition(pageID string) Position {
	return Position{Kind: AtPage, PageID: pageID}
}

// TerminalPosition returns the end-of-survey position.
func TerminalPosition() Position {
	return Position{Kind: Terminal}
}
