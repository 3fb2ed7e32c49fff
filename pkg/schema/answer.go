package schema

import (
	"encoding/json"
	"strconv"
	"time"
)

// AnswerKind tags the payload variant of an AnswerValue.
type AnswerKind string

const (
	AnswerChoices AnswerKind = "choices"
	AnswerText    AnswerKind = "text"
	AnswerNumber  AnswerKind = "number"
	AnswerBool    AnswerKind = "bool"
	AnswerDate    AnswerKind = "date"
	AnswerJSON    AnswerKind = "json"
)

// AnswerValue is a tagged union of the possible answer payloads. Exactly
// the field matching Kind is meaningful; the others are zero.
type AnswerValue struct {
	Kind    AnswerKind      `json:"kind"`
	Choices []string        `json:"choices,omitempty"`
	Text    string          `json:"text,omitempty"`
	Number  float64         `json:"number,omitempty"`
	Bool    bool            `json:"bool,omitempty"`
	Date    time.Time       `json:"date,omitzero"`
	JSON    json.RawMessage `json:"json,omitempty"`
}

// ChoicesValue builds a choice-set answer.
func ChoicesValue(choices ...string) AnswerValue {
	return AnswerValue{Kind: AnswerChoices, Choices: choices}
}

// TextValue builds a free-text answer.
func TextValue(text string) AnswerValue {
	return AnswerValue{Kind: AnswerText, Text: text}
}

// NumberValue builds a numeric answer.
func NumberValue(n float64) AnswerValue {
	return AnswerValue{Kind: AnswerNumber, Number: n}
}

// BoolValue builds a boolean answer.
func BoolValue(b bool) AnswerValue {
	return AnswerValue{Kind: AnswerBool, Bool: b}
}

// DateValue builds a date answer.
func DateValue(t time.Time) AnswerValue {
	return AnswerValue{Kind: AnswerDate, Date: t}
}

// JSONValue builds a raw JSON answer (matrix and other structured types).
func JSONValue(raw json.RawMessage) AnswerValue {
	return AnswerValue{Kind: AnswerJSON, JSON: raw}
}

// Scalar returns the answer's single comparable value: the first choice
// for choice answers, or the text/number/bool/date payload coerced to a
// string. The second return is false when no scalar exists (empty choice
// set, raw JSON payloads).
func (v AnswerValue) Scalar() (string, bool) {
	switch v.Kind {
	case AnswerChoices:
		if len(v.Choices) == 0 {
			return "", false
		}
		return v.Choices[0], true
	case AnswerText:
		return v.Text, true
	case AnswerNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64), true
	case AnswerBool:
		return strconv.FormatBool(v.Bool), true
	case AnswerDate:
		return v.Date.Format(time.RFC3339), true
	default:
		return "", false
	}
}

// Selected returns the answer's choice set. Scalar kinds yield a singleton
// set so that selection predicates still work against them; JSON yields
// nothing.
func (v AnswerValue) Selected() []string {
	if v.Kind == AnswerChoices {
		return v.Choices
	}
	if s, ok := v.Scalar(); ok {
		return []string{s}
	}
	return nil
}

// Answer is a respondent's stored answer to one question.
type Answer struct {
	SessionID  string      `json:"session_id"`
	QuestionID string      `json:"question_id"`
	Value      AnswerValue `json:"value"`
	AnsweredAt time.Time   `json:"answered_at"`
}

// AnswerSet is the evaluation context for condition expressions: answers
// keyed by the question's variable name.
type AnswerSet map[string]AnswerValue

// SessionStatus is the lifecycle state of a respondent session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
	SessionExpired   SessionStatus = "expired"
)

// ValidSessionTransitions defines the allowed session lifecycle moves.
var ValidSessionTransitions = map[SessionStatus][]SessionStatus{
	SessionActive:    {SessionCompleted, SessionAbandoned, SessionExpired},
	SessionCompleted: {},
	SessionAbandoned: {SessionActive},
	SessionExpired:   {},
}

// Session is one respondent's run through a survey.
type Session struct {
	ID                string        `json:"id"`
	SurveyID          string        `json:"survey_id"`
	Status            SessionStatus `json:"status"`
	CurrentQuestionID string        `json:"current_question_id,omitempty"`
	CurrentPageID     string        `json:"current_page_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	LastSeenAt        time.Time     `json:"last_seen_at"`
}

// CachedOrder is a per-session randomization decision. Once written for a
// cache key it is never recomputed; it records what order the respondent
// actually saw.
type CachedOrder struct {
	Order      []string  `json:"order"`
	Mode       OrderMode `json:"mode"`
	ComputedAt time.Time `json:"computed_at"`
}
