package schema

// SurveyDefinition is the authoring import document. References between
// parts use author-visible handles: questions by variable name, pages by
// their zero-based position in the pages array, expressions by key.
type SurveyDefinition struct {
	Title       string                 `json:"title"`
	Pages       []PageDefinition       `json:"pages"`
	Expressions []ExpressionDefinition `json:"expressions,omitempty"`
	Jumps       []JumpDefinition       `json:"jumps,omitempty"`
}

// PageDefinition declares one page and its questions in display order.
type PageDefinition struct {
	QuestionOrderMode OrderMode            `json:"question_order_mode,omitempty"`
	GroupOrderMode    OrderMode            `json:"group_order_mode,omitempty"`
	Questions         []QuestionDefinition `json:"questions"`
}

// QuestionDefinition declares one question.
type QuestionDefinition struct {
	VariableName string             `json:"variable_name"`
	Type         QuestionType       `json:"type"`
	Prompt       string             `json:"prompt"`
	Options      []OptionDefinition `json:"options,omitempty"`
	Items        []OptionDefinition `json:"items,omitempty"`
	Scales       []OptionDefinition `json:"scales,omitempty"`
}

// OptionDefinition declares one option, item or scale.
type OptionDefinition struct {
	Value    string  `json:"value"`
	Label    string  `json:"label"`
	Weight   float64 `json:"weight,omitempty"`
	GroupKey string  `json:"group_key,omitempty"`
}

// ExpressionDefinition declares a named condition expression.
type ExpressionDefinition struct {
	Key         string `json:"key"`
	DSL         string `json:"dsl"`
	Description string `json:"description,omitempty"`
}

// JumpDefinition declares a branching rule. Exactly one of FromQuestion /
// FromPage and exactly one of ToQuestion / ToPage must be set. Page
// references are zero-based indexes into the pages array; question
// references are variable names; Condition is an expression key.
type JumpDefinition struct {
	FromQuestion string `json:"from_question,omitempty"`
	FromPage     *int   `json:"from_page,omitempty"`
	ToQuestion   string `json:"to_question,omitempty"`
	ToPage       *int   `json:"to_page,omitempty"`
	Condition    string `json:"condition,omitempty"`
	Priority     int    `json:"priority"`
}
