package dsl

import (
	"log/slog"
	"sync"

	"github.com/canvass/canvass/pkg/schema"
)

// Eval evaluates the expression against an answer set. Evaluation never
// fails: a referenced question with no answer makes its comparison false
// (fail-closed), and an expression with zero comparisons is true.
func (e *Expression) Eval(answers schema.AnswerSet) bool {
	if len(e.Comparisons) == 0 {
		return true
	}

	switch e.Comb {
	case CombOr:
		for i := range e.Comparisons {
			if e.Comparisons[i].eval(answers) {
				return true
			}
		}
		return false
	default:
		// AND, and the single-comparison case.
		for i := range e.Comparisons {
			if !e.Comparisons[i].eval(answers) {
				return false
			}
		}
		return true
	}
}

func (c *Comparison) eval(answers schema.AnswerSet) bool {
	ans, ok := answers[c.Variable]
	if !ok {
		// Unanswered: the positive form is false, so the negated form
		// is true (not_equals of a missing answer holds).
		return c.Negated
	}

	var match bool
	switch c.Kind {
	case CmpEquals:
		s, has := ans.Scalar()
		match = has && s == c.Value
	case CmpAnySelected:
		match = intersects(ans.Selected(), c.Values)
	case CmpAllSelected:
		match = containsAll(ans.Selected(), c.Values)
	}
	if c.Negated {
		return !match
	}
	return match
}

func intersects(selected, values []string) bool {
	for _, v := range values {
		for _, s := range selected {
			if s == v {
				return true
			}
		}
	}
	return false
}

func containsAll(selected, values []string) bool {
	for _, v := range values {
		found := false
		for _, s := range selected {
			if s == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Evaluator compiles DSL sources into Expressions and evaluates them.
// Compiled expressions are cached and reused across goroutines.
type Evaluator struct {
	mu     sync.RWMutex
	cache  map[string]*Expression
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator. The logger records the (should-not-
// occur) case of a stored expression that fails to compile.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		cache:  make(map[string]*Expression),
		logger: logger,
	}
}

// Compile parses source text, returning the cached Expression when the
// same source was compiled before.
func (e *Evaluator) Compile(src string) (*Expression, error) {
	e.mu.RLock()
	if expr, ok := e.cache[src]; ok {
		e.mu.RUnlock()
		return expr, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if expr, ok := e.cache[src]; ok {
		return expr, nil
	}

	expr, err := Parse(src)
	if err != nil {
		return nil, err
	}
	e.cache[src] = expr
	return expr, nil
}

// Evaluate compiles src and evaluates it against answers. It never
// returns an error: malformed DSL is rejected at authoring time, so a
// compile failure here means corrupted storage; it is logged and treated
// as false.
func (e *Evaluator) Evaluate(src string, answers schema.AnswerSet) bool {
	expr, err := e.Compile(src)
	if err != nil {
		e.logger.Error("stored expression failed to compile",
			slog.String("dsl", src),
			slog.String("error", err.Error()))
		return false
	}
	return expr.Eval(answers)
}
