package nav

import (
	"context"
	"log/slog"

	"github.com/canvass/canvass/internal/dsl"
	"github.com/canvass/canvass/internal/ordering"
	"github.com/canvass/canvass/pkg/schema"
)

// OrderProvider supplies per-session display orders. Satisfied by
// ordering.Engine (avoids a concrete coupling in tests).
type OrderProvider interface {
	Order(ctx context.Context, sessionID, cacheKey string, items []ordering.Item, mode schema.OrderMode) ([]string, error)
}

// Resolver decides a respondent's next destination. Each call performs
// exactly one hop: it does not follow jump chains, so cycles in a badly
// authored jump graph surface as repeated calls, never as an internal
// loop. The session runtime bounds re-entrancy.
type Resolver struct {
	graph  *Graph
	eval   *dsl.Evaluator
	orders OrderProvider
	logger *slog.Logger
}

// NewResolver creates a Resolver over one survey graph.
func NewResolver(graph *Graph, eval *dsl.Evaluator, orders OrderProvider, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{graph: graph, eval: eval, orders: orders, logger: logger}
}

// ResolveNext returns the destination for the given position and answer
// state. Candidate jumps are tried in ascending priority order (creation
// order breaks ties); the first match wins. A jump without a condition
// matches unconditionally; a condition that fails to evaluate skips its
// candidate and resolution continues. When no jump matches, sequential
// progression applies: next question on the page (respecting the page's
// cached question order), then the next page by index, then TERMINAL.
func (r *Resolver) ResolveNext(ctx context.Context, sessionID string, pos schema.Position, answers schema.AnswerSet) (schema.Position, error) {
	switch pos.Kind {
	case schema.Terminal:
		return schema.TerminalPosition(), nil
	case schema.AtQuestion:
		if dest, ok, err := r.matchJumps(r.graph.QuestionJumps(pos.QuestionID), answers); ok || err != nil {
			return dest, err
		}
		return r.nextAfterQuestion(ctx, sessionID, pos.QuestionID)
	case schema.AtPage:
		if dest, ok, err := r.matchJumps(r.graph.PageJumps(pos.PageID), answers); ok || err != nil {
			return dest, err
		}
		return r.enterPage(ctx, sessionID, pos.PageID)
	}
	return schema.Position{}, schema.NewErrorf(schema.ErrCodeValidation, "unknown position kind %q", string(pos.Kind))
}

// MatchedJump returns the jump that would fire from pos, or nil when
// sequential progression applies. Used by the session runtime to record
// jump events without a second resolution pass.
func (r *Resolver) MatchedJump(pos schema.Position, answers schema.AnswerSet) *schema.Jump {
	switch pos.Kind {
	case schema.AtQuestion:
		return r.firstMatch(r.graph.QuestionJumps(pos.QuestionID), answers)
	case schema.AtPage:
		return r.firstMatch(r.graph.PageJumps(pos.PageID), answers)
	}
	return nil
}

// matchJumps tries candidates in order and resolves the destination of
// the first match. ok is false when no candidate matched.
func (r *Resolver) matchJumps(jumps []*schema.Jump, answers schema.AnswerSet) (schema.Position, bool, error) {
	j := r.firstMatch(jumps, answers)
	if j == nil {
		return schema.Position{}, false, nil
	}
	dest, err := r.destination(j)
	return dest, true, err
}

func (r *Resolver) firstMatch(jumps []*schema.Jump, answers schema.AnswerSet) *schema.Jump {
	for _, j := range jumps {
		if r.jumpMatches(j, answers) {
			return j
		}
	}
	return nil
}

func (r *Resolver) jumpMatches(j *schema.Jump, answers schema.AnswerSet) bool {
	if j.ConditionExpressionID == "" {
		return true
	}
	expr := r.graph.Expression(j.ConditionExpressionID)
	if expr == nil {
		// Evaluation fault: skip the candidate, never fail resolution.
		r.logger.Error("jump references missing expression",
			slog.String("jump_id", j.ID),
			slog.String("expression_id", j.ConditionExpressionID))
		return false
	}
	return r.eval.Evaluate(expr.DSL, answers)
}

// destination resolves a jump's target. A question destination carries
// its page so the caller's current-page bookkeeping follows cross-page
// jumps.
func (r *Resolver) destination(j *schema.Jump) (schema.Position, error) {
	if j.ToQuestionID != "" {
		q := r.graph.Question(j.ToQuestionID)
		if q == nil {
			return schema.Position{}, schema.NewErrorf(schema.ErrCodeNotFound,
				"jump %q destination question %q not found", j.ID, j.ToQuestionID)
		}
		return schema.Position{Kind: schema.AtQuestion, QuestionID: q.ID, PageID: q.PageID}, nil
	}
	if j.ToPageID != "" {
		p := r.graph.Page(j.ToPageID)
		if p == nil {
			return schema.Position{}, schema.NewErrorf(schema.ErrCodeNotFound,
				"jump %q destination page %q not found", j.ID, j.ToPageID)
		}
		return schema.PagePosition(p.ID), nil
	}
	return schema.Position{}, schema.NewErrorf(schema.ErrCodeValidation,
		"jump %q has no destination", j.ID)
}

// nextAfterQuestion is the sequential fallback from a question: the next
// question in the page's display order, else the next page, else TERMINAL.
func (r *Resolver) nextAfterQuestion(ctx context.Context, sessionID, questionID string) (schema.Position, error) {
	q := r.graph.Question(questionID)
	if q == nil {
		return schema.Position{}, schema.NewErrorf(schema.ErrCodeNotFound, "question %q not found", questionID)
	}

	ordered := r.displayOrder(ctx, sessionID, q.PageID)
	for i, candidate := range ordered {
		if candidate.ID != q.ID {
			continue
		}
		if i+1 < len(ordered) {
			next := ordered[i+1]
			return schema.Position{Kind: schema.AtQuestion, QuestionID: next.ID, PageID: next.PageID}, nil
		}
		break
	}
	return r.pageAfter(q.PageID)
}

// enterPage is the sequential fallback from a page position: its first
// question in display order, else the next page, else TERMINAL.
func (r *Resolver) enterPage(ctx context.Context, sessionID, pageID string) (schema.Position, error) {
	if r.graph.Page(pageID) == nil {
		return schema.Position{}, schema.NewErrorf(schema.ErrCodeNotFound, "page %q not found", pageID)
	}

	ordered := r.displayOrder(ctx, sessionID, pageID)
	if len(ordered) > 0 {
		first := ordered[0]
		return schema.Position{Kind: schema.AtQuestion, QuestionID: first.ID, PageID: first.PageID}, nil
	}
	return r.pageAfter(pageID)
}

func (r *Resolver) pageAfter(pageID string) (schema.Position, error) {
	if next := r.graph.NextPage(pageID); next != nil {
		return schema.PagePosition(next.ID), nil
	}
	return schema.TerminalPosition(), nil
}

// displayOrder returns the page's questions in the order this session
// sees them. Pages in SEQUENTIAL mode use the stored index order
// directly; other modes consult the per-session cached order. Ordering
// faults degrade to index order so a randomization problem never blocks
// navigation.
func (r *Resolver) displayOrder(ctx context.Context, sessionID, pageID string) []*schema.Question {
	byIndex := r.graph.PageQuestions(pageID)
	page := r.graph.Page(pageID)
	if page == nil {
		return byIndex
	}
	mode := page.QuestionOrderMode
	if mode == "" || mode == schema.OrderSequential {
		return byIndex
	}

	items := make([]ordering.Item, len(byIndex))
	for i, q := range byIndex {
		// Question grouping keys off the question type.
		items[i] = ordering.Item{ID: q.ID, GroupKey: string(q.Type)}
	}
	orderedIDs, err := r.orders.Order(ctx, sessionID, ordering.PageQuestionsKey(pageID), items, mode)
	if err != nil {
		r.logger.Warn("question ordering failed; using index order",
			slog.String("page_id", pageID),
			slog.String("error", err.Error()))
		return byIndex
	}

	ordered := make([]*schema.Question, 0, len(byIndex))
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if q := r.graph.Question(id); q != nil && q.PageID == pageID {
			ordered = append(ordered, q)
			seen[id] = true
		}
	}
	// Questions added after the order was cached trail in index order.
	for _, q := range byIndex {
		if !seen[q.ID] {
			ordered = append(ordered, q)
		}
	}
	return ordered
}
