package runtime

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/canvass/canvass/internal/dsl"
	"github.com/canvass/canvass/internal/logging"
	"github.com/canvass/canvass/internal/nav"
	"github.com/canvass/canvass/internal/ordering"
	"github.com/canvass/canvass/internal/piping"
	"github.com/canvass/canvass/internal/store"
	"github.com/canvass/canvass/pkg/schema"
)

// Service is the session-facing engine surface: it loads survey graphs,
// evaluates conditions, resolves navigation and drives session state.
type Service struct {
	store   store.Store
	eval    *dsl.Evaluator
	orders  *ordering.Engine
	fsm     *SessionFSM
	interp  *piping.Interpolator
	logger  *slog.Logger
	maxHops int
}

// NewService wires the engine components together. logger may be nil.
func NewService(st store.Store, eval *dsl.Evaluator, orders *ordering.Engine, interp *piping.Interpolator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		eval:    eval,
		orders:  orders,
		fsm:     NewSessionFSM(st),
		interp:  interp,
		logger:  logger,
		maxHops: defaultMaxHops,
	}
}

// StartSession creates a session and advances it to the survey's first
// question. An empty survey completes immediately.
func (s *Service) StartSession(ctx context.Context, surveyID string) (*schema.Session, error) {
	if _, err := s.store.GetSurvey(ctx, surveyID); err != nil {
		return nil, err
	}

	sess := &schema.Session{
		ID:       uuid.New().String(),
		SurveyID: surveyID,
		Status:   schema.SessionActive,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	ctx = logging.WithSessionID(logging.WithSurveyID(ctx, surveyID), sess.ID)

	if err := s.store.AppendSessionEvent(ctx, &schema.SessionEvent{
		SessionID: sess.ID,
		Type:      schema.EventSessionStarted,
	}); err != nil {
		return nil, err
	}

	g, err := s.loadGraph(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	pos := schema.TerminalPosition()
	if pages := g.Pages(); len(pages) > 0 {
		walker := NewWalker(s.newResolver(g), s.maxHops)
		pos, err = walker.Advance(ctx, sess.ID, schema.PagePosition(pages[0].ID), schema.AnswerSet{})
		if err != nil {
			return nil, err
		}
	}

	if err := s.persistPosition(ctx, sess, pos); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "session started",
		slog.String("position", string(pos.Kind)))
	return sess, nil
}

// GetSession returns a session by ID.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*schema.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// RecordAnswer validates the answer against the question's declared type
// and stores it. Re-answering a question replaces the previous value.
func (s *Service) RecordAnswer(ctx context.Context, sessionID, questionID string, value schema.AnswerValue) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != schema.SessionActive {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot answer in %s session", string(sess.Status))
	}

	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if q.SurveyID != sess.SurveyID {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"question %q does not belong to survey %q", questionID, sess.SurveyID)
	}
	if err := checkAnswerValue(q, value); err != nil {
		return err
	}

	if err := s.store.UpsertAnswer(ctx, &schema.Answer{
		SessionID:  sessionID,
		QuestionID: questionID,
		Value:      value,
	}); err != nil {
		return err
	}
	if err := s.store.UpdateSession(ctx, sessionID, store.SessionUpdate{TouchLastSeen: true}); err != nil {
		return err
	}
	return s.store.AppendSessionEvent(ctx, &schema.SessionEvent{
		SessionID:  sessionID,
		Type:       schema.EventAnswerRecorded,
		QuestionID: questionID,
	})
}

// Advance moves the session from its current position to the next
// question (or the end of the survey) and persists the new position.
// Reaching TERMINAL completes the session.
func (s *Service) Advance(ctx context.Context, sessionID string) (schema.Position, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return schema.Position{}, err
	}
	if sess.Status != schema.SessionActive {
		return schema.Position{}, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot advance %s session", string(sess.Status))
	}
	ctx = logging.WithSessionID(logging.WithSurveyID(ctx, sess.SurveyID), sess.ID)

	g, err := s.loadGraph(ctx, sess.SurveyID)
	if err != nil {
		return schema.Position{}, err
	}
	answers, err := s.answerSet(ctx, g, sessionID)
	if err != nil {
		return schema.Position{}, err
	}

	resolver := s.newResolver(g)
	pos := currentPosition(sess, g)

	jump := resolver.MatchedJump(pos, answers)

	walker := NewWalker(resolver, s.maxHops)
	next, err := walker.Advance(ctx, sessionID, pos, answers)
	if err != nil {
		return schema.Position{}, err
	}

	if jump != nil {
		if err := s.store.AppendSessionEvent(ctx, &schema.SessionEvent{
			SessionID:  sessionID,
			Type:       schema.EventJumpTaken,
			QuestionID: next.QuestionID,
		}); err != nil {
			return schema.Position{}, err
		}
		s.logger.InfoContext(ctx, "jump taken",
			slog.String("jump_id", jump.ID),
			slog.Int("priority", jump.Priority))
	}

	if err := s.persistPosition(ctx, sess, next); err != nil {
		return schema.Position{}, err
	}
	return next, nil
}

// ResolveNext returns the session's next destination without moving it.
// One resolver hop, no persistence.
func (s *Service) ResolveNext(ctx context.Context, sessionID string) (schema.Position, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return schema.Position{}, err
	}
	g, err := s.loadGraph(ctx, sess.SurveyID)
	if err != nil {
		return schema.Position{}, err
	}
	answers, err := s.answerSet(ctx, g, sessionID)
	if err != nil {
		return schema.Position{}, err
	}
	return s.newResolver(g).ResolveNext(ctx, sessionID, currentPosition(sess, g), answers)
}

// EvaluateExpression evaluates a stored expression against the session's
// answers. Expressions that fail to compile evaluate to false.
func (s *Service) EvaluateExpression(ctx context.Context, sessionID, expressionID string) (bool, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	expr, err := s.store.GetExpression(ctx, expressionID)
	if err != nil {
		return false, err
	}
	if expr.SurveyID != sess.SurveyID {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"expression %q does not belong to survey %q", expressionID, sess.SurveyID)
	}

	g, err := s.loadGraph(ctx, sess.SurveyID)
	if err != nil {
		return false, err
	}
	answers, err := s.answerSet(ctx, g, sessionID)
	if err != nil {
		return false, err
	}
	return s.eval.Evaluate(expr.DSL, answers), nil
}

// QuestionOrder returns the session's display order for a page's
// questions, computing and caching it on first view.
func (s *Service) QuestionOrder(ctx context.Context, sessionID, pageID string) ([]string, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	g, err := s.loadGraph(ctx, sess.SurveyID)
	if err != nil {
		return nil, err
	}
	page := g.Page(pageID)
	if page == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "page %q not found", pageID)
	}

	questions := g.PageQuestions(pageID)
	items := make([]ordering.Item, len(questions))
	for i, q := range questions {
		items[i] = ordering.Item{ID: q.ID, GroupKey: string(q.Type)}
	}
	mode := page.QuestionOrderMode
	if mode == "" {
		mode = schema.OrderSequential
	}
	return s.orders.Order(ctx, sessionID, ordering.PageQuestionsKey(pageID), items, mode)
}

// OptionOrder returns the session's display order for a question's
// options, items or scales. Option-level ordering follows the page's
// group order mode.
func (s *Service) OptionOrder(ctx context.Context, sessionID, questionID, set string) ([]string, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	g, err := s.loadGraph(ctx, sess.SurveyID)
	if err != nil {
		return nil, err
	}
	q := g.Question(questionID)
	if q == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "question %q not found", questionID)
	}

	var opts []schema.Option
	var cacheKey string
	switch set {
	case "options":
		opts, cacheKey = q.Options, ordering.QuestionOptionsKey(questionID)
	case "items":
		opts, cacheKey = q.Items, ordering.QuestionItemsKey(questionID)
	case "scales":
		opts, cacheKey = q.Scales, ordering.QuestionScalesKey(questionID)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown option set %q; expected options, items or scales", set)
	}

	items := make([]ordering.Item, len(opts))
	for i, o := range opts {
		items[i] = ordering.Item{ID: o.ID, GroupKey: o.GroupKey, Weight: o.Weight}
	}

	mode := schema.OrderSequential
	if page := g.Page(q.PageID); page != nil && page.GroupOrderMode != "" {
		mode = page.GroupOrderMode
	}
	return s.orders.Order(ctx, sessionID, cacheKey, items, mode)
}

// RenderPrompt returns a question's prompt with piping references
// substituted from the session's answers.
func (s *Service) RenderPrompt(ctx context.Context, sessionID, questionID string) (string, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	g, err := s.loadGraph(ctx, sess.SurveyID)
	if err != nil {
		return "", err
	}
	q := g.Question(questionID)
	if q == nil {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "question %q not found", questionID)
	}
	answers, err := s.answerSet(ctx, g, sessionID)
	if err != nil {
		return "", err
	}
	return s.interp.Resolve(q.Prompt, &piping.Scope{Answers: answers, Session: sess})
}

// AbandonSession marks an active session abandoned.
func (s *Service) AbandonSession(ctx context.Context, sessionID string) error {
	return s.transitionSession(ctx, sessionID, schema.SessionAbandoned)
}

// ResumeSession reactivates an abandoned session.
func (s *Service) ResumeSession(ctx context.Context, sessionID string) error {
	return s.transitionSession(ctx, sessionID, schema.SessionActive)
}

// ExpireSession marks an active session expired. Used by the sweeper.
func (s *Service) ExpireSession(ctx context.Context, sessionID string) error {
	return s.transitionSession(ctx, sessionID, schema.SessionExpired)
}

func (s *Service) transitionSession(ctx context.Context, sessionID string, to schema.SessionStatus) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.fsm.Transition(ctx, sessionID, sess.Status, to); err != nil {
		return err
	}
	return s.store.UpdateSession(ctx, sessionID, store.SessionUpdate{
		Status:        &to,
		TouchLastSeen: to == schema.SessionActive,
	})
}

// --- internals ---

func (s *Service) newResolver(g *nav.Graph) *nav.Resolver {
	return nav.NewResolver(g, s.eval, s.orders, s.logger)
}

// loadGraph builds the indexed survey snapshot from the store.
func (s *Service) loadGraph(ctx context.Context, surveyID string) (*nav.Graph, error) {
	pages, err := s.store.ListPages(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.ListQuestions(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	jumps, err := s.store.ListJumps(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	expressions, err := s.store.ListExpressions(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	return nav.NewGraph(surveyID, deref(pages), deref(questions), deref(jumps), deref(expressions)), nil
}

// answerSet loads the session's answers keyed by variable name.
func (s *Service) answerSet(ctx context.Context, g *nav.Graph, sessionID string) (schema.AnswerSet, error) {
	answers, err := s.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	byQuestion := make(map[string]schema.AnswerValue, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a.Value
	}
	return g.AnswerSet(byQuestion), nil
}

// persistPosition writes the session's new position; TERMINAL completes
// the session through the FSM.
func (s *Service) persistPosition(ctx context.Context, sess *schema.Session, pos schema.Position) error {
	if pos.Kind == schema.Terminal {
		if err := s.fsm.Transition(ctx, sess.ID, sess.Status, schema.SessionCompleted); err != nil {
			return err
		}
		completed := schema.SessionCompleted
		empty := ""
		return s.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{
			Status:            &completed,
			CurrentQuestionID: &empty,
			TouchLastSeen:     true,
		})
	}

	questionID := pos.QuestionID
	pageID := pos.PageID
	return s.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{
		CurrentQuestionID: &questionID,
		CurrentPageID:     &pageID,
		TouchLastSeen:     true,
	})
}

// currentPosition derives the session's position. A fresh session with no
// recorded position starts at the first page.
func currentPosition(sess *schema.Session, g *nav.Graph) schema.Position {
	if sess.CurrentQuestionID != "" {
		return schema.Position{
			Kind:       schema.AtQuestion,
			QuestionID: sess.CurrentQuestionID,
			PageID:     sess.CurrentPageID,
		}
	}
	if sess.CurrentPageID != "" {
		return schema.PagePosition(sess.CurrentPageID)
	}
	if pages := g.Pages(); len(pages) > 0 {
		return schema.PagePosition(pages[0].ID)
	}
	return schema.TerminalPosition()
}

// checkAnswerValue enforces the declared answer shape per question type.
func checkAnswerValue(q *schema.Question, v schema.AnswerValue) error {
	switch q.Type {
	case schema.QuestionSingleChoice:
		if v.Kind != schema.AnswerChoices || len(v.Choices) != 1 {
			return typeMismatch(q, v, "exactly one choice")
		}
		return checkChoices(q, v.Choices)
	case schema.QuestionMultiChoice:
		if v.Kind != schema.AnswerChoices {
			return typeMismatch(q, v, "a choice set")
		}
		return checkChoices(q, v.Choices)
	case schema.QuestionText:
		if v.Kind != schema.AnswerText {
			return typeMismatch(q, v, "text")
		}
	case schema.QuestionNumber:
		if v.Kind != schema.AnswerNumber {
			return typeMismatch(q, v, "a number")
		}
	case schema.QuestionBoolean:
		if v.Kind != schema.AnswerBool {
			return typeMismatch(q, v, "a boolean")
		}
	case schema.QuestionDate:
		if v.Kind != schema.AnswerDate {
			return typeMismatch(q, v, "a date")
		}
	case schema.QuestionMatrix:
		if v.Kind != schema.AnswerJSON {
			return typeMismatch(q, v, "a structured payload")
		}
	default:
		return schema.NewErrorf(schema.ErrCodeValidation,
			"question %q has unknown type %q", q.ID, string(q.Type))
	}
	return nil
}

func checkChoices(q *schema.Question, choices []string) error {
	valid := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		valid[o.Value] = true
	}
	for _, c := range choices {
		if !valid[c] {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"%q is not an option of question %q", c, q.VariableName)
		}
	}
	return nil
}

func typeMismatch(q *schema.Question, v schema.AnswerValue, want string) error {
	return schema.NewErrorf(schema.ErrCodeValidation,
		"question %q (%s) expects %s, got %s answer",
		q.VariableName, string(q.Type), want, string(v.Kind))
}

func deref[T any](in []*T) []T {
	out := make([]T, len(in))
	for i, p := range in {
		out[i] = *p
	}
	return out
}
