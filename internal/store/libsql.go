package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/canvass/canvass/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Surveys ---

func (s *LibSQLStore) CreateSurvey(ctx context.Context, sv *schema.Survey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO surveys (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sv.ID, sv.Title, timeOrNow(sv.CreatedAt), timeOrNow(sv.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetSurvey(ctx context.Context, id string) (*schema.Survey, error) {
	sv := &schema.Survey{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM surveys WHERE id = ?`, id,
	).Scan(&sv.ID, &sv.Title, &sv.CreatedAt, &sv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("survey", id)
	}
	if err != nil {
		return nil, err
	}
	return sv, nil
}

func (s *LibSQLStore) DeleteSurvey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM surveys WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "survey", id)
}

// --- Pages ---

func (s *LibSQLStore) CreatePage(ctx context.Context, p *schema.Page) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pages (id, survey_id, idx, question_order_mode, group_order_mode)
		 VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.SurveyID, p.Index, modeOrSequential(p.QuestionOrderMode), modeOrSequential(p.GroupOrderMode),
	)
	return err
}

func (s *LibSQLStore) ListPages(ctx context.Context, surveyID string) ([]*schema.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, survey_id, idx, question_order_mode, group_order_mode
		 FROM pages WHERE survey_id = ? ORDER BY idx ASC`, surveyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*schema.Page
	for rows.Next() {
		p := &schema.Page{}
		var qMode, gMode string
		if err := rows.Scan(&p.ID, &p.SurveyID, &p.Index, &qMode, &gMode); err != nil {
			return nil, err
		}
		p.QuestionOrderMode = schema.OrderMode(qMode)
		p.GroupOrderMode = schema.OrderMode(gMode)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// --- Questions ---

func (s *LibSQLStore) CreateQuestion(ctx context.Context, q *schema.Question) error {
	options, err := nullableOptions(q.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	items, err := nullableOptions(q.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	scales, err := nullableOptions(q.Scales)
	if err != nil {
		return fmt.Errorf("marshal scales: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO questions (id, survey_id, page_id, idx, type, variable_name, prompt, options, items, scales)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.SurveyID, q.PageID, q.Index, string(q.Type), q.VariableName, q.Prompt, options, items, scales,
	)
	return err
}

func (s *LibSQLStore) GetQuestion(ctx context.Context, id string) (*schema.Question, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, survey_id, page_id, idx, type, variable_name, prompt, options, items, scales
		 FROM questions WHERE id = ?`, id,
	)
	q, err := scanQuestion(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("question", id)
	}
	return q, err
}

func (s *LibSQLStore) ListQuestions(ctx context.Context, surveyID string) ([]*schema.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, survey_id, page_id, idx, type, variable_name, prompt, options, items, scales
		 FROM questions WHERE survey_id = ? ORDER BY idx ASC`, surveyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []*schema.Question
	for rows.Next() {
		q, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func scanQuestion(scan func(...any) error) (*schema.Question, error) {
	q := &schema.Question{}
	var qType string
	var options, items, scales sql.NullString
	if err := scan(&q.ID, &q.SurveyID, &q.PageID, &q.Index, &qType, &q.VariableName, &q.Prompt,
		&options, &items, &scales); err != nil {
		return nil, err
	}
	q.Type = schema.QuestionType(qType)
	var err error
	if q.Options, err = optionsOrNil(options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if q.Items, err = optionsOrNil(items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if q.Scales, err = optionsOrNil(scales); err != nil {
		return nil, fmt.Errorf("unmarshal scales: %w", err)
	}
	return q, nil
}

// --- Expressions ---

func (s *LibSQLStore) CreateExpression(ctx context.Context, e *schema.Expression) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO expressions (id, survey_id, dsl, description) VALUES (?, ?, ?, ?)`,
		e.ID, e.SurveyID, e.DSL, e.Description,
	)
	return err
}

func (s *LibSQLStore) GetExpression(ctx context.Context, id string) (*schema.Expression, error) {
	e := &schema.Expression{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, survey_id, dsl, description FROM expressions WHERE id = ?`, id,
	).Scan(&e.ID, &e.SurveyID, &e.DSL, &e.Description)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("expression", id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *LibSQLStore) ListExpressions(ctx context.Context, surveyID string) ([]*schema.Expression, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, survey_id, dsl, description FROM expressions WHERE survey_id = ?`, surveyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expressions []*schema.Expression
	for rows.Next() {
		e := &schema.Expression{}
		if err := rows.Scan(&e.ID, &e.SurveyID, &e.DSL, &e.Description); err != nil {
			return nil, err
		}
		expressions = append(expressions, e)
	}
	return expressions, rows.Err()
}

// --- Jumps ---

func (s *LibSQLStore) CreateJump(ctx context.Context, j *schema.Jump) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jumps (id, survey_id, from_question_id, from_page_id, to_question_id, to_page_id, condition_expression_id, priority)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.SurveyID, nullStr(j.FromQuestionID), nullStr(j.FromPageID),
		nullStr(j.ToQuestionID), nullStr(j.ToPageID), nullStr(j.ConditionExpressionID), j.Priority,
	)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read jump seq: %w", err)
	}
	j.Seq = seq
	return nil
}

func (s *LibSQLStore) ListJumps(ctx context.Context, surveyID string) ([]*schema.Jump, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, survey_id, from_question_id, from_page_id, to_question_id, to_page_id, condition_expression_id, priority
		 FROM jumps WHERE survey_id = ? ORDER BY priority ASC, seq ASC`, surveyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jumps []*schema.Jump
	for rows.Next() {
		j := &schema.Jump{}
		var fromQ, fromP, toQ, toP, cond sql.NullString
		if err := rows.Scan(&j.Seq, &j.ID, &j.SurveyID, &fromQ, &fromP, &toQ, &toP, &cond, &j.Priority); err != nil {
			return nil, err
		}
		j.FromQuestionID = fromQ.String
		j.FromPageID = fromP.String
		j.ToQuestionID = toQ.String
		j.ToPageID = toP.String
		j.ConditionExpressionID = cond.String
		jumps = append(jumps, j)
	}
	return jumps, rows.Err()
}

// --- Sessions ---

func (s *LibSQLStore) CreateSession(ctx context.Context, sess *schema.Session) error {
	status := sess.Status
	if status == "" {
		status = schema.SessionActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, survey_id, status, current_question_id, current_page_id, created_at, updated_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SurveyID, string(status),
		nullStr(sess.CurrentQuestionID), nullStr(sess.CurrentPageID),
		timeOrNow(sess.CreatedAt), timeOrNow(sess.UpdatedAt), timeOrNow(sess.LastSeenAt),
	)
	return err
}

func (s *LibSQLStore) GetSession(ctx context.Context, id string) (*schema.Session, error) {
	sess := &schema.Session{}
	var status string
	var currentQ, currentP sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, survey_id, status, current_question_id, current_page_id, created_at, updated_at, last_seen_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.SurveyID, &status, &currentQ, &currentP,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, err
	}
	sess.Status = schema.SessionStatus(status)
	sess.CurrentQuestionID = currentQ.String
	sess.CurrentPageID = currentP.String
	return sess, nil
}

func (s *LibSQLStore) UpdateSession(ctx context.Context, id string, update SessionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentQuestionID != nil {
		sets = append(sets, "current_question_id = ?")
		args = append(args, nullStr(*update.CurrentQuestionID))
	}
	if update.CurrentPageID != nil {
		sets = append(sets, "current_page_id = ?")
		args = append(args, nullStr(*update.CurrentPageID))
	}
	if update.TouchLastSeen {
		sets = append(sets, "last_seen_at = CURRENT_TIMESTAMP")
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

func (s *LibSQLStore) ListIdleSessions(ctx context.Context, seenBefore time.Time, limit int) ([]*schema.Session, error) {
	query := `SELECT id, survey_id, status, current_question_id, current_page_id, created_at, updated_at, last_seen_at
		 FROM sessions WHERE status = ? AND last_seen_at < ? ORDER BY last_seen_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, string(schema.SessionActive), seenBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*schema.Session
	for rows.Next() {
		sess := &schema.Session{}
		var status string
		var currentQ, currentP sql.NullString
		if err := rows.Scan(&sess.ID, &sess.SurveyID, &status, &currentQ, &currentP,
			&sess.CreatedAt, &sess.UpdatedAt, &sess.LastSeenAt); err != nil {
			return nil, err
		}
		sess.Status = schema.SessionStatus(status)
		sess.CurrentQuestionID = currentQ.String
		sess.CurrentPageID = currentP.String
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// --- Answers ---

func (s *LibSQLStore) UpsertAnswer(ctx context.Context, a *schema.Answer) error {
	value, err := json.Marshal(a.Value)
	if err != nil {
		return fmt.Errorf("marshal answer value: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO answers (session_id, question_id, value, answered_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, question_id) DO UPDATE SET value=excluded.value, answered_at=excluded.answered_at`,
		a.SessionID, a.QuestionID, string(value), timeOrNow(a.AnsweredAt),
	)
	return err
}

func (s *LibSQLStore) ListAnswers(ctx context.Context, sessionID string) ([]*schema.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, question_id, value, answered_at FROM answers WHERE session_id = ?`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []*schema.Answer
	for rows.Next() {
		a := &schema.Answer{}
		var value string
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &value, &a.AnsweredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(value), &a.Value); err != nil {
			return nil, fmt.Errorf("unmarshal answer value: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// --- Render state ---

func (s *LibSQLStore) GetRenderState(ctx context.Context, sessionID, cacheKey string) (*schema.CachedOrder, error) {
	var orderJSON, mode string
	var computedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT item_order, mode, computed_at FROM render_state WHERE session_id = ? AND cache_key = ?`,
		sessionID, cacheKey,
	).Scan(&orderJSON, &mode, &computedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("render_state", sessionID+"/"+cacheKey)
	}
	if err != nil {
		return nil, err
	}

	order := &schema.CachedOrder{Mode: schema.OrderMode(mode), ComputedAt: computedAt}
	if err := json.Unmarshal([]byte(orderJSON), &order.Order); err != nil {
		return nil, fmt.Errorf("unmarshal render state: %w", err)
	}
	return order, nil
}

// PutRenderStateIfAbsent inserts the order unless one already exists for
// the key, then reads back whichever row won. This is the engine's
// compute-if-absent guarantee: concurrent first views cannot produce two
// different respondent-visible orders.
func (s *LibSQLStore) PutRenderStateIfAbsent(ctx context.Context, sessionID, cacheKey string, order *schema.CachedOrder) (*schema.CachedOrder, error) {
	orderJSON, err := json.Marshal(order.Order)
	if err != nil {
		return nil, fmt.Errorf("marshal render state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO render_state (session_id, cache_key, item_order, mode, computed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, cache_key) DO NOTHING`,
		sessionID, cacheKey, string(orderJSON), string(order.Mode), timeOrNow(order.ComputedAt),
	)
	if err != nil {
		return nil, err
	}
	return s.GetRenderState(ctx, sessionID, cacheKey)
}

// --- Session events ---

func (s *LibSQLStore) AppendSessionEvent(ctx context.Context, e *schema.SessionEvent) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, event_type, question_id, timestamp) VALUES (?, ?, ?, ?)`,
		e.SessionID, e.Type, nullStr(e.QuestionID), timeOrNow(e.Timestamp),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read event id: %w", err)
	}
	e.ID = id
	return nil
}

func (s *LibSQLStore) ListSessionEvents(ctx context.Context, sessionID string) ([]*schema.SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, question_id, timestamp
		 FROM session_events WHERE session_id = ? ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*schema.SessionEvent
	for rows.Next() {
		e := &schema.SessionEvent{}
		var questionID sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &questionID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.QuestionID = questionID.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.CanvassError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func modeOrSequential(m schema.OrderMode) string {
	if m == "" {
		return string(schema.OrderSequential)
	}
	return string(m)
}

func nullableOptions(opts []schema.Option) (any, error) {
	if len(opts) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

var _ Store = (*LibSQLStore)(nil)

func optionsOrNil(ns sql.NullString) ([]schema.Option, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var opts []schema.Option
	if err := json.Unmarshal([]byte(ns.String), &opts); err != nil {
		return nil, err
	}
	return opts, nil
}
